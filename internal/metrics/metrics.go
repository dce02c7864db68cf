package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mrm_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_ticks_total",
			Help: "Control ticks executed, by operator state.",
		},
		[]string{"state"},
	)

	operatorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mrm_operator_state",
			Help: "1 for the current operator state, 0 otherwise.",
		},
		[]string{"state"},
	)

	operateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_operate_requests_total",
			Help: "Takeover requests received, by action (engage/release).",
		},
		[]string{"action"},
	)

	inboundCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_inbound_commands_total",
			Help: "Upstream control commands received, by outcome (stored/ignored).",
		},
		[]string{"outcome"},
	)

	commandSpeed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mrm_command_speed_mps",
		Help: "Speed of the last published control command.",
	})

	commandAcceleration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mrm_command_acceleration_mps2",
		Help: "Acceleration of the last published control command.",
	})

	commandJerk = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mrm_command_jerk_mps3",
		Help: "Jerk of the last published control command.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_stream_connections_total",
			Help: "SSE connection events, by event (connect/disconnect).",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mrm_streams_active",
		Help: "Currently open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mrm_stream_messages_total",
		Help: "SSE messages written.",
	})

	streamDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mrm_stream_dropped_total",
		Help: "Messages dropped because a subscriber was not keeping up.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrm_stream_errors_total",
			Help: "SSE errors, by type.",
		},
		[]string{"type"},
	)
)

var knownStates = []string{"AVAILABLE", "OPERATING"}

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		ticksTotal,
		operatorState,
		operateRequestsTotal,
		inboundCommandsTotal,
		commandSpeed,
		commandAcceleration,
		commandJerk,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamDroppedTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetOperatorState marks state as the active operator state.
func SetOperatorState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		operatorState.WithLabelValues(s).Set(v)
	}
}

// IncTicks counts one scheduler tick.
func IncTicks(state string) { ticksTotal.WithLabelValues(state).Inc() }

// IncOperateRequests counts one takeover request.
func IncOperateRequests(action string) { operateRequestsTotal.WithLabelValues(action).Inc() }

// IncInboundCommands counts one upstream command.
func IncInboundCommands(outcome string) { inboundCommandsTotal.WithLabelValues(outcome).Inc() }

// SetCommand records the longitudinal part of the last published command.
func SetCommand(speed, acceleration, jerk float64) {
	commandSpeed.Set(speed)
	commandAcceleration.Set(acceleration)
	commandJerk.Set(jerk)
}

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive()                 { streamsActive.Inc() }
func DecStreamsActive()                 { streamsActive.Dec() }
func IncStreamMessages()                { streamMessagesTotal.Inc() }
func IncStreamDropped()                 { streamDroppedTotal.Inc() }
func IncStreamErrors(kind string)       { streamErrorsTotal.WithLabelValues(kind).Inc() }

// normalizeRoute returns path for the exact paths served by the API. Anything
// else is labelled "other" to keep path cardinality bounded.
func normalizeRoute(path string) string {
	switch path {
	case "/", "/app.js", "/styles.css",
		"/healthz", "/readyz", "/metrics",
		"/api/v1/control/control_cmd",
		"/api/v1/mrm/emergency_stop/operate",
		"/api/v1/mrm/emergency_stop/status",
		"/api/v1/mrm/emergency_stop/control_cmd",
		"/api/v1/mrm/emergency_stop/status/stream",
		"/api/v1/mrm/emergency_stop/control_cmd/stream":
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streams work behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
