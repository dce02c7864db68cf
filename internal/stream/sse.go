// Package stream publishes the operator's outputs to Server-Sent Events
// subscribers. Every tick the scheduler hands the hub a control command and a
// status report; each connected client receives them as named events:
//
//	event: control_cmd
//	data: {"stamp":"...","longitudinal":{...},"lateral":{...}}
//
//	event: status
//	data: {"stamp":"...","state":"OPERATING"}
//
// A new subscriber first receives the latest message for its topic. Keep-alive
// comments (:\n\n) are sent every KeepaliveInterval of silence.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/mrm/emergencystop/internal/metrics"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrent      int           // Max concurrent streams overall (default: 100).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Take the client IP from X-Forwarded-For / X-Real-IP.
}

// Handler serves SSE subscriptions on a Hub.
type Handler struct {
	hub     *Hub
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler.
func NewHandler(hub *Hub, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 100
	}
	return &Handler{
		hub:     hub,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

// HandleControlCommand streams published control commands.
// GET /api/v1/mrm/emergency_stop/control_cmd/stream
func (h *Handler) HandleControlCommand(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, TopicControlCommand)
}

// HandleStatus streams published status reports.
// GET /api/v1/mrm/emergency_stop/status/stream
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, TopicStatus)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, topic string) {
	ip := clientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams", "10")
		return
	}
	defer h.limiter.release(ip)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("stream connected", "component", "stream", "topic", topic, "remote_ip", ip)

	sub := h.hub.subscribe(topic)
	defer func() {
		h.hub.unsubscribe(sub)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"topic", topic,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The server's WriteTimeout would otherwise cut the stream; the client
	// extends the deadline per write instead.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, flusher: flusher, rc: rc, logger: h.logger}

	// Jittered reconnect delay (1-3s) so subscribers do not reconnect in lockstep.
	fmt.Fprintf(w, "retry: %d\n\n", 1000+rand.Intn(2000))
	flusher.Flush()

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-sub.ch:
			if err := c.sendEvent(ev); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg, retryAfter string) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
