package api

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mrm/emergencystop/internal/auth"
	"github.com/mrm/emergencystop/internal/control"
	"github.com/mrm/emergencystop/internal/health"
	"github.com/mrm/emergencystop/internal/metrics"
	"github.com/mrm/emergencystop/internal/stream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server exposing the operator's inbound
// feed, takeover request and outbound command/status.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, enableH2C bool, op *control.Operator, hub *stream.Hub, streamHandler *stream.Handler, static fs.FS) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool {
		_, ok := hub.LatestStatus()
		return ok
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/control/control_cmd", controlCommandHandler(logger, op))
	mux.HandleFunc("POST /api/v1/mrm/emergency_stop/operate", operateHandler(logger, op))
	mux.HandleFunc("GET /api/v1/mrm/emergency_stop/status", latestStatusHandler(hub))
	mux.HandleFunc("GET /api/v1/mrm/emergency_stop/control_cmd", latestControlCommandHandler(hub))
	mux.HandleFunc("GET /api/v1/mrm/emergency_stop/status/stream", streamHandler.HandleStatus)
	mux.HandleFunc("GET /api/v1/mrm/emergency_stop/control_cmd/stream", streamHandler.HandleControlCommand)

	if static != nil {
		mux.Handle("GET /", http.FileServerFS(static))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	if enableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{IdleTimeout: 120 * time.Second})
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// quietPath reports paths that are polled at high frequency and should not log at INFO.
func quietPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/api/v1/control/control_cmd":
		return true
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if quietPath(r.URL.Path) && sr.statusCode < 400 {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
