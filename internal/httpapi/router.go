package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/health"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// RouterDeps collects what the public HTTP surface is built from.
// Health and Tokens are optional.
type RouterDeps struct {
	Runs    RunService
	Streams *streaming.Manager
	Health  *health.Manager
	Auth    *auth.Middleware
	Tokens  *auth.JWTManager
	Logger  *zap.Logger
}

// NewRouter wires every handler behind the auth middleware. Liveness and
// readiness probes bypass authentication.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mw := d.Auth
	if mw == nil {
		mw = auth.NewMiddleware(nil, nil, true, logger)
	}

	api := http.NewServeMux()
	NewResearchHandler(d.Runs, logger).RegisterRoutes(api)
	NewStreamingHandler(d.Streams, logger).RegisterRoutes(api)
	NewTokenHandler(d.Tokens, logger).RegisterRoutes(api)
	if d.Health != nil {
		health.NewHTTPHandler(d.Health, logger).RegisterRoutes(api)
	}

	root := http.NewServeMux()
	if d.Health != nil {
		root.Handle("/health/live", api)
		root.Handle("/health/ready", api)
	}
	root.Handle("/", mw.HTTPMiddleware(api))
	return instrument(root, logger)
}

// instrument records request metrics, a server span and a debug log line.
func instrument(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.StartServerSpan(r)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// statusRecorder keeps Flusher and Hijacker reachable for SSE and WebSocket.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
