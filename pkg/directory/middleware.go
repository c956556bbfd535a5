package directory

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/internal/ratelimit"
)

// Middleware wraps the directory HTTP handlers with logging, panic
// recovery and optional per-IP rate limiting.
type Middleware struct {
	log         *logging.Logger
	metrics     *metrics.PrometheusMetrics
	rateLimiter *ratelimit.Limiter
}

// NewMiddleware creates a middleware instance; limiter may be nil.
func NewMiddleware(log *logging.Logger, m *metrics.PrometheusMetrics, rl *ratelimit.Limiter) *Middleware {
	if log == nil {
		log = logging.Nop()
	}
	return &Middleware{
		log:         log.WithComponent("middleware"),
		metrics:     m,
		rateLimiter: rl,
	}
}

// Chain applies all middleware; last applied runs first.
func (m *Middleware) Chain(h http.Handler) http.Handler {
	h = m.Recovery(h)
	h = m.Logging(h)
	if m.rateLimiter != nil {
		h = m.RateLimit(h)
	}
	return h
}

// RateLimit applies per-IP rate limiting
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !m.rateLimiter.Allow(ip) {
			m.log.Warn().Str("ip", ip).Msg("Rate limit exceeded")
			if m.metrics != nil {
				m.metrics.RateLimitHits.Inc()
			}
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging logs HTTP requests
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		evt := m.log.Info()
		if r.URL.Path == "/health" || r.URL.Path == "/ready" {
			evt = m.log.Debug()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", clientIP(r)).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

// Recovery recovers from panics
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Msg("Panic recovered")
				if m.metrics != nil {
					m.metrics.RecordError("panic")
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// clientIP extracts the real client IP from a request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
