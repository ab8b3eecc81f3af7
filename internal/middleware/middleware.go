package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the context key for request ID
type RequestIDKey struct{}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores id in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey{}, id)
}

// LoggingMiddleware logs HTTP requests with request ID
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Generate or extract request ID
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			r = r.WithContext(WithRequestID(r.Context(), requestID))
			w.Header().Set(RequestIDHeader, requestID)

			// Wrap response writer to capture status code
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			logger.Debug("HTTP request started",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("accept", r.Header.Get("Accept")),
				zap.String("remote_addr", r.RemoteAddr),
			)

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request completed",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int("bytes", wrapped.bytes),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// writeText sends a plain text error
func writeText(w http.ResponseWriter, status int, message, requestID string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if requestID != "" {
		fmt.Fprintf(w, "%s (request id %s)\n", message, requestID)
		return
	}
	fmt.Fprintln(w, message)
}

// RecoveryMiddleware recovers from panics and returns 500 error
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					requestID := GetRequestID(r.Context())

					logger.Error("panic recovered",
						zap.String("request_id", requestID),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", err),
						zap.Stack("stack"),
					)

					writeText(w, http.StatusInternalServerError, "internal server error", requestID)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware puts a deadline on the request context. Handlers are
// expected to give up when the context is done.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VaryAccept marks responses as negotiated on the Accept header, since the
// same URL may answer with Markdown or HTML.
func VaryAccept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept")
		next.ServeHTTP(w, r)
	})
}

// RateLimiter is a fixed window request counter
type RateLimiter struct {
	mu          sync.Mutex
	requests    int
	limit       int
	window      time.Duration
	windowStart time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 100
	}
	if window <= 0 {
		window = 1 * time.Minute
	}

	return &RateLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// Allow checks if request is allowed
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.windowStart) >= rl.window {
		rl.requests = 0
		rl.windowStart = now
	}

	if rl.requests >= rl.limit {
		return false
	}
	rl.requests++
	return true
}

// RetryAfter returns the seconds until the current window ends
func (rl *RateLimiter) RetryAfter() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	left := rl.window - rl.now().Sub(rl.windowStart)
	secs := int(left.Seconds())
	if left > time.Duration(secs)*time.Second {
		secs++
	}
	return max(secs, 1)
}

// RateLimitMiddleware limits request rate
func RateLimitMiddleware(limiter *RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				requestID := GetRequestID(r.Context())

				logger.Warn("rate limit exceeded",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)

				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
				writeText(w, http.StatusTooManyRequests, "rate limit exceeded", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
