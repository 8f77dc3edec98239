// Package server implements the vlnload-server inspection HTTP handlers and
// middleware.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

const headerRequestID = "X-Request-ID"

// requestIDMiddleware tags every request with an id. A caller supplied
// X-Request-ID is kept when it is a UUID so traces can span client and server.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, reqID)))
	})
}

// RequestID returns the request id assigned by the server, if any.
func RequestID(ctx context.Context) string {
	reqID, _ := ctx.Value(contextKeyRequestID).(string)
	return reqID
}

func requestLogger(logger *slog.Logger, r *http.Request) *slog.Logger {
	return logger.With("request_id", RequestID(r.Context()))
}

// loggingMiddleware logs one line per request. Server errors log at error
// level, client errors at warn.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			switch status := rw.status(); {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			requestLogger(logger, r).Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status(),
				"bytes", rw.written,
				"latency_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// recoveryMiddleware turns a panicking handler into a 500 unless a response
// was already started.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				requestLogger(logger, r).Error("panic recovered", "error", fmt.Sprint(rec), "path", r.URL.Path)
				if rw.code == 0 {
					writeError(rw, r, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// bearerAuth rejects requests whose Authorization header does not carry token.
func bearerAuth(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "auth_failed", "missing or invalid Authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeError(w, r, http.StatusUnauthorized, "auth_failed", "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter counts requests per client host in fixed one-minute windows.
// Expired windows are swept while serving, at most once per period.
type rateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	limit     int
	period    time.Duration
	now       func() time.Time
	nextSweep time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		windows: make(map[string]*window),
		limit:   requestsPerMinute,
		period:  time.Minute,
		now:     time.Now,
	}
}

// take counts one request for key. When the limit is exceeded it returns false
// and the time left until the client's window resets.
func (rl *rateLimiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.nextSweep) {
		for k, w := range rl.windows {
			if !now.Before(w.resetAt) {
				delete(rl.windows, k)
			}
		}
		rl.nextSweep = now.Add(rl.period)
	}

	win, ok := rl.windows[key]
	if !ok || !now.Before(win.resetAt) {
		win = &window{resetAt: now.Add(rl.period)}
		rl.windows[key] = win
	}
	win.count++
	if win.count > rl.limit {
		return false, win.resetAt.Sub(now)
	}
	return true, 0
}

// clients returns the number of tracked client windows.
func (rl *rateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// reset forgets every client window.
func (rl *rateLimiter) reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.windows)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		if ok, wait := rl.take(host); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited",
				fmt.Sprintf("more than %d requests per minute", rl.limit))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	code    int
	written int
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.code == 0 {
		rw.code = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func (rw *responseWriter) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
