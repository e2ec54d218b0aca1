package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"
)

// RequestID stamps every request with an X-Request-ID, generating one if
// the client didn't send one, so a request can be traced through the
// access log and any error envelope it produces.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			b := make([]byte, 8)
			rand.Read(b)
			id = hex.EncodeToString(b)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Logger attaches a zerolog.Logger to the request context and logs one
// access line per request, including streaming sessions (whose duration
// covers the whole connection lifetime, not just the first chunk).
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(log)
		accessLog := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration_ms", dur).
				Msg("request")
		})
		return h(accessLog(next))
	}
}

// Recoverer converts a panicking handler into a 500 INTERNAL_ERROR
// envelope instead of taking down the listener goroutine. The
// Dispatcher itself also recovers panics from within a matched Handler;
// this outer layer catches panics in the middleware it wraps.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				hlog.FromRequest(r).Error().Interface("panic", rv).Msg("recovered from panic")
				w.Header().Set("Content-Type", MIMEXML)
				w.WriteHeader(http.StatusInternalServerError)
				_ = DefaultRenderer{}.RenderError(w, MIMEXML, ErrorEnvelope{
					ErrorCode: CodeInternalError,
					Value:     "internal server error",
					Path:      r.URL.Path,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimiter applies a per-client-IP token bucket. rps is the sustained
// rate, burst the maximum burst. A streaming session consumes a single
// token, for its initial request, since only that request passes
// through this middleware.
func RateLimiter(rps float64, burst int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if lim, ok := limiters[ip]; ok {
			return lim
		}
		lim := rate.NewLimiter(rate.Limit(rps), burst)
		limiters[ip] = lim
		return lim
	}

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			limiters = make(map[string]*rate.Limiter)
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !getLimiter(ip).Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", MIMEXML)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = DefaultRenderer{}.RenderError(w, MIMEXML, ErrorEnvelope{
					ErrorCode: "TOO_MANY_REQUESTS",
					Value:     "rate limit exceeded",
					Path:      r.URL.Path,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(ip)
		}
		return strings.TrimSpace(xff)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Chain composes middleware in application order: Chain(a, b)(h) runs a,
// then b, then h.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}
