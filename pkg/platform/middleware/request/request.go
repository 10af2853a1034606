// Package request tags each HTTP request with a correlation ID and a pinned
// time, and logs it when done.
package request

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/httputil"
	"efile/pkg/requestcontext"
)

// HeaderRequestID carries the correlation ID in both directions.
const HeaderRequestID = "X-Request-ID"

// Context stores the request ID and request time in the context.
func Context(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		ctx = requestcontext.WithTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			ctx := r.Context()
			logger.InfoContext(ctx, "http request", append(requestcontext.LogAttrs(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"client_ip", ClientIP(r),
				"client", ParseAgent(r.UserAgent()),
				"duration_ms", time.Since(start).Milliseconds(),
			)...)
		})
	}
}

// ClientIP is the first X-Forwarded-For hop, then X-Real-IP, then the peer
// address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Agent is the client software named by a User-Agent header.
type Agent struct {
	Name    string
	Version string
	OS      string
	Bot     bool
}

// LogValue groups the agent under one log key.
func (a Agent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", a.Name),
		slog.String("version", a.Version),
		slog.String("os", a.OS),
		slog.Bool("bot", a.Bot),
	)
}

// ParseAgent reads a User-Agent header. An empty header is the zero Agent.
func ParseAgent(header string) Agent {
	if strings.TrimSpace(header) == "" {
		return Agent{}
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	return Agent{Name: name, Version: version, OS: ua.OS(), Bot: ua.Bot()}
}

// Recovery turns a panic into a 500.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					ctx := r.Context()
					logger.ErrorContext(ctx, "panic serving request", append(requestcontext.LogAttrs(ctx), "panic", p)...)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
