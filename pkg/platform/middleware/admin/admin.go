// Package admin guards operator endpoints with a bearer secret.
package admin

import (
	"log/slog"
	"net/http"

	"efile/pkg/platform/httputil"
	"efile/pkg/requestcontext"
)

// HeaderVerifier checks an Authorization header value.
type HeaderVerifier interface {
	VerifyHeader(header string) error
}

// RequireBearer rejects requests whose Authorization header does not verify.
func RequireBearer(verifier HeaderVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verifier.VerifyHeader(r.Header.Get("Authorization")); err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "bearer secret rejected", append(requestcontext.LogAttrs(ctx), "error", err)...)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
