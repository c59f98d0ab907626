/*
middleware.go - Authentication and request-logging middleware

PURPOSE:
  JWT bearer-token authentication for protected routes, role gating for
  admin routes, and structured request logging via zerolog.

  The authenticated identity travels in the request context; handlers pull
  it back out with identityFrom.

SEE ALSO:
  - auth/auth.go: token validation
  - server.go: where these are mounted
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/studyon/billing-engine/auth"
	"github.com/studyon/billing-engine/billing"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the authenticated identity, or nil on public routes.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// requireAuth rejects requests without a valid bearer token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := h.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// optionalAuth attaches the identity when a valid token is present but lets
// anonymous requests through. Used by the catalog listing, which annotates
// ownership only for authenticated callers.
func (h *Handler) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := h.authenticate(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, identity))
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin gates a route on ROLE_SUPER_ADMIN. Must run after requireAuth.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFrom(r.Context())
		if identity == nil || !identity.HasRole(billing.RoleSuperAdmin) {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(r *http.Request) (*auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, false
	}
	identity, err := h.Auth.Authenticate(token)
	if err != nil {
		return nil, false
	}
	return identity, true
}

// requestLogger logs one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
