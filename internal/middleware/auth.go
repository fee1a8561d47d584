package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rawcontext/engram-sub009/internal/auth"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
	"github.com/rawcontext/engram-sub009/internal/httputil"
)

// Auth verifies the Bearer token on every request (health checks excepted)
// and installs the caller's identity and tenant context on the request.
// A nil verifier disables verification entirely; requests then carry no
// tenant and write to the shared graph.
func Auth(verifier auth.JWTVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				httputil.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("token verification failed",
					"path", r.URL.Path,
					"error", err,
				)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			r = httputil.WithUserID(r, claims.Subject)
			r = httputil.WithTenant(r, models.TenantContext{
				OrgID:      claims.OrgID,
				OrgSlug:    claims.OrgSlug,
				ActingUser: claims.Subject,
				IsAdmin:    claims.IsAdmin,
			})

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
