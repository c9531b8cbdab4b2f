package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
)

type contextKey string

const PrincipalKey contextKey = "principal"

const (
	// WorkerTokenHeader carries the shared secret on internal worker callbacks.
	WorkerTokenHeader = "X-Worker-Token"
	// AdminTokenHeader carries the provisioning secret.
	AdminTokenHeader = "X-Admin-Token"
)

type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (*domain.Principal, error)
}

// APIKeyAuth resolves the bearer token to a principal. Requests without a
// resolvable organization are rejected with 401.
func APIKeyAuth(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			principal, err := resolver.ResolvePrincipal(r.Context(), token)
			if err != nil {
				api.HandleError(w, err)
				return
			}
			if _, err := principal.RequireOrg(); err != nil {
				api.HandleError(w, err)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkerToken guards the internal callback routes with a shared token.
// An empty expected token rejects every request.
func WorkerToken(expected string) func(http.Handler) http.Handler {
	return sharedToken(WorkerTokenHeader, expected, domain.ErrInvalidWorkerToken)
}

// AdminToken guards provisioning routes the same way.
func AdminToken(expected string) func(http.Handler) http.Handler {
	return sharedToken(AdminTokenHeader, expected, domain.ErrInvalidAdminToken)
}

func sharedToken(header, expected string, reject error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				api.HandleError(w, reject)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal stores the principal and stamps its org on log records.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	recordOrgID(ctx, p.OrgID)
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return logger.WithOrgID(ctx, p.OrgID)
}

func GetPrincipal(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(PrincipalKey).(*domain.Principal)
	return p
}

func GetOrgID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.OrgID
	}
	return ""
}
