package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// WithTenantID adds the tenant ID to ctx.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// GetTenantID retrieves the tenant ID from ctx.
func GetTenantID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(tenantKey).(string)
	return val, ok && val != ""
}

// TenantMiddleware extracts the tenant from the bearer token and stores it
// in the request context. Requests without a usable token pass through.
func TenantMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := ExtractTenantFromToken(header)
			if err != nil {
				log.Warn("failed to extract tenant from token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
		})
	}
}
