package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
)

// ErrMissingBearer is returned when a request carries no bearer token.
var ErrMissingBearer = errors.New("missing bearer token")

// TokenVerifier checks a raw token and returns its tenant.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// CognitoIssuer is the OIDC issuer URL of a Cognito user pool.
func CognitoIssuer(region, poolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, poolID)
}

// OIDCVerifier checks signature, expiry, issuer and audience against the
// issuer's JWKS.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer configuration. clientID is enforced
// as the audience.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider error: %w", err)
	}
	return NewOIDCVerifierFrom(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCVerifierFrom wraps an existing verifier.
func NewOIDCVerifierFrom(v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: v}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, strings.TrimPrefix(rawToken, "Bearer "))
	if err != nil {
		return "", fmt.Errorf("token verification failed: %w", err)
	}

	var claims struct {
		TenantID string `json:"tenant_id"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("decoding claims: %w", err)
	}
	if claims.TenantID == "" {
		return "", ErrMissingTenantID
	}
	return claims.TenantID, nil
}

// VerifyingMiddleware rejects requests whose bearer token does not verify,
// and stores the verified tenant in the request context.
func VerifyingMiddleware(verifier TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				log.Warn("authorization failed", zap.Error(ErrMissingBearer))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			tenantID, err := verifier.Verify(r.Context(), header)
			if err != nil {
				log.Warn("authorization failed", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
		})
	}
}
