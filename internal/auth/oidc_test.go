package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://cognito-idp.eu-central-1.amazonaws.com/pool"

func newTestVerifier(t *testing.T) (*OIDCVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	return NewOIDCVerifierFrom(oidc.NewVerifier(testIssuer, keys, &oidc.Config{ClientID: "client"})), key
}

func rsaToken(t *testing.T, key *rsa.PrivateKey, tenant, audience string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, TenantClaims{
		TenantID: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestCognitoIssuer(t *testing.T) {
	require.Equal(t, testIssuer, CognitoIssuer("eu-central-1", "pool"))
}

func TestOIDCVerifier(t *testing.T) {
	req := require.New(t)
	verifier, key := newTestVerifier(t)
	ctx := t.Context()

	tenant, err := verifier.Verify(ctx, "Bearer "+rsaToken(t, key, "acme", "client"))
	req.NoError(err)
	req.Equal("acme", tenant)

	_, err = verifier.Verify(ctx, rsaToken(t, key, "", "client"))
	req.ErrorIs(err, ErrMissingTenantID)

	_, err = verifier.Verify(ctx, rsaToken(t, key, "acme", "other-client"))
	req.Error(err)

	_, err = verifier.Verify(ctx, signed(t, TenantClaims{TenantID: "acme"}))
	req.Error(err)
}

func TestVerifyingMiddleware(t *testing.T) {
	req := require.New(t)
	verifier, key := newTestVerifier(t)

	var seen string
	handler := VerifyingMiddleware(verifier, nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = GetTenantID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
		tenant string
	}{
		{"verified", "Bearer " + rsaToken(t, key, "acme", "client"), http.StatusOK, "acme"},
		{"no header", "", http.StatusUnauthorized, ""},
		{"unsigned", "Bearer " + signed(t, TenantClaims{TenantID: "acme"}), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodPut, "/files/a", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			req.Equal(tt.status, w.Code)
			req.Equal(tt.tenant, seen)
		})
	}
}
