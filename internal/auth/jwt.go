package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken    = errors.New("invalid token format")
	ErrMissingTenantID = errors.New("tenant_id claim missing from token")
)

// TenantClaims extends the standard JWT claims with tenant information.
type TenantClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// parseUnverified reads the claims without checking the signature. The
// upload endpoint verifies tokens; the client only needs exp and tenant_id.
func parseUnverified(tokenString string) (*TenantClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &TenantClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*TenantClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExpiryFromJWT returns the exp claim in epoch seconds, or 0 when absent.
func ExpiryFromJWT(tokenString string) (int64, error) {
	claims, err := parseUnverified(tokenString)
	if err != nil {
		return 0, err
	}
	if claims.ExpiresAt == nil {
		return 0, nil
	}
	return claims.ExpiresAt.Unix(), nil
}

// ExtractTenantFromToken returns the tenant_id claim.
func ExtractTenantFromToken(tokenString string) (string, error) {
	claims, err := parseUnverified(tokenString)
	if err != nil {
		return "", err
	}
	if claims.TenantID == "" {
		return "", ErrMissingTenantID
	}
	return claims.TenantID, nil
}

// GetBucketNameForTenant returns the bucket holding a tenant's upload records.
func GetBucketNameForTenant(tenantID, bucketPrefix string) string {
	return fmt.Sprintf("%s-store-%s", bucketPrefix, tenantID)
}
