// Package auth obtains and inspects the bearer tokens sent with uploads.
package auth

import (
	"context"
	"time"
)

// Token is a bearer token with its expiry in epoch seconds. Zero Expire
// means the token never expires.
type Token struct {
	Value  string `json:"token"`
	Expire int64  `json:"expire"`
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return t.Expire > 0 && now.Unix() >= t.Expire
}

// Getter produces a token. Accepted results are string, Token and *Token.
type Getter func(ctx context.Context, args ...any) (any, error)

// StaticGetter always returns token.
func StaticGetter(token Token) Getter {
	return func(context.Context, ...any) (any, error) {
		return token, nil
	}
}

// JWTGetter returns value with the expiry read from its exp claim.
func JWTGetter(value string) Getter {
	return func(context.Context, ...any) (any, error) {
		expire, err := ExpiryFromJWT(value)
		if err != nil {
			return nil, err
		}
		return Token{Value: value, Expire: expire}, nil
	}
}
