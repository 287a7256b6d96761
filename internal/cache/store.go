// Package cache persists upload records between runs so interrupted uploads
// can resume. Keys follow the {prefix}@{token} format.
package cache

import (
	"context"
	"strings"
)

// DefaultPrefix is prepended to every upload record key.
const DefaultPrefix = "dudup"

// Store is a string key/value store. Get reports ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
}

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Key builds the storage key for token. An empty prefix means DefaultPrefix.
func Key(prefix, token string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "@" + token
}

// Prefixed maps tokens onto keys of an underlying Store.
type Prefixed struct {
	store  Store
	prefix string
}

// NewPrefixed wraps store so callers address records by token.
func NewPrefixed(store Store, prefix string) *Prefixed {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Prefixed{store: store, prefix: strings.TrimSuffix(prefix, "@")}
}

func (p *Prefixed) Get(ctx context.Context, token string) (string, bool, error) {
	return p.store.Get(ctx, Key(p.prefix, token))
}

func (p *Prefixed) Set(ctx context.Context, token, value string) error {
	return p.store.Set(ctx, Key(p.prefix, token), value)
}

func (p *Prefixed) Del(ctx context.Context, token string) error {
	return p.store.Del(ctx, Key(p.prefix, token))
}

// Prefix returns the key prefix in use.
func (p *Prefixed) Prefix() string {
	return p.prefix
}
