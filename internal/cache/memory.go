package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// MemoryStore keeps records in process memory. Entries older than the life
// window are evicted.
type MemoryStore struct {
	cache *bigcache.BigCache
}

// NewMemoryStore creates an in-process store. lifeWindow <= 0 means 24h.
func NewMemoryStore(ctx context.Context, lifeWindow time.Duration) (*MemoryStore, error) {
	if lifeWindow <= 0 {
		lifeWindow = 24 * time.Hour
	}
	config := bigcache.DefaultConfig(lifeWindow)
	config.Verbose = false

	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	data, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	return s.cache.Set(key, []byte(value))
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	if err := s.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Close releases the cache.
func (s *MemoryStore) Close() error {
	return s.cache.Close()
}
