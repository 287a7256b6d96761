package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/errs"
)

// Export snapshots the upload state. Expired is now plus the configured TTL.
func (h *Handle) Export() (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fingerprint, err := h.hashLocked()
	if err != nil {
		return Record{}, err
	}
	return Record{
		Hash:    fingerprint,
		State:   h.state,
		Chunks:  slices.Clone(h.chunks),
		Extra:   lo.Assign(map[string]any{}, h.extra),
		Expired: h.opts.Now().Add(h.opts.Expired).UnixMilli(),
	}, nil
}

// ExportJSON is Export encoded as JSON.
func (h *Handle) ExportJSON() (string, error) {
	record, err := h.Export()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode upload record: %w", err)
	}
	return string(data), nil
}

// Import replaces chunks, state and extras with record. It returns false and
// leaves the handle untouched when the record belongs to another file, has
// expired or is malformed.
func (h *Handle) Import(record Record) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkRecordLocked(record); err != nil {
		if errs.IsValidation(err) || errors.Is(err, errs.ErrUseAfterDestroy) {
			return false, err
		}
		h.log.Debug("upload record rejected", zap.Error(err))
		return false, nil
	}

	chunks := slices.Clone(record.Chunks)
	slices.SortFunc(chunks, compareChunks)
	h.chunks = chunks
	h.state = record.State
	h.extra = lo.Assign(map[string]any{}, record.Extra)
	return true, nil
}

// rawRecord keeps pointer fields so missing members can be told apart from
// empty ones.
type rawRecord struct {
	Hash    string          `json:"hash"`
	State   *State          `json:"state"`
	Chunks  *[]ChunkState   `json:"chunks"`
	Extra   *map[string]any `json:"extra"`
	Expired int64           `json:"expired"`
}

// ImportJSON decodes text and imports it. Undecodable text is rejected like
// any other invalid record.
func (h *Handle) ImportJSON(text string) (bool, error) {
	var raw rawRecord
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		h.log.Debug("upload record is not valid json", zap.Error(err))
		return false, nil
	}
	if raw.State == nil || raw.Chunks == nil || raw.Extra == nil || *raw.Chunks == nil || *raw.Extra == nil {
		return false, nil
	}
	return h.Import(Record{
		Hash:    raw.Hash,
		State:   *raw.State,
		Chunks:  *raw.Chunks,
		Extra:   *raw.Extra,
		Expired: raw.Expired,
	})
}

func (h *Handle) checkRecordLocked(record Record) error {
	fingerprint, err := h.hashLocked()
	if err != nil {
		return err
	}
	if record.Hash != fingerprint {
		return fmt.Errorf("%w: fingerprint mismatch", errs.ErrCacheInvalid)
	}
	if record.Expired <= h.opts.Now().UnixMilli() {
		return fmt.Errorf("%w: expired", errs.ErrCacheInvalid)
	}
	if record.Chunks == nil || record.Extra == nil {
		return fmt.Errorf("%w: missing chunks or extra", errs.ErrCacheInvalid)
	}
	for _, chunk := range record.Chunks {
		if chunk.BeginPos < 0 || chunk.BeginPos >= chunk.EndPos {
			return fmt.Errorf("%w: bad chunk [%d,%d)", errs.ErrCacheInvalid, chunk.BeginPos, chunk.EndPos)
		}
	}
	return nil
}

func (h *Handle) cacheToken(token string) (string, error) {
	if token != "" {
		return token, nil
	}
	return h.Hash()
}

// SaveCache stores the exported record under token, defaulting to the
// fingerprint. It reports false when no store is attached or caching is off.
func (h *Handle) SaveCache(ctx context.Context, token string) (bool, error) {
	if !h.CacheEnabled() {
		return false, nil
	}
	token, err := h.cacheToken(token)
	if err != nil {
		return false, err
	}
	data, err := h.ExportJSON()
	if err != nil {
		return false, err
	}
	if err := h.store.Set(ctx, token, data); err != nil {
		return false, fmt.Errorf("failed to save upload record: %w", err)
	}
	return true, nil
}

// LoadCache imports the record stored under token. Missing, expired or
// invalid records are deleted and reported as false. A loaded record leaves
// the file ready unless it was already uploaded.
func (h *Handle) LoadCache(ctx context.Context, token string) (bool, error) {
	if h.store == nil {
		return false, nil
	}
	token, err := h.cacheToken(token)
	if err != nil {
		return false, err
	}

	data, ok, err := h.store.Get(ctx, token)
	if err != nil {
		return false, fmt.Errorf("failed to load upload record: %w", err)
	}
	if !ok {
		return false, nil
	}

	imported, err := h.ImportJSON(data)
	if err != nil {
		return false, err
	}
	if !imported {
		h.log.Info("clearing invalid upload record", zap.String("token", token))
		if err := h.store.Del(ctx, token); err != nil {
			return false, fmt.Errorf("failed to clear upload record: %w", err)
		}
		return false, nil
	}

	h.mu.Lock()
	if h.state.Status != StatusUploaded {
		h.state.Status = StatusReady
	}
	h.mu.Unlock()
	return true, nil
}

// ClearCache deletes the record stored under token.
func (h *Handle) ClearCache(ctx context.Context, token string) (bool, error) {
	if h.store == nil {
		return false, nil
	}
	token, err := h.cacheToken(token)
	if err != nil {
		return false, err
	}
	if err := h.store.Del(ctx, token); err != nil {
		return false, fmt.Errorf("failed to clear upload record: %w", err)
	}
	return true, nil
}
