// Package file tracks one upload source: its bytes, its fingerprint and the
// per-chunk upload state that lets an interrupted upload resume.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/cache"
	"github.com/stefando/resumableupload/internal/errs"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Defaults applied by New when the matching option is zero.
const (
	DefaultFilename  = "unknown"
	DefaultMimeType  = "text/plain"
	DefaultChunkSize = 4 * MiB
	DefaultReadSize  = 1 * MiB
	DefaultExpired   = 24 * time.Hour

	sniffSize = 3072
)

// File statuses.
const (
	StatusIdle      = "idle"
	StatusReady     = "ready"
	StatusUploading = "uploading"
	StatusUploaded  = "uploaded"
)

// ChunkPending is the status of a chunk that was planned but not sent.
// Chunks otherwise use StatusUploading and StatusUploaded.
const ChunkPending = ""

// ChunkState is the upload state of the byte range [BeginPos, EndPos).
type ChunkState struct {
	BeginPos int64  `json:"beginPos"`
	EndPos   int64  `json:"endPos"`
	Status   string `json:"status"`
}

// State is the file level upload state.
type State struct {
	Status string `json:"status"`
}

// Record is the exported upload state. Expired is epoch milliseconds.
type Record struct {
	Hash    string         `json:"hash"`
	State   State          `json:"state"`
	Chunks  []ChunkState   `json:"chunks"`
	Extra   map[string]any `json:"extra"`
	Expired int64          `json:"expired"`
}

// Options configure a Handle. Zero values take the package defaults.
type Options struct {
	Filename     string
	MimeType     string
	ChunkSize    int64
	ChunkInBlock int
	// Cache loads the stored record on Open and enables SaveCache.
	Cache   bool
	Expired time.Duration
	Hasher  Hasher

	Store  cache.Store
	Prefix string
	Logger *zap.Logger
	Now    func() time.Time
}

// Handle is one upload source. It is safe for concurrent use.
type Handle struct {
	mu      sync.Mutex
	source  Source
	opts    Options
	store   *cache.Prefixed
	log     *zap.Logger
	content Content

	filename string
	mimeType string
	state    State
	chunks   []ChunkState
	extra    map[string]any

	destroyed bool
}

// New creates an idle handle over source. Nothing is read until Open.
func New(source Source, opts Options) (*Handle, error) {
	if source == nil {
		return nil, errs.Validation("source", "source is nil")
	}
	if opts.ChunkSize < 0 {
		return nil, errs.Validation("chunkSize", "must not be negative")
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkInBlock <= 0 {
		opts.ChunkInBlock = 1
	}
	if opts.Expired <= 0 {
		opts.Expired = DefaultExpired
	}
	if opts.Hasher == nil {
		opts.Hasher = SHA256
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &Handle{
		source: source,
		opts:   opts,
		log:    opts.Logger,
		state:  State{Status: StatusIdle},
		chunks: []ChunkState{},
		extra:  map[string]any{},
	}
	if opts.Store != nil {
		h.store = cache.NewPrefixed(opts.Store, opts.Prefix)
	}
	return h, nil
}

// Open resolves the content, filename and MIME type. It does nothing if the
// handle is already open unless reopen is set.
func (h *Handle) Open(ctx context.Context, reopen bool) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return errs.ErrUseAfterDestroy
	}
	if !reopen && h.state.Status != StatusIdle {
		h.mu.Unlock()
		return nil
	}

	content, err := h.source.Open(ctx)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	mimeType := lo.CoalesceOrEmpty(h.opts.MimeType, content.MimeType())
	if mimeType == "" {
		mimeType = sniff(ctx, content)
	}

	if h.content != nil {
		_ = h.content.Close()
	}
	h.content = content
	h.filename = lo.CoalesceOrEmpty(h.opts.Filename, content.Name(), DefaultFilename)
	h.mimeType = mimeType
	h.state.Status = StatusReady
	useCache := h.opts.Cache && h.store != nil
	h.mu.Unlock()

	if useCache {
		if _, err := h.LoadCache(ctx, ""); err != nil {
			return err
		}
	}
	return nil
}

func sniff(ctx context.Context, content Content) string {
	head := make([]byte, min(content.Size(), sniffSize))
	n, err := content.ReadAt(ctx, head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return DefaultMimeType
	}
	detected, _, _ := strings.Cut(mimetype.Detect(head[:n]).String(), ";")
	return lo.CoalesceOrEmpty(detected, DefaultMimeType)
}

// Filename returns the resolved filename.
func (h *Handle) Filename() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.filename
}

// MimeType returns the resolved MIME type.
func (h *Handle) MimeType() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mimeType
}

// Size returns the content size, or 0 before Open.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.content == nil {
		return 0
	}
	return h.content.Size()
}

// ChunkSize returns the configured chunk size.
func (h *Handle) ChunkSize() int64 {
	return h.opts.ChunkSize
}

// CacheEnabled reports whether records are persisted.
func (h *Handle) CacheEnabled() bool {
	return h.opts.Cache && h.store != nil
}

// Extname returns the filename extension including the dot, or "".
func (h *Handle) Extname() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return filepath.Ext(h.filename)
}

// Hash is the fingerprint sha256(filename + mimeType + size). It identifies
// a file across runs without reading its content.
func (h *Handle) Hash() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashLocked()
}

func (h *Handle) hashLocked() (string, error) {
	if err := h.readyLocked(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(h.filename + h.mimeType + strconv.FormatInt(h.content.Size(), 10)))
	return hex.EncodeToString(sum[:]), nil
}

func (h *Handle) readyLocked() error {
	if h.destroyed {
		return errs.ErrUseAfterDestroy
	}
	if h.content == nil {
		return errs.Validation("file", "file is not open")
	}
	return nil
}

// Slice returns the bytes in [begin, end).
func (h *Handle) Slice(ctx context.Context, begin, end int64) ([]byte, error) {
	h.mu.Lock()
	if err := h.readyLocked(); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	content := h.content
	h.mu.Unlock()

	if err := checkRange(begin, end); err != nil {
		return nil, err
	}
	if end > content.Size() {
		return nil, errs.Validation("endPos", "%d is past the end of the file (%d)", end, content.Size())
	}

	buf := make([]byte, end-begin)
	n, err := content.ReadAt(ctx, buf, begin)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, fmt.Errorf("failed to read [%d,%d): %w", begin, end, err)
	}
	return buf, nil
}

// ReadOptions control Read. OnChunk receives each window with its offset and
// length; returning an error stops the read.
type ReadOptions struct {
	ChunkSize int64
	Offset    int64
	OnChunk   func(data []byte, offset, size int64) error
}

// Read walks the content sequentially in windows of ChunkSize starting at
// Offset. The last window may be short.
func (h *Handle) Read(ctx context.Context, opts ReadOptions) error {
	h.mu.Lock()
	if err := h.readyLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	size := h.content.Size()
	h.mu.Unlock()

	if opts.ChunkSize < 0 {
		return errs.Validation("chunkSize", "must not be negative")
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultReadSize
	}
	if opts.Offset < 0 || opts.Offset > size {
		return errs.Validation("offset", "%d is outside [0,%d]", opts.Offset, size)
	}

	for offset := opts.Offset; offset < size; offset += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(offset+opts.ChunkSize, size)
		data, err := h.Slice(ctx, offset, end)
		if err != nil {
			return err
		}
		if opts.OnChunk != nil {
			if err := opts.OnChunk(data, offset, end-offset); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenContentHash digests the whole content with the configured Hasher.
func (h *Handle) GenContentHash(ctx context.Context) (string, error) {
	digest, err := h.opts.Hasher()
	if err != nil {
		return "", err
	}
	err = h.Read(ctx, ReadOptions{
		OnChunk: func(data []byte, _, _ int64) error {
			_, err := digest.Write(data)
			return err
		},
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func checkRange(begin, end int64) error {
	if begin < 0 {
		return errs.Validation("beginPos", "%d is negative", begin)
	}
	if begin >= end {
		return errs.Validation("endPos", "must be greater than begin position (%d >= %d)", begin, end)
	}
	return nil
}

// SetChunkState records status for the exact range [begin, end). An existing
// entry for the range is updated in place.
func (h *Handle) SetChunkState(begin, end int64, status string) error {
	if err := checkRange(begin, end); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return errs.ErrUseAfterDestroy
	}

	idx, found := h.chunkIndexLocked(begin, end)
	if found {
		h.chunks[idx].Status = status
		return nil
	}
	h.chunks = slices.Insert(h.chunks, idx, ChunkState{BeginPos: begin, EndPos: end, Status: status})
	return nil
}

// GetChunkState returns the state recorded for [begin, end).
func (h *Handle) GetChunkState(begin, end int64) (ChunkState, bool, error) {
	if err := checkRange(begin, end); err != nil {
		return ChunkState{}, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ChunkState{}, false, errs.ErrUseAfterDestroy
	}

	idx, found := h.chunkIndexLocked(begin, end)
	if !found {
		return ChunkState{}, false, nil
	}
	return h.chunks[idx], true, nil
}

// chunkIndexLocked finds the range or the index where it would be inserted
// keeping chunks ordered by BeginPos then EndPos.
func (h *Handle) chunkIndexLocked(begin, end int64) (int, bool) {
	return slices.BinarySearchFunc(h.chunks, ChunkState{BeginPos: begin, EndPos: end}, compareChunks)
}

func compareChunks(a, b ChunkState) int {
	if a.BeginPos != b.BeginPos {
		if a.BeginPos < b.BeginPos {
			return -1
		}
		return 1
	}
	switch {
	case a.EndPos < b.EndPos:
		return -1
	case a.EndPos > b.EndPos:
		return 1
	}
	return 0
}

// Chunks returns a copy of the chunk states ordered by position.
func (h *Handle) Chunks() []ChunkState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.chunks)
}

// IsUploaded reports whether the whole file is uploaded.
func (h *Handle) IsUploaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Status == StatusUploaded
}

// IsChunkUploaded reports whether [begin, end) is recorded as uploaded.
func (h *Handle) IsChunkUploaded(begin, end int64) bool {
	chunk, ok, err := h.GetChunkState(begin, end)
	return err == nil && ok && chunk.Status == StatusUploaded
}

// State returns the file level state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetStatus sets the file level status.
func (h *Handle) SetStatus(status string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return errs.ErrUseAfterDestroy
	}
	h.state.Status = status
	return nil
}

// Extra returns a copy of the free-form data stored alongside the record.
func (h *Handle) Extra() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Assign(map[string]any{}, h.extra)
}

// SetExtra stores value under key in the record extras.
func (h *Handle) SetExtra(key string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return errs.ErrUseAfterDestroy
	}
	h.extra[key] = value
	return nil
}

// Destroy closes the content. Any later call returns ErrUseAfterDestroy.
func (h *Handle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.destroyed = true
	if h.content != nil {
		_ = h.content.Close()
	}
	h.content = nil
	h.chunks = nil
	h.extra = nil
}
