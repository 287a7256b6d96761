// Package sender composes requestors, file handles, the killer and the
// upload interceptor behind one object with a cached bearer token.
package sender

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/file"
	"github.com/stefando/resumableupload/internal/interceptor"
	"github.com/stefando/resumableupload/internal/killer"
	"github.com/stefando/resumableupload/internal/requestor"
)

// RequestorFactory builds a fresh requestor for desc.
type RequestorFactory func(desc requestor.Descriptor) (*requestor.Requestor, error)

// FileFactory builds a file handle over source.
type FileFactory func(source file.Source, opts file.Options) (*file.Handle, error)

// HTTPRequestors returns a factory whose requestors send over client.
func HTTPRequestors(client *http.Client, log *zap.Logger) RequestorFactory {
	return func(desc requestor.Descriptor) (*requestor.Requestor, error) {
		return requestor.New(requestor.NewHTTPTransport(client), desc, log)
	}
}

// Task is what the upload interceptor sees before a file is dispatched.
type Task struct {
	File    *file.Handle
	Params  map[string]string
	Options *requestor.Options
}

// Option configures a Sender.
type Option func(*Sender)

// WithSettings replaces the default settings.
func WithSettings(settings Settings) Option {
	return func(s *Sender) {
		s.settings = settings
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sender) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the clock used for token expiry and random names.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// Sender is safe for concurrent use.
type Sender struct {
	mu           sync.Mutex
	newRequestor RequestorFactory
	newFile      FileFactory
	killer       *killer.Killer
	interceptor  *interceptor.Interceptor[Task]
	settings     Settings
	log          *zap.Logger
	now          func() time.Time

	token       string
	tokenExpire int64

	destroyed bool
}

// New creates a sender. A nil file factory means file.New.
func New(newRequestor RequestorFactory, newFile FileFactory, opts ...Option) (*Sender, error) {
	if newRequestor == nil {
		return nil, errs.Validation("requestor factory", "factory is nil")
	}
	if newFile == nil {
		newFile = file.New
	}

	s := &Sender{
		newRequestor: newRequestor,
		newFile:      newFile,
		interceptor:  interceptor.New[Task](),
		settings:     DefaultSettings(),
		log:          zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settings = s.settings.Normalize()
	if err := CheckOptions(s.settings); err != nil {
		return nil, err
	}
	s.killer = killer.New(s.log)
	return s, nil
}

// Settings returns the normalized settings.
func (s *Sender) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Sender) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return errs.ErrUseAfterDestroy
	}
	return nil
}

// Get sends a GET; data becomes query parameters.
func (s *Sender) Get(ctx context.Context, url string, data any, opts *requestor.Options, r *requestor.Requestor) (*requestor.Result, error) {
	return s.Request(ctx, http.MethodGet, url, data, opts, r)
}

// Post sends a POST.
func (s *Sender) Post(ctx context.Context, url string, data any, opts *requestor.Options, r *requestor.Requestor) (*requestor.Result, error) {
	return s.Request(ctx, http.MethodPost, url, data, opts, r)
}

// Put sends a PUT.
func (s *Sender) Put(ctx context.Context, url string, data any, opts *requestor.Options, r *requestor.Requestor) (*requestor.Result, error) {
	return s.Request(ctx, http.MethodPut, url, data, opts, r)
}

// Request sends through r, or through a new requestor when r is nil. When
// opts carries a kill token, the requestor's Cancel is registered under it
// for the duration of the call.
func (s *Sender) Request(ctx context.Context, method, url string, data any, opts *requestor.Options, r *requestor.Requestor) (*requestor.Result, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	if r == nil {
		created, err := s.CreateRequestor(requestor.Descriptor{})
		if err != nil {
			return nil, err
		}
		defer created.Destroy()
		r = created
	}

	var token killer.Token
	if opts != nil {
		token = opts.KillToken
	}
	if !token.IsZero() {
		if err := s.killer.SignWith(token, r.Cancel); err != nil {
			return nil, err
		}
		defer s.killer.Del(token)
	}

	return r.Send(ctx, requestor.Descriptor{Method: method, URL: url, Payload: data, Options: opts})
}

// CreateRequestor builds a requestor through the factory.
func (s *Sender) CreateRequestor(desc requestor.Descriptor) (*requestor.Requestor, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	return s.newRequestor(desc)
}

// OpenFile creates and opens a handle using the sender's chunk size and
// cache settings, then checks its size against MaxFileSize.
func (s *Sender) OpenFile(ctx context.Context, source file.Source, opts file.Options) (*file.Handle, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	settings := s.Settings()
	if opts.ChunkSize == 0 {
		opts.ChunkSize = settings.ChunkSize
	}
	if opts.ChunkInBlock == 0 {
		opts.ChunkInBlock = int(max(settings.BlockSize/opts.ChunkSize, 1))
	}
	opts.Cache = opts.Cache && settings.Cache
	if opts.Logger == nil {
		opts.Logger = s.log
	}

	h, err := s.newFile(source, opts)
	if err != nil {
		return nil, err
	}
	if err := h.Open(ctx, false); err != nil {
		h.Destroy()
		return nil, err
	}
	if err := CheckFileSize(h, settings.MaxFileSize, 0); err != nil {
		h.Destroy()
		return nil, err
	}
	return h, nil
}

// CheckFileSize reports a ValidationError when the file is larger than
// maxSize or smaller than minSize. maxSize <= 0 means unlimited.
func CheckFileSize(h *file.Handle, maxSize, minSize int64) error {
	size := h.Size()
	if maxSize > 0 && size > maxSize {
		return errs.Validation("file size", "must be at most %s, got %s", humanize.IBytes(uint64(maxSize)), humanize.IBytes(uint64(size)))
	}
	if size < minSize {
		return errs.Validation("file size", "must be at least %s, got %s", humanize.IBytes(uint64(minSize)), humanize.IBytes(uint64(size)))
	}
	return nil
}

// Interceptor returns the pipeline run by Prepare.
func (s *Sender) Interceptor() *interceptor.Interceptor[Task] {
	return s.interceptor
}

// Prepare runs task through the interceptor pipeline.
func (s *Sender) Prepare(ctx context.Context, task Task) (Task, error) {
	if err := s.alive(); err != nil {
		return task, err
	}
	return s.interceptor.Run(ctx, task)
}

// Killer returns the cancellation registry.
func (s *Sender) Killer() *killer.Killer {
	return s.killer
}

// Kill cancels whatever is registered under token.
func (s *Sender) Kill(token killer.Token) {
	s.killer.Kill(token)
}

// Destroy invalidates the sender and drops the cached token.
func (s *Sender) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.token = ""
	s.tokenExpire = 0
}
