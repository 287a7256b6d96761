// Package upload sends a file handle to an HTTP endpoint chunk by chunk,
// persisting progress after each chunk so a later run can resume.
package upload

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/file"
	"github.com/stefando/resumableupload/internal/killer"
	"github.com/stefando/resumableupload/internal/progress"
	"github.com/stefando/resumableupload/internal/requestor"
	"github.com/stefando/resumableupload/internal/sender"
)

// Options control one upload.
type Options struct {
	// Name is the remote object name; empty derives one from HashType.
	Name     string
	HashType string
	Token    sender.TokenFunc
	Headers  map[string]string

	// KillToken, when set, cancels the whole upload through the sender's killer.
	KillToken killer.Token

	OnProgress       progress.Handler
	ProgressInterval time.Duration
}

// Result summarizes a finished upload.
type Result struct {
	Name    string
	Chunks  int
	Skipped int
	Bytes   int64
}

// Service uploads files through a Sender.
type Service struct {
	sender *sender.Sender
	log    *zap.Logger
}

// NewService creates an upload service.
func NewService(s *sender.Sender, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{sender: s, log: log}
}

// Upload PUTs every chunk of h that is not yet recorded as uploaded to
// endpoint/{name}, one at a time. Chunks carry a Content-Range header.
func (s *Service) Upload(ctx context.Context, h *file.Handle, endpoint string, opts Options) (*Result, error) {
	if err := h.Open(ctx, false); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !opts.KillToken.IsZero() {
		if err := s.sender.Killer().SignWith(opts.KillToken, cancel); err != nil {
			return nil, err
		}
		defer s.sender.Killer().Del(opts.KillToken)
	}

	hashType := opts.HashType
	if hashType == "" {
		hashType = s.sender.Settings().HashType
	}

	task, err := s.sender.Prepare(ctx, sender.Task{
		File:    h,
		Params:  map[string]string{"name": opts.Name},
		Options: &requestor.Options{Headers: opts.Headers},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload: %w", err)
	}

	name, err := s.sender.GiveFileName(ctx, task.Params["name"], h, hashType)
	if err != nil {
		return nil, fmt.Errorf("failed to name upload: %w", err)
	}
	target := strings.TrimSuffix(endpoint, "/") + "/" + url.PathEscape(name)

	headers := map[string]string{"Content-Type": "application/octet-stream"}
	if task.Options != nil {
		for k, v := range task.Options.Headers {
			headers[k] = v
		}
	}
	if opts.Token != nil {
		token, err := opts.Token(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch token: %w", err)
		}
		headers["Authorization"] = "Bearer " + token
	}

	plan := Plan(h.Size(), h.ChunkSize())
	result := &Result{Name: name, Chunks: len(plan)}
	log := s.log.With(zap.String("name", name), zap.Int("chunks", len(plan)))

	if h.IsUploaded() {
		result.Skipped = len(plan)
		log.Info("file already uploaded")
		return result, nil
	}

	agg := progress.New()
	defer agg.Destroy()
	if opts.OnProgress != nil {
		if _, err := agg.Watch(opts.OnProgress, opts.ProgressInterval); err != nil {
			return nil, err
		}
	}

	if err := h.SetStatus(file.StatusUploading); err != nil {
		return nil, err
	}

	for _, chunk := range plan {
		length := chunk.EndPos - chunk.BeginPos
		if h.IsChunkUploaded(chunk.BeginPos, chunk.EndPos) {
			agg.Remember(length, length)
			result.Skipped++
			log.Info("chunk skipped", zap.Int64("begin", chunk.BeginPos), zap.Int64("end", chunk.EndPos))
			continue
		}

		if err := s.sendChunk(ctx, h, target, headers, chunk, agg.Spy()); err != nil {
			s.saveCache(ctx, h, log)
			return result, err
		}
		result.Bytes += length
		s.saveCache(ctx, h, log)
		log.Info("chunk sent", zap.Int64("begin", chunk.BeginPos), zap.Int64("end", chunk.EndPos))
	}

	if err := h.SetStatus(file.StatusUploaded); err != nil {
		return result, err
	}
	if _, err := h.ClearCache(ctx, ""); err != nil {
		log.Warn("failed to clear upload record", zap.Error(err))
	}
	if opts.OnProgress != nil {
		opts.OnProgress(agg.Measure(0))
	}
	return result, nil
}

func (s *Service) sendChunk(ctx context.Context, h *file.Handle, target string, headers map[string]string, chunk file.ChunkState, spy func(progress.Sample)) error {
	size := h.Size()
	var (
		data         []byte
		contentRange string
		err          error
	)
	if size == 0 {
		data = []byte{}
		contentRange = "bytes */0"
	} else {
		if err := h.SetChunkState(chunk.BeginPos, chunk.EndPos, file.StatusUploading); err != nil {
			return err
		}
		data, err = h.Slice(ctx, chunk.BeginPos, chunk.EndPos)
		if err != nil {
			return err
		}
		contentRange = fmt.Sprintf("bytes %d-%d/%d", chunk.BeginPos, chunk.EndPos-1, size)
	}

	chunkHeaders := map[string]string{"Content-Range": contentRange}
	for k, v := range headers {
		chunkHeaders[k] = v
	}

	_, err = s.sender.Put(ctx, target, data, &requestor.Options{
		DataType:       requestor.DataRaw,
		ResponseType:   requestor.ResponseJSON,
		Headers:        chunkHeaders,
		UploadProgress: spy,
	}, nil)
	if err != nil {
		if size > 0 {
			_ = h.SetChunkState(chunk.BeginPos, chunk.EndPos, file.ChunkPending)
		}
		return err
	}
	if size > 0 {
		return h.SetChunkState(chunk.BeginPos, chunk.EndPos, file.StatusUploaded)
	}
	return nil
}

func (s *Service) saveCache(ctx context.Context, h *file.Handle, log *zap.Logger) {
	if _, err := h.SaveCache(ctx, ""); err != nil {
		log.Warn("failed to save upload record", zap.Error(err))
	}
}

// Plan splits size bytes into chunks of chunkSize. An empty file yields a
// single empty chunk so it is still created remotely.
func Plan(size, chunkSize int64) []file.ChunkState {
	if size == 0 {
		return []file.ChunkState{{}}
	}
	var chunks []file.ChunkState
	for begin := int64(0); begin < size; begin += chunkSize {
		chunks = append(chunks, file.ChunkState{BeginPos: begin, EndPos: min(begin+chunkSize, size)})
	}
	return chunks
}
