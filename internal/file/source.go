package file

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/stefando/resumableupload/internal/errs"
)

// Content is an opened source. ReadAt follows io.ReaderAt semantics.
type Content interface {
	Name() string
	MimeType() string
	Size() int64
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Close() error
}

// Source opens the bytes behind a Handle.
type Source interface {
	Open(ctx context.Context) (Content, error)
}

// BytesSource serves an in-memory buffer.
type BytesSource struct {
	Name     string
	MimeType string
	Data     []byte
}

func (s BytesSource) Open(context.Context) (Content, error) {
	return &readerContent{
		name:     s.Name,
		mimeType: s.MimeType,
		size:     int64(len(s.Data)),
		reader:   bytes.NewReader(s.Data),
	}, nil
}

var dataURLPattern = regexp.MustCompile(`^data:([\w\W]+?);base64,`)

// DataURLSource decodes a base64 data URL such as "data:image/png;base64,...".
type DataURLSource struct {
	Name string
	URL  string
}

// IsDataURL reports whether s looks like a base64 data URL.
func IsDataURL(s string) bool {
	return dataURLPattern.MatchString(s)
}

func (s DataURLSource) Open(context.Context) (Content, error) {
	match := dataURLPattern.FindStringSubmatchIndex(s.URL)
	if match == nil {
		return nil, errs.Validation("data url", "missing base64 header")
	}
	data, err := base64.StdEncoding.DecodeString(s.URL[match[1]:])
	if err != nil {
		return nil, errs.Validation("data url", "%v", err)
	}
	return &readerContent{
		name:     s.Name,
		mimeType: s.URL[match[2]:match[3]],
		size:     int64(len(data)),
		reader:   bytes.NewReader(data),
	}, nil
}

// PathSource reads a local file on demand instead of loading it whole.
type PathSource struct {
	Path string
}

func (s PathSource) Open(context.Context) (Content, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", s.Path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, errs.Validation("path", "%s is a directory", s.Path)
	}
	return &readerContent{
		name:   filepath.Base(s.Path),
		size:   info.Size(),
		reader: f,
		closer: f,
	}, nil
}

type readerContent struct {
	name     string
	mimeType string
	size     int64
	reader   io.ReaderAt
	closer   io.Closer
}

func (c *readerContent) Name() string     { return c.name }
func (c *readerContent) MimeType() string { return c.mimeType }
func (c *readerContent) Size() int64      { return c.size }

func (c *readerContent) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.reader.ReadAt(p, off)
}

func (c *readerContent) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
