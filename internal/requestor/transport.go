package requestor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/stefando/resumableupload/internal/progress"
)

// Request is the fully resolved request handed to a Transport.
type Request struct {
	Method          string
	URL             *url.URL
	Header          http.Header
	Body            []byte
	WithCredentials bool

	// UploadProgress, when set, receives the number of body bytes written.
	UploadProgress func(progress.Sample)
}

// Response is the raw outcome of a transport round trip.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport issues one request. Cancel aborts the in-flight request on a best
// effort basis; transports that cannot abort may implement it as a no-op.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Cancel()
}

//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

// HTTPTransport sends requests with net/http. One instance serves one request.
type HTTPTransport struct {
	client *http.Client

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// NewHTTPTransport wraps client; nil means http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Send performs the round trip and reads the whole response body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.cancel = cancel
	if t.cancelled {
		cancel()
	}
	t.mu.Unlock()

	var body io.Reader
	if len(req.Body) > 0 {
		body = &progressReader{
			reader:     bytes.NewReader(req.Body),
			total:      int64(len(req.Body)),
			onProgress: req.UploadProgress,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.ContentLength = int64(len(req.Body))
	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	client := t.client
	if !req.WithCredentials && client.Jar != nil {
		// Cookies are only sent when credentials are requested
		shallow := *client
		shallow.Jar = nil
		client = &shallow
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// Cancel aborts the in-flight request, or the next one if none is in flight.
func (t *HTTPTransport) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = true
	if t.cancel != nil {
		t.cancel()
	}
}

// progressReader reports how much of the body has been consumed.
type progressReader struct {
	reader     io.Reader
	loaded     int64
	total      int64
	onProgress func(progress.Sample)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.loaded += int64(n)
		if r.onProgress != nil {
			r.onProgress(progress.Sample{Loaded: r.loaded, Total: r.total})
		}
	}
	return n, err
}
