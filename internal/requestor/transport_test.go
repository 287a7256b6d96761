package requestor_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/progress"
	"github.com/stefando/resumableupload/internal/requestor"
)

func TestHTTPTransport_RoundTrip(t *testing.T) {
	req := require.New(t)

	r := chi.NewRouter()
	r.Put("/files/{name}", func(w http.ResponseWriter, rq *http.Request) {
		body, _ := io.ReadAll(rq.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"` + chi.URLParam(rq, "name") + `","size":` + strconv.Itoa(len(body)) + `,"range":"` + rq.Header.Get("Content-Range") + `"}`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	var samples []progress.Sample
	rq, err := requestor.New(requestor.NewHTTPTransport(server.Client()), requestor.Descriptor{
		Method: http.MethodPut,
		URL:    server.URL + "/files/a.bin",
		Options: &requestor.Options{
			DataType:       requestor.DataRaw,
			Headers:        map[string]string{"Content-Range": "bytes 0-3/4"},
			UploadProgress: func(s progress.Sample) { samples = append(samples, s) },
		},
	}, nil)
	req.NoError(err)

	res, err := rq.Send(context.Background(), requestor.Descriptor{Payload: []byte("abcd")})
	req.NoError(err)
	req.Equal(map[string]any{"name": "a.bin", "size": float64(4), "range": "bytes 0-3/4"}, res.Data)
	req.NotEmpty(samples)
	req.Equal(progress.Sample{Loaded: 4, Total: 4}, samples[len(samples)-1])
}

func TestHTTPTransport_ApplicationError(t *testing.T) {
	req := require.New(t)

	r := chi.NewRouter()
	r.Post("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	rq, err := requestor.New(requestor.NewHTTPTransport(nil), requestor.Descriptor{URL: server.URL + "/"}, nil)
	req.NoError(err)

	_, err = rq.Send(context.Background(), requestor.Descriptor{Payload: map[string]string{}})
	req.True(errs.IsApplication(err))
	req.Equal(requestor.StateApplicationError, rq.State())
}

func TestHTTPTransport_CancelInFlight(t *testing.T) {
	req := require.New(t)

	started := make(chan struct{})
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Post("/", func(w http.ResponseWriter, rq *http.Request) {
		close(started)
		select {
		case <-rq.Context().Done():
		case <-release:
		}
	})
	server := httptest.NewServer(r)
	defer server.Close()
	defer close(release)

	rq, err := requestor.New(requestor.NewHTTPTransport(server.Client()), requestor.Descriptor{URL: server.URL + "/"}, nil)
	req.NoError(err)

	go func() {
		<-started
		rq.Cancel()
	}()

	_, err = rq.Send(context.Background(), requestor.Descriptor{})
	req.ErrorIs(err, errs.ErrCancelled)
	req.Equal(requestor.StateCancelled, rq.State())
}

func TestHTTPTransport_NetworkError(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	rq, err := requestor.New(requestor.NewHTTPTransport(nil), requestor.Descriptor{URL: url}, nil)
	req.NoError(err)

	_, err = rq.Send(context.Background(), requestor.Descriptor{})
	req.True(errs.IsNetwork(err))
}
