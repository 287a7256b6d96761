package requestor_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/mocks"
	"github.com/stefando/resumableupload/internal/progress"
	"github.com/stefando/resumableupload/internal/requestor"
)

func TestRequestor_SendJSON(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *requestor.Request) (*requestor.Response, error) {
			req.Equal(http.MethodPost, r.Method)
			req.Equal("https://api.example.com/upload", r.URL.String())
			req.JSONEq(`{"name":"a.txt"}`, string(r.Body))
			req.Equal("application/json;charset=utf-8", r.Header.Get("Content-Type"))
			req.Equal(requestor.DefaultAccept, r.Header.Get("Accept"))
			return &requestor.Response{Status: http.StatusCreated, Body: []byte(`{"ok":true}`)}, nil
		})

	r, err := requestor.New(transport, requestor.Descriptor{}, nil)
	req.NoError(err)

	res, err := r.Send(context.Background(), requestor.Descriptor{
		Method:  "post",
		URL:     "https://api.example.com/upload",
		Payload: map[string]string{"name": "a.txt"},
	})
	req.NoError(err)
	req.Equal(http.StatusCreated, res.Status)
	req.Equal(map[string]any{"ok": true}, res.Data)
	req.Equal(requestor.StateSucceeded, r.State())

	// single-use
	_, err = r.Send(context.Background(), requestor.Descriptor{})
	req.ErrorIs(err, requestor.ErrReused)
}

func TestRequestor_GetMovesPayloadToQuery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *requestor.Request) (*requestor.Response, error) {
			req.Equal(http.MethodGet, r.Method)
			req.Equal("1", r.URL.Query().Get("a"))
			req.Equal("yes", r.URL.Query().Get("keep"))
			req.Empty(r.Body)
			return &requestor.Response{Status: http.StatusOK}, nil
		})

	r, err := requestor.New(transport, requestor.Descriptor{
		Method: http.MethodGet,
		URL:    "https://api.example.com/x?keep=yes",
	}, nil)
	req.NoError(err)

	_, err = r.Send(context.Background(), requestor.Descriptor{Payload: map[string]any{"a": 1}})
	req.NoError(err)
}

func TestRequestor_UnserializablePayloadBecomesEmptyObject(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	r, err := requestor.New(transport, requestor.Descriptor{
		URL:     "https://api.example.com/x",
		Payload: map[string]any{"fn": func() {}},
	}, nil)
	req.NoError(err)
	req.Equal("{}", string(r.Body()))
}

func TestRequestor_Configure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	r, err := requestor.New(transport, requestor.Descriptor{URL: "https://api.example.com"}, nil)
	req.NoError(err)

	req.NoError(r.Configure(requestor.Options{
		Method:  "put",
		Params:  url.Values{"partNumber": {"2"}},
		Headers: map[string]string{"Authorization": "Bearer t", "X-Empty": ""},
	}))

	req.Equal(http.MethodPut, r.Method())
	req.Equal("https://api.example.com?partNumber=2", r.URL())
	headers := r.Headers()
	req.Equal("Bearer t", headers["Authorization"])
	req.NotContains(headers, "X-Empty")
}

func TestRequestor_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		response  *requestor.Response
		err       error
		wantState requestor.State
		check     func(*require.Assertions, error)
	}{
		{
			name:      "redirect status is success",
			response:  &requestor.Response{Status: http.StatusNotModified},
			wantState: requestor.StateSucceeded,
			check:     func(req *require.Assertions, err error) { req.NoError(err) },
		},
		{
			name:      "server error carries body",
			response:  &requestor.Response{Status: http.StatusInternalServerError, Body: []byte("boom")},
			wantState: requestor.StateApplicationError,
			check: func(req *require.Assertions, err error) {
				var appErr *errs.ApplicationError
				req.True(errors.As(err, &appErr))
				req.Equal([]byte("boom"), appErr.Body)
				req.Equal(http.StatusInternalServerError, appErr.Status)
			},
		},
		{
			name:      "undecodable json is an application error",
			response:  &requestor.Response{Status: http.StatusOK, Body: []byte("not json")},
			wantState: requestor.StateApplicationError,
			check:     func(req *require.Assertions, err error) { req.True(errs.IsApplication(err)) },
		},
		{
			name:      "transport failure is a network error",
			err:       errors.New("connection reset"),
			wantState: requestor.StateNetworkError,
			check:     func(req *require.Assertions, err error) { req.True(errs.IsNetwork(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			transport := mocks.NewMockTransport(ctrl)
			transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(tt.response, tt.err)

			r, err := requestor.New(transport, requestor.Descriptor{URL: "https://api.example.com"}, nil)
			req.NoError(err)

			_, err = r.Send(context.Background(), requestor.Descriptor{})
			tt.check(req, err)
			req.Equal(tt.wantState, r.State())

			// late cancellation after settlement is a no-op
			r.Cancel()
			req.False(r.Aborted())
			req.Equal(tt.wantState, r.State())
		})
	}
}

func TestRequestor_CancelDuringSend(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	r, err := requestor.New(transport, requestor.Descriptor{URL: "https://api.example.com"}, nil)
	req.NoError(err)

	transport.EXPECT().Cancel().Times(1)
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *requestor.Request) (*requestor.Response, error) {
			r.Cancel()
			r.Cancel()
			// a transport that cannot abort still completes
			return &requestor.Response{Status: http.StatusOK}, nil
		})

	_, err = r.Send(context.Background(), requestor.Descriptor{})
	req.ErrorIs(err, errs.ErrCancelled)
	req.Equal(requestor.StateCancelled, r.State())
	req.True(r.Aborted())
}

func TestRequestor_CancelBeforeSend(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Cancel()

	r, err := requestor.New(transport, requestor.Descriptor{URL: "https://api.example.com"}, nil)
	req.NoError(err)

	r.Cancel()
	_, err = r.Send(context.Background(), requestor.Descriptor{})
	req.ErrorIs(err, errs.ErrCancelled)
}

func TestRequestor_ProgressSilencedAfterCancel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Cancel().AnyTimes()

	var loaded []int64
	r, err := requestor.New(transport, requestor.Descriptor{
		URL: "https://api.example.com",
		Options: &requestor.Options{
			DataType: requestor.DataRaw,
			UploadProgress: func(s progress.Sample) {
				loaded = append(loaded, s.Loaded)
			},
		},
	}, nil)
	req.NoError(err)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rq *requestor.Request) (*requestor.Response, error) {
			rq.UploadProgress(progress.Sample{Loaded: 2, Total: 4})
			r.Cancel()
			rq.UploadProgress(progress.Sample{Loaded: 4, Total: 4})
			return nil, errors.New("aborted")
		})

	_, err = r.Send(context.Background(), requestor.Descriptor{Payload: []byte("data")})
	req.ErrorIs(err, errs.ErrCancelled)
	req.Equal([]int64{2}, loaded)
}

func TestRequestor_Destroy(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	r, err := requestor.New(transport, requestor.Descriptor{URL: "https://api.example.com"}, nil)
	req.NoError(err)

	r.Destroy()
	r.Destroy()
	req.Equal(requestor.StateDestroyed, r.State())

	_, err = r.Send(context.Background(), requestor.Descriptor{})
	req.ErrorIs(err, errs.ErrUseAfterDestroy)
	req.ErrorIs(r.Configure(requestor.Options{}), errs.ErrUseAfterDestroy)
}

func TestRequestor_RawPayloadValidation(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	_, err := requestor.New(transport, requestor.Descriptor{
		URL:     "https://api.example.com",
		Options: &requestor.Options{DataType: requestor.DataRaw},
		Payload: 42,
	}, nil)
	req.True(errs.IsValidation(err))

	_, err = requestor.New(nil, requestor.Descriptor{}, nil)
	req.True(errs.IsValidation(err))
}
