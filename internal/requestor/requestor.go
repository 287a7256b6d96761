// Package requestor models one single-use request: configure, send, settle
// exactly once, destroy.
package requestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/killer"
	"github.com/stefando/resumableupload/internal/progress"
)

// ErrReused is returned when Send is called on a requestor that already sent.
var ErrReused = errors.New("requestor is single-use")

// DataType selects how a non-GET payload is serialized.
type DataType string

const (
	DataJSON DataType = "json"
	DataForm DataType = "form"
	DataRaw  DataType = "raw"
)

// ResponseType selects how a successful response body is decoded.
type ResponseType string

const (
	ResponseJSON ResponseType = "json"
	ResponseText ResponseType = "text"
	ResponseRaw  ResponseType = "raw"
)

// DefaultAccept is sent unless the caller sets its own Accept header.
const DefaultAccept = "application/json, text/plain, */*"

// State is the lifecycle position of a Requestor.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateApplicationError
	StateNetworkError
	StateCancelled
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateApplicationError:
		return "applicationError"
	case StateNetworkError:
		return "networkError"
	case StateCancelled:
		return "cancelled"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is a settled outcome.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Options is the allow-list of fields Configure merges. Zero values are left
// untouched.
type Options struct {
	WithCredentials *bool
	Method          string
	Params          url.Values
	Headers         map[string]string
	UploadProgress  func(progress.Sample)
	DataType        DataType
	ResponseType    ResponseType
	KillToken       killer.Token
}

// Descriptor names what to send. Empty Method and URL resend to the current
// target.
type Descriptor struct {
	Method  string
	URL     string
	Payload any
	Options *Options
}

// Result is a settled successful response.
type Result struct {
	Status int
	Header http.Header
	Data   any
	Raw    []byte
}

// Requestor is one request attempt.
type Requestor struct {
	mu        sync.Mutex
	transport Transport
	log       *zap.Logger

	method          string
	target          *url.URL
	params          url.Values
	headers         map[string]string
	body            []byte
	dataType        DataType
	responseType    ResponseType
	withCredentials bool
	uploadProgress  func(progress.Sample)
	killToken       killer.Token

	state     State
	aborted   bool
	errorFlag bool
}

// New creates a requestor bound to transport. desc sets the initial target;
// an empty method means POST.
func New(transport Transport, desc Descriptor, log *zap.Logger) (*Requestor, error) {
	if transport == nil {
		return nil, errs.Validation("transport", "transport is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Requestor{
		transport:    transport,
		log:          log,
		method:       http.MethodPost,
		target:       &url.URL{},
		params:       url.Values{},
		headers:      map[string]string{"Accept": DefaultAccept},
		dataType:     DataJSON,
		responseType: ResponseJSON,
	}

	if desc.Options != nil {
		r.configureLocked(*desc.Options)
	}
	if desc.Method != "" {
		r.method = strings.ToUpper(desc.Method)
	}
	if desc.URL != "" {
		if err := r.retargetLocked(desc.URL); err != nil {
			return nil, err
		}
	}
	if desc.Payload != nil {
		if err := r.applyPayloadLocked(desc.Payload); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Configure merges the allow-listed fields of opts into the requestor.
func (r *Requestor) Configure(opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDestroyed {
		return errs.ErrUseAfterDestroy
	}
	r.configureLocked(opts)
	return nil
}

func (r *Requestor) configureLocked(opts Options) {
	if opts.WithCredentials != nil {
		r.withCredentials = *opts.WithCredentials
	}
	if opts.Method != "" {
		r.method = strings.ToUpper(opts.Method)
	}
	for name, values := range opts.Params {
		r.params[name] = append([]string(nil), values...)
	}
	for name, value := range opts.Headers {
		if value != "" {
			r.headers[name] = value
		}
	}
	if opts.UploadProgress != nil {
		r.uploadProgress = opts.UploadProgress
	}
	if opts.DataType != "" {
		r.dataType = opts.DataType
	}
	if opts.ResponseType != "" {
		r.responseType = opts.ResponseType
	}
	if !opts.KillToken.IsZero() {
		r.killToken = opts.KillToken
	}
}

// Method returns the effective method.
func (r *Requestor) Method() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.method
}

// URL returns the effective target including query parameters.
func (r *Requestor) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolvedURLLocked().String()
}

// Body returns the serialized body.
func (r *Requestor) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Headers returns a copy of the request headers.
func (r *Requestor) Headers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Assign(map[string]string{}, r.headers)
}

// KillToken returns the configured kill token, possibly zero.
func (r *Requestor) KillToken() killer.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killToken
}

// State returns the lifecycle state.
func (r *Requestor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Aborted reports whether Cancel was called before settlement.
func (r *Requestor) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Send resolves desc against the current configuration and performs the
// request. Exactly one outcome is returned: a Result, an ApplicationError,
// a NetworkError or errs.ErrCancelled.
func (r *Requestor) Send(ctx context.Context, desc Descriptor) (*Result, error) {
	r.mu.Lock()
	switch {
	case r.state == StateDestroyed:
		r.mu.Unlock()
		return nil, errs.ErrUseAfterDestroy
	case r.state != StateIdle:
		r.mu.Unlock()
		return nil, ErrReused
	}

	if desc.Options != nil {
		r.configureLocked(*desc.Options)
	}
	if desc.Method != "" {
		r.method = strings.ToUpper(desc.Method)
	}
	if desc.URL != "" {
		if err := r.retargetLocked(desc.URL); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	if desc.Payload != nil {
		if err := r.applyPayloadLocked(desc.Payload); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}

	if r.aborted {
		r.settleLocked(StateCancelled)
		r.mu.Unlock()
		return nil, errs.ErrCancelled
	}

	req := r.buildLocked()
	transport := r.transport
	r.state = StateSending
	r.mu.Unlock()

	resp, err := transport.Send(ctx, req)
	return r.settle(ctx, resp, err)
}

func (r *Requestor) settle(ctx context.Context, resp *Response, err error) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Cancellation wins over whatever the transport reported after it.
	if r.aborted || r.state == StateCancelled {
		r.settleLocked(StateCancelled)
		return nil, errs.ErrCancelled
	}
	if r.errorFlag || r.state.Terminal() {
		return nil, fmt.Errorf("%w: already settled as %s", ErrReused, r.state)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.settleLocked(StateCancelled)
			return nil, fmt.Errorf("%w: %w", errs.ErrCancelled, ctxErr)
		}
		r.errorFlag = true
		r.settleLocked(StateNetworkError)
		r.log.Debug("request failed", zap.String("method", r.method), zap.Error(err))
		return nil, &errs.NetworkError{Op: r.method + " " + r.target.String(), Err: err}
	}

	if resp.Status < 200 || resp.Status >= 400 {
		r.errorFlag = true
		r.settleLocked(StateApplicationError)
		return nil, &errs.ApplicationError{Status: resp.Status, Body: resp.Body}
	}

	result := &Result{Status: resp.Status, Header: resp.Header, Raw: resp.Body}
	switch r.responseType {
	case ResponseText:
		result.Data = string(resp.Body)
	case ResponseRaw:
		result.Data = resp.Body
	default:
		if len(resp.Body) > 0 {
			var data any
			if err := json.Unmarshal(resp.Body, &data); err != nil {
				r.errorFlag = true
				r.settleLocked(StateApplicationError)
				return nil, &errs.ApplicationError{Status: resp.Status, Body: resp.Body, Err: err}
			}
			result.Data = data
		}
	}

	r.settleLocked(StateSucceeded)
	return result, nil
}

// settleLocked moves to a terminal state unless one was already reached.
func (r *Requestor) settleLocked(state State) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.log.Debug("request settled", zap.String("method", r.method), zap.Stringer("state", state))
}

// Cancel requests a transport abort and marks the requestor aborted. It is
// idempotent and a no-op after settlement.
func (r *Requestor) Cancel() {
	r.mu.Lock()
	if r.aborted || r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.aborted = true
	transport := r.transport
	r.mu.Unlock()

	if transport != nil {
		transport.Cancel()
	}
}

// Destroy releases the requestor. It is safe after any terminal state and
// aborts an in-flight request.
func (r *Requestor) Destroy() {
	r.mu.Lock()
	if r.state == StateDestroyed {
		r.mu.Unlock()
		return
	}
	inflight := r.state == StateSending
	transport := r.transport

	r.state = StateDestroyed
	r.aborted = r.aborted || inflight
	r.transport = nil
	r.headers = nil
	r.params = nil
	r.body = nil
	r.uploadProgress = nil
	r.mu.Unlock()

	if inflight && transport != nil {
		transport.Cancel()
	}
}

func (r *Requestor) retargetLocked(raw string) error {
	next, err := url.Parse(raw)
	if err != nil {
		return errs.Validation("url", "%v", err)
	}
	if r.target != nil && r.target.String() != "" && !next.IsAbs() {
		next = r.target.ResolveReference(next)
	}
	for name, values := range next.Query() {
		r.params[name] = values
	}
	next.RawQuery = ""
	r.target = next
	return nil
}

func (r *Requestor) applyPayloadLocked(payload any) error {
	if r.method == http.MethodGet {
		params, err := toValues(payload)
		if err != nil {
			return err
		}
		for name, values := range params {
			r.params[name] = values
		}
		r.body = nil
		return nil
	}

	body, err := r.serializeLocked(payload)
	if err != nil {
		return err
	}
	r.body = body
	return nil
}

func (r *Requestor) serializeLocked(payload any) ([]byte, error) {
	switch r.dataType {
	case DataRaw:
		switch v := payload.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, errs.Validation("payload", "raw payload must be []byte or string, got %T", payload)
	case DataForm:
		values, err := toValues(payload)
		if err != nil {
			return nil, err
		}
		return []byte(values.Encode()), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return []byte("{}"), nil
		}
		return data, nil
	}
}

func (r *Requestor) resolvedURLLocked() *url.URL {
	u := *r.target
	if len(r.params) > 0 {
		u.RawQuery = r.params.Encode()
	}
	return &u
}

func (r *Requestor) buildLocked() *Request {
	body := r.body
	if r.method == http.MethodGet {
		body = nil
	}

	header := http.Header{}
	for name, value := range r.headers {
		header.Set(name, value)
	}
	if len(body) > 0 && header.Get("Content-Type") == "" {
		if contentType := contentTypeOf(r.dataType); contentType != "" {
			header.Set("Content-Type", contentType)
		}
	}

	req := &Request{
		Method:          r.method,
		URL:             r.resolvedURLLocked(),
		Header:          header,
		Body:            body,
		WithCredentials: r.withCredentials,
	}

	if handler := r.uploadProgress; handler != nil {
		req.UploadProgress = func(s progress.Sample) {
			r.mu.Lock()
			silenced := r.aborted || r.errorFlag || r.state == StateDestroyed
			r.mu.Unlock()
			if !silenced {
				handler(s)
			}
		}
	}
	return req
}

func contentTypeOf(dataType DataType) string {
	switch dataType {
	case DataJSON:
		return "application/json;charset=utf-8"
	case DataForm:
		return "application/x-www-form-urlencoded;charset=utf-8"
	}
	return ""
}

func toValues(payload any) (url.Values, error) {
	switch v := payload.(type) {
	case url.Values:
		return v, nil
	case map[string]string:
		values := url.Values{}
		for name, value := range v {
			values.Set(name, value)
		}
		return values, nil
	case map[string]any:
		values := url.Values{}
		for name, value := range v {
			values.Set(name, fmt.Sprint(value))
		}
		return values, nil
	}
	return nil, errs.Validation("payload", "cannot convert %T to query parameters", payload)
}
