package httpcall

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/korelabs/asynchttp/errors"
	"github.com/korelabs/asynchttp/resilience"
)

// headerList preserves insertion order while letting duplicate sets
// overwrite in place. Lookup is case-insensitive per HTTP semantics; the
// name's original casing from the first set is preserved for iteration.
type headerList struct {
	names  []string
	values []string
	index  map[string]int
}

func (h *headerList) set(name, value string) {
	key := strings.ToLower(name)
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[key]; ok {
		h.values[i] = value
		return
	}
	h.index[key] = len(h.names)
	h.names = append(h.names, name)
	h.values = append(h.values, value)
}

func (h *headerList) get(name string) (string, bool) {
	i, ok := h.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return h.values[i], true
}

func (h *headerList) at(i int) (string, string, bool) {
	if i < 0 || i >= len(h.names) {
		return "", "", false
	}
	return h.names[i], h.values[i], true
}

func (h *headerList) len() int { return len(h.names) }

func (h *headerList) clear() {
	h.names = nil
	h.values = nil
	h.index = nil
}

// NetworkErrorKind classifies transport-level failures surfaced on the call
// object. Transport failures are distinct from the async operation's status:
// the operation still completes successfully and the caller inspects the
// call.
type NetworkErrorKind int

const (
	// NetworkErrorNone means the exchange reached an HTTP response.
	NetworkErrorNone NetworkErrorKind = iota
	// NetworkErrorFailed is a generic connection or protocol failure.
	NetworkErrorFailed
	// NetworkErrorTimeout means the attempt exceeded its time budget.
	NetworkErrorTimeout
)

// String returns the kind name.
func (k NetworkErrorKind) String() string {
	switch k {
	case NetworkErrorNone:
		return "none"
	case NetworkErrorTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// Call is one HTTP exchange: the populated request, the retry policy, and
// the response slots filled in by the backend. A call is created by New,
// populated with the request setters, consumed by Perform, and released by
// Cleanup.
type Call struct {
	id            uint64
	correlationID string

	method  string
	url     string
	headers headerList
	body    []byte
	retry   resilience.RetryPolicy

	respMu      sync.Mutex
	respStatus  int
	respHeaders headerList
	respBody    []byte
	netErrKind  NetworkErrorKind
	netErrCause error

	mockedFrom *MockCall
	refs       atomic.Int32
}

// New creates an empty call with the runtime's default retry policy and a
// fresh identity. Fails with NOT_INITIALISED before GlobalInitialize.
func New() (*Call, error) {
	rt, err := instance()
	if err != nil {
		return nil, err
	}
	c := &Call{
		id:            rt.nextCallID(),
		correlationID: uuid.NewString(),
		retry:         rt.defaultRetryPolicy(),
	}
	c.refs.Store(1)
	rt.log.Trace("call created", map[string]interface{}{"call_id": c.id})
	return c, nil
}

// ID returns the call's process-unique monotonically increasing id.
func (c *Call) ID() uint64 { return c.id }

// CorrelationID returns the call's correlation id. The default backend sends
// it as the X-Correlation-ID header unless the request already carries one,
// and each attempt's span records it. Log lines identify the call by its
// numeric id only and do not include the correlation id.
func (c *Call) CorrelationID() string { return c.correlationID }

// AddRef takes an additional reference on the call.
func (c *Call) AddRef() *Call {
	c.refs.Add(1)
	return c
}

// Cleanup releases one reference. The call must not be used after its last
// reference is released.
func (c *Call) Cleanup() {
	c.refs.Add(-1)
}

// --- Request side ---

// SetURL sets the HTTP method and target URL.
func (c *Call) SetURL(method, url string) error {
	if method == "" || url == "" {
		return apperrors.InvalidArg("method and url must not be empty")
	}
	c.method = method
	c.url = url
	return nil
}

// Method returns the HTTP method.
func (c *Call) Method() string { return c.method }

// URL returns the target URL.
func (c *Call) URL() string { return c.url }

// SetHeader sets a request header. Setting a name twice overwrites the value
// but keeps the header's original position.
func (c *Call) SetHeader(name, value string) error {
	if name == "" {
		return apperrors.InvalidArg("header name must not be empty")
	}
	c.headers.set(name, value)
	return nil
}

// Header returns a request header by name.
func (c *Call) Header(name string) (string, bool) {
	return c.headers.get(name)
}

// HeaderAt returns the i-th request header in insertion order.
func (c *Call) HeaderAt(i int) (name, value string, ok bool) {
	return c.headers.at(i)
}

// NumHeaders returns the number of request headers.
func (c *Call) NumHeaders() int { return c.headers.len() }

// SetRequestBody sets the raw request body. The call keeps the slice; the
// caller must not modify it afterwards.
func (c *Call) SetRequestBody(body []byte) {
	c.body = body
}

// SetRequestBodyString sets the request body from a string.
func (c *Call) SetRequestBodyString(body string) {
	c.body = []byte(body)
}

// RequestBody returns the request body. Valid until the next mutation of the
// call.
func (c *Call) RequestBody() []byte { return c.body }

// SetRetryAllowed enables or disables retries for this call.
func (c *Call) SetRetryAllowed(allowed bool) {
	c.retry.Allowed = allowed
}

// RetryAllowed reports whether this call may be retried.
func (c *Call) RetryAllowed() bool { return c.retry.Allowed }

// SetRetryDelay sets the delay before the first retry; later retries double
// it each time.
func (c *Call) SetRetryDelay(d time.Duration) {
	if d > 0 {
		c.retry.BaseDelay = d
	}
}

// SetTimeoutWindow sets the total wall-clock budget for the call including
// all retries.
func (c *Call) SetTimeoutWindow(d time.Duration) {
	if d > 0 {
		c.retry.Window = d
	}
}

// TimeoutWindow returns the call's total retry budget.
func (c *Call) TimeoutWindow() time.Duration { return c.retry.Window }

// RetryPolicy returns the call's effective retry policy.
func (c *Call) RetryPolicy() resilience.RetryPolicy { return c.retry }

// --- Response side (written by the backend, read by the caller) ---

// SetResponseStatus records the HTTP status code.
func (c *Call) SetResponseStatus(status int) {
	c.respMu.Lock()
	c.respStatus = status
	c.respMu.Unlock()
}

// ResponseStatus returns the HTTP status code of the response.
func (c *Call) ResponseStatus() int {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.respStatus
}

// SetResponseHeader records a response header.
func (c *Call) SetResponseHeader(name, value string) {
	c.respMu.Lock()
	c.respHeaders.set(name, value)
	c.respMu.Unlock()
}

// ResponseHeader returns a response header by name.
func (c *Call) ResponseHeader(name string) (string, bool) {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.respHeaders.get(name)
}

// ResponseHeaderAt returns the i-th response header in insertion order.
func (c *Call) ResponseHeaderAt(i int) (name, value string, ok bool) {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.respHeaders.at(i)
}

// NumResponseHeaders returns the number of response headers.
func (c *Call) NumResponseHeaders() int {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.respHeaders.len()
}

// SetResponseBody replaces the response body.
func (c *Call) SetResponseBody(body []byte) {
	c.respMu.Lock()
	c.respBody = body
	c.respMu.Unlock()
}

// AppendResponseBody appends a chunk to the response body as the backend
// streams it in.
func (c *Call) AppendResponseBody(chunk []byte) {
	c.respMu.Lock()
	c.respBody = append(c.respBody, chunk...)
	c.respMu.Unlock()
}

// ResponseBody returns the raw response body. Valid until the next mutation
// of the call.
func (c *Call) ResponseBody() []byte {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.respBody
}

// ResponseBodyString returns the response body as a string.
func (c *Call) ResponseBodyString() string {
	return string(c.ResponseBody())
}

// SetNetworkError records a transport-level failure for this call.
func (c *Call) SetNetworkError(kind NetworkErrorKind, cause error) {
	c.respMu.Lock()
	c.netErrKind = kind
	c.netErrCause = cause
	c.respMu.Unlock()
}

// NetworkError returns the transport failure, if any.
func (c *Call) NetworkError() (NetworkErrorKind, error) {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	return c.netErrKind, c.netErrCause
}

// MockedFrom returns the mock that served this call, or nil.
func (c *Call) MockedFrom() *MockCall { return c.mockedFrom }

// resetResponse clears the response slots between retry attempts.
func (c *Call) resetResponse() {
	c.respMu.Lock()
	c.respStatus = 0
	c.respHeaders.clear()
	c.respBody = nil
	c.netErrKind = NetworkErrorNone
	c.netErrCause = nil
	c.respMu.Unlock()
}
