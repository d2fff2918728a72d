package httpcall

import (
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/korelabs/asynchttp/errors"
)

// Wildcard matches any method or URL in a mock's filters.
const Wildcard = "*"

// MockCall is a canned response selected by method and URL filters. A
// matching mock short-circuits the network path entirely.
type MockCall struct {
	// Method filters on the HTTP method; Wildcard matches any.
	Method string
	// URL filters on the target URL; Wildcard matches any.
	URL string

	// Status is the canned HTTP status. Zero means 200.
	Status int
	// ResponseHeaders are the canned response headers, applied in order.
	ResponseHeaders [][2]string
	// ResponseBody is the canned body.
	ResponseBody []byte
	// NetworkError, when not NetworkErrorNone, makes the mock simulate a
	// transport failure instead of an HTTP response.
	NetworkError NetworkErrorKind
	// NetworkErrorCause accompanies a simulated transport failure.
	NetworkErrorCause error

	refs atomic.Int32
}

// NewMockCall creates a match-anything mock with the given canned response.
func NewMockCall(status int, body string) *MockCall {
	m := &MockCall{
		Method:       Wildcard,
		URL:          Wildcard,
		Status:       status,
		ResponseBody: []byte(body),
	}
	m.refs.Store(1)
	return m
}

// AddRef takes an additional reference on the mock.
func (m *MockCall) AddRef() *MockCall {
	m.refs.Add(1)
	return m
}

// Cleanup releases one reference.
func (m *MockCall) Cleanup() {
	m.refs.Add(-1)
}

func (m *MockCall) matches(method, url string) bool {
	if m.Method != Wildcard && !strings.EqualFold(m.Method, method) {
		return false
	}
	if m.URL != Wildcard && m.URL != url {
		return false
	}
	return true
}

// mockEngine is the singleton-guarded ordered mock list. Lookup picks the
// most recently added matching mock.
type mockEngine struct {
	mu           sync.Mutex
	enabled      bool
	mocks        []*MockCall
	lastMatching *MockCall
}

func (e *mockEngine) setEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

func (e *mockEngine) add(m *MockCall) {
	e.mu.Lock()
	e.mocks = append(e.mocks, m.AddRef())
	e.mu.Unlock()
}

func (e *mockEngine) clear() {
	e.mu.Lock()
	for _, m := range e.mocks {
		m.Cleanup()
	}
	e.mocks = nil
	e.lastMatching = nil
	e.mu.Unlock()
}

func (e *mockEngine) match(method, url string) (*MockCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return nil, false
	}
	for i := len(e.mocks) - 1; i >= 0; i-- {
		if e.mocks[i].matches(method, url) {
			e.lastMatching = e.mocks[i]
			return e.mocks[i], true
		}
	}
	return nil, false
}

func (e *mockEngine) last() *MockCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMatching
}

// SetMocksEnabled turns the mock engine on or off.
func SetMocksEnabled(enabled bool) error {
	rt, err := instance()
	if err != nil {
		return err
	}
	rt.mocks.setEnabled(enabled)
	return nil
}

// AddMock appends a mock to the engine. The engine holds its own reference.
// Later mocks win when several match.
func AddMock(m *MockCall) error {
	rt, err := instance()
	if err != nil {
		return err
	}
	if m == nil {
		return apperrors.InvalidArg("nil mock")
	}
	rt.mocks.add(m)
	return nil
}

// ClearAllMocks removes every registered mock, releasing the engine's
// references.
func ClearAllMocks() error {
	rt, err := instance()
	if err != nil {
		return err
	}
	rt.mocks.clear()
	return nil
}

// LastMatchingMock returns the mock chosen by the most recent lookup, for
// test introspection.
func LastMatchingMock() (*MockCall, error) {
	rt, err := instance()
	if err != nil {
		return nil, err
	}
	return rt.mocks.last(), nil
}

// applyMockResponse copies the mock's canned response into the call.
func applyMockResponse(call *Call, m *MockCall) {
	if m.NetworkError != NetworkErrorNone {
		call.SetNetworkError(m.NetworkError, m.NetworkErrorCause)
	} else {
		status := m.Status
		if status == 0 {
			status = 200
		}
		call.SetResponseStatus(status)
		for _, kv := range m.ResponseHeaders {
			call.SetResponseHeader(kv[0], kv[1])
		}
		call.SetResponseBody(append([]byte(nil), m.ResponseBody...))
	}
	call.mockedFrom = m
}
