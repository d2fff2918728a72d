package httpcall

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"sort"

	"golang.org/x/net/http2"

	"github.com/korelabs/asynchttp/version"
)

// Backend is the platform HTTP capability driven by the perform dispatcher.
// Perform executes exactly one attempt: it either fills the call's response
// slots and returns nil, or returns the transport error. It must honor
// ctx cancellation and deadline.
type Backend interface {
	Perform(ctx context.Context, call *Call) error
}

// PerformFunc adapts a function to the Backend interface. The runtime's
// perform hook uses this to let tests and embedders replace the transport.
type PerformFunc func(ctx context.Context, call *Call) error

// Perform implements Backend.
func (f PerformFunc) Perform(ctx context.Context, call *Call) error {
	return f(ctx, call)
}

const correlationHeader = "X-Correlation-ID"

// netHTTPBackend is the default backend, built on net/http with the
// configured TLS settings and optional HTTP/2.
type netHTTPBackend struct {
	client    *http.Client
	userAgent string
	auth      *AuthConfig
}

func newNetHTTPBackend(s Settings) (*netHTTPBackend, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	tlsCfg, err := s.TLS.build()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}

	if s.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, err
		}
	}

	ua := s.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}

	return &netHTTPBackend{
		// Attempt deadlines come from the dispatcher's context, not a
		// client-wide timeout.
		client:    &http.Client{Transport: transport},
		userAgent: ua,
		auth:      s.Auth,
	}, nil
}

// Perform sends the request and copies the response into the call.
func (b *netHTTPBackend) Perform(ctx context.Context, call *Call) error {
	var body io.Reader
	if len(call.RequestBody()) > 0 {
		body = bytes.NewReader(call.RequestBody())
	}

	req, err := http.NewRequestWithContext(ctx, call.Method(), call.URL(), body)
	if err != nil {
		return err
	}

	for i := 0; i < call.NumHeaders(); i++ {
		name, value, _ := call.HeaderAt(i)
		req.Header.Set(name, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", b.userAgent)
	}
	if req.Header.Get(correlationHeader) == "" {
		req.Header.Set(correlationHeader, call.CorrelationID())
	}
	b.auth.apply(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	call.SetResponseStatus(resp.StatusCode)
	for _, name := range sortedHeaderNames(resp.Header) {
		call.SetResponseHeader(name, resp.Header.Get(name))
	}

	// Stream the body in chunks so large responses accumulate
	// incrementally, the way native backends report data.
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			call.AppendResponseBody(buf[:n])
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// sortedHeaderNames gives a stable iteration order for net/http's header
// map.
func sortedHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
