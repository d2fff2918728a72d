package httpcall

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/korelabs/asynchttp/async"
	apperrors "github.com/korelabs/asynchttp/errors"
)

func TestPerformRequiresRuntime(t *testing.T) {
	err := Perform(&async.Block{}, &Call{})
	if apperrors.CodeOf(err) != apperrors.ErrCodeNotInitialised {
		t.Errorf("expected NOT_INITIALISED, got %v", err)
	}
}

// TestPerformAgainstServer drives the default net/http backend against a
// real local server.
func TestPerformAgainstServer(t *testing.T) {
	var gotUA, gotCorr, gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotCorr.Store(r.Header.Get("X-Correlation-ID"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(200)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	initRuntime(t, Settings{})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("POST", srv.URL+"/ping"); err != nil {
		t.Fatal(err)
	}
	call.SetRequestBodyString("ping")
	if err := call.SetHeader("Content-Type", "text/plain"); err != nil {
		t.Fatal(err)
	}

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatalf("perform failed: %v", err)
	}

	if call.ResponseStatus() != 200 {
		t.Errorf("status: %d", call.ResponseStatus())
	}
	if call.ResponseBodyString() != "pong" {
		t.Errorf("body: %q", call.ResponseBodyString())
	}
	if v, ok := call.ResponseHeader("Content-Type"); !ok || v != "text/plain" {
		t.Errorf("response header: %q", v)
	}
	if kind, _ := call.NetworkError(); kind != NetworkErrorNone {
		t.Errorf("unexpected network error: %s", kind)
	}
	if ua := gotUA.Load().(string); ua == "" {
		t.Error("backend did not send a User-Agent")
	}
	if corr := gotCorr.Load().(string); corr != call.CorrelationID() {
		t.Errorf("correlation header %q != %q", corr, call.CorrelationID())
	}
	if body := gotBody.Load().(string); body != "ping" {
		t.Errorf("request body: %q", body)
	}
}

// TestTransportErrorCompletesOk: transport failures populate the call's
// network error fields while the async operation itself succeeds.
func TestTransportErrorCompletesOk(t *testing.T) {
	boom := stderrors.New("connection refused")
	initRuntime(t, Settings{
		Backend: PerformFunc(func(context.Context, *Call) error { return boom }),
	})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://unreachable/"); err != nil {
		t.Fatal(err)
	}
	call.SetRetryAllowed(false)

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatalf("async status should be success, got %v", err)
	}

	kind, cause := call.NetworkError()
	if kind != NetworkErrorFailed {
		t.Errorf("expected failed, got %s", kind)
	}
	if !stderrors.Is(cause, boom) {
		t.Errorf("cause not preserved: %v", cause)
	}
}

// TestRetryBound: with base delay d and window w, a perpetually failing
// retryable call makes at most floor(log2(w/d)) + 1 attempts.
func TestRetryBound(t *testing.T) {
	var attempts atomic.Int32
	boom := stderrors.New("flaky")
	initRuntime(t, Settings{
		RetryDelay:    50 * time.Millisecond,
		TimeoutWindow: 400 * time.Millisecond,
		Backend: PerformFunc(func(context.Context, *Call) error {
			attempts.Add(1)
			return boom
		}),
	})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://flaky/"); err != nil {
		t.Fatal(err)
	}

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatalf("async status should be success, got %v", err)
	}

	// floor(log2(400/50)) + 1 = 4
	got := attempts.Load()
	if got > 4 {
		t.Errorf("attempt bound exceeded: %d > 4", got)
	}
	if got < 2 {
		t.Errorf("retryable failure should have retried at least once, got %d attempts", got)
	}
	if kind, _ := call.NetworkError(); kind != NetworkErrorFailed {
		t.Errorf("last error not surfaced: %s", kind)
	}
}

// TestRetryOnServerStatus: 503 responses are retried while the window has
// budget, until the origin recovers with a 200.
func TestRetryOnServerStatus(t *testing.T) {
	var attempts atomic.Int32
	initRuntime(t, Settings{
		RetryDelay:    20 * time.Millisecond,
		TimeoutWindow: 2 * time.Second,
		Backend: PerformFunc(func(_ context.Context, call *Call) error {
			if attempts.Add(1) < 3 {
				call.SetResponseStatus(503)
				return nil
			}
			call.SetResponseStatus(200)
			call.SetResponseBody([]byte("recovered"))
			return nil
		}),
	})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://recovering/"); err != nil {
		t.Fatal(err)
	}

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatal(err)
	}

	if call.ResponseStatus() != 200 || call.ResponseBodyString() != "recovered" {
		t.Errorf("expected recovery, got %d %q", call.ResponseStatus(), call.ResponseBodyString())
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNoRetryWhenDisallowed(t *testing.T) {
	var attempts atomic.Int32
	initRuntime(t, Settings{
		Backend: PerformFunc(func(_ context.Context, call *Call) error {
			attempts.Add(1)
			call.SetResponseStatus(500)
			return nil
		}),
	})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://failing/"); err != nil {
		t.Fatal(err)
	}
	call.SetRetryAllowed(false)

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatal(err)
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
	if call.ResponseStatus() != 500 {
		t.Errorf("expected the 500 to surface, got %d", call.ResponseStatus())
	}
}

// TestCancelMidPerform cancels while the backend attempt is in flight; the
// attempt's context is canceled and the operation ends Aborted.
func TestCancelMidPerform(t *testing.T) {
	entered := make(chan struct{})
	observedCancel := make(chan struct{})
	initRuntime(t, Settings{
		Backend: PerformFunc(func(ctx context.Context, _ *Call) error {
			close(entered)
			<-ctx.Done()
			close(observedCancel)
			return ctx.Err()
		}),
	})

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://slow/"); err != nil {
		t.Fatal(err)
	}

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}

	<-entered
	async.Cancel(block)

	if err := async.Status(block, true); !apperrors.IsAborted(err) {
		t.Errorf("expected Aborted, got %v", err)
	}

	select {
	case <-observedCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("backend never observed the cancellation")
	}
}

func TestPerformCallbackOverride(t *testing.T) {
	initRuntime(t, Settings{})

	var used atomic.Bool
	if err := SetPerformCallback(func(_ context.Context, call *Call) error {
		used.Store(true)
		call.SetResponseStatus(200)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	call, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer call.Cleanup()
	if err := call.SetURL("GET", "http://hooked/"); err != nil {
		t.Fatal(err)
	}

	block := &async.Block{}
	if err := Perform(block, call); err != nil {
		t.Fatal(err)
	}
	if err := async.Status(block, true); err != nil {
		t.Fatal(err)
	}
	if !used.Load() {
		t.Error("perform hook was not used")
	}
}
