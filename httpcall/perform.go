package httpcall

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/korelabs/asynchttp/async"
	apperrors "github.com/korelabs/asynchttp/errors"
	"github.com/korelabs/asynchttp/logger"
	"github.com/korelabs/asynchttp/observability"
	"github.com/korelabs/asynchttp/resilience"
)

// performToken guards Perform-initiated blocks against cross-wired result
// calls.
var performToken = new(struct{})

// Perform drives the call through the async protocol. It is the only path
// that touches the network. When the mock engine has a match the canned
// response is copied into the call and the operation completes on the
// Completion lane without any network attempt; otherwise the backend
// provider is scheduled on the Work lane.
//
// The async operation completes successfully even for transport failures;
// callers inspect the call's response and network error fields.
func Perform(block *async.Block, call *Call) error {
	rt, err := instance()
	if err != nil {
		return err
	}
	if block == nil || call == nil {
		return apperrors.InvalidArg("nil block or call")
	}

	if mock, ok := rt.mocks.match(call.Method(), call.URL()); ok {
		applyMockResponse(call, mock)
		if err := async.Begin(block, call, performToken, "Perform", noopProvider{}); err != nil {
			return err
		}
		rt.log.Debug("call served from mock", logger.Fields(
			logger.FieldCallID, call.ID(),
			logger.FieldMethod, call.Method(),
			logger.FieldURL, call.URL(),
		))
		async.Complete(block, nil, 0)
		return nil
	}

	p := &performProvider{
		rt:     rt,
		call:   call,
		policy: call.RetryPolicy(),
		start:  time.Now(),
	}
	if err := async.Begin(block, call, performToken, "Perform", p); err != nil {
		return err
	}
	return async.Schedule(block, 0)
}

// noopProvider backs operations whose outcome is decided before any work is
// scheduled, such as mocked calls.
type noopProvider struct{}

func (noopProvider) DoWork(*async.ProviderData) error { return nil }
func (noopProvider) GetResult(*async.ProviderData) error {
	return apperrors.NotSupported("call results are read from the call object")
}
func (noopProvider) Cancel(*async.ProviderData)  {}
func (noopProvider) Cleanup(*async.ProviderData) {}

// performProvider is the backend-driving provider: each DoWork runs one
// attempt, and retryable outcomes re-schedule the work after the policy's
// backoff until the retry window closes.
type performProvider struct {
	rt      *Runtime
	call    *Call
	policy  resilience.RetryPolicy
	start   time.Time
	attempt int

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (p *performProvider) DoWork(data *async.ProviderData) error {
	call := p.call
	attempt := p.attempt
	p.attempt++

	ctx, cancel := context.WithTimeout(context.Background(), p.attemptBudget())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	err := p.runAttempt(ctx, attempt)

	if err != nil {
		kind := classifyTransportError(err)
		call.SetNetworkError(kind, err)
		if p.shouldRetryTransport(err, attempt) {
			return p.scheduleRetryWithDelay(data, attempt, p.policy.Backoff(attempt))
		}
		p.rt.log.Warn("call failed", logger.Fields(
			logger.FieldCallID, call.ID(),
			logger.FieldAttempt, attempt+1,
			logger.FieldError, err,
		))
		async.Complete(data.Block, nil, 0)
		return nil
	}

	status := call.ResponseStatus()
	if retryableStatus(status) && p.policy.Allowed {
		delay := p.policy.BackoffWithHint(attempt, retryAfterHint(call))
		if p.policy.ShouldRetry(p.start, delay) {
			return p.scheduleRetryWithDelay(data, attempt, delay)
		}
	}

	p.rt.log.Debug("call completed", logger.Fields(
		logger.FieldCallID, call.ID(),
		logger.FieldStatus, status,
		logger.FieldAttempt, attempt+1,
	))
	async.Complete(data.Block, nil, 0)
	return nil
}

// runAttempt executes one backend attempt inside a span.
func (p *performProvider) runAttempt(ctx context.Context, attempt int) error {
	call := p.call
	ctx, span := observability.Tracer().Start(ctx, "httpcall.perform")
	span.SetAttributes(
		attribute.String("http.request.method", call.Method()),
		attribute.String("url.full", call.URL()),
		attribute.Int("http.request.resend_count", attempt),
		attribute.String("correlation.id", call.CorrelationID()),
	)
	defer span.End()

	run := func() error { return p.rt.performFn(ctx, call) }

	var err error
	if p.rt.breaker != nil {
		err = p.rt.breaker.Execute(run)
	} else {
		err = run()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", call.ResponseStatus()))
	return nil
}

// attemptBudget bounds one attempt to what is left of the retry window.
func (p *performProvider) attemptBudget() time.Duration {
	left := p.policy.Remaining(p.start)
	if left <= 0 {
		// The window closed while we were queued; give the attempt a token
		// budget so it fails fast with a timeout.
		return time.Millisecond
	}
	return left
}

func (p *performProvider) shouldRetryTransport(err error, attempt int) bool {
	if !p.policy.Allowed {
		return false
	}
	// A canceled operation must not spawn another attempt.
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	return p.policy.ShouldRetry(p.start, p.policy.Backoff(attempt))
}

func (p *performProvider) scheduleRetryWithDelay(data *async.ProviderData, attempt int, delay time.Duration) error {
	p.rt.log.Info("retrying call", logger.Fields(
		logger.FieldCallID, p.call.ID(),
		logger.FieldAttempt, attempt+1,
		"delay", delay.String(),
	))
	p.call.resetResponse()
	if err := async.Schedule(data.Block, delay); err != nil {
		async.Complete(data.Block, apperrors.Fail(err), 0)
		return apperrors.ErrPending
	}
	return apperrors.ErrPending
}

func (p *performProvider) GetResult(*async.ProviderData) error {
	return apperrors.NotSupported("call results are read from the call object")
}

// Cancel aborts the in-flight attempt, if any. Pending rescheduled work is
// skipped by the runtime.
func (p *performProvider) Cancel(*async.ProviderData) {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *performProvider) Cleanup(*async.ProviderData) {}

// retryableStatus reports whether the HTTP status warrants another attempt:
// request timeout, throttling, or a server-side failure.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// retryAfterHint reads the server's Retry-After header, in seconds.
func retryAfterHint(call *Call) time.Duration {
	v, ok := call.ResponseHeader("Retry-After")
	if !ok {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// classifyTransportError distinguishes deadline blowouts from other
// transport failures.
func classifyTransportError(err error) NetworkErrorKind {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NetworkErrorTimeout
	}
	var timeout interface{ Timeout() bool }
	if stderrors.As(err, &timeout) && timeout.Timeout() {
		return NetworkErrorTimeout
	}
	return NetworkErrorFailed
}
