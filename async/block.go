package async

import (
	"time"

	"github.com/korelabs/asynchttp/asyncq"
	apperrors "github.com/korelabs/asynchttp/errors"
)

// Block is caller-owned storage representing one in-flight asynchronous
// operation. The zero value is ready for Begin. The storage must stay alive
// until the callback fires or Status(wait=true) returns a non-pending
// status; after that the block may be reused by resetting it to the zero
// value (or calling Reset) first.
type Block struct {
	// Queue delivers this operation's callbacks. When nil, Begin creates a
	// private queue with a serialized work lane and pooled completions.
	Queue *asyncq.Queue

	// Callback, if set, fires exactly once on the Completion lane when the
	// operation reaches a terminal status.
	Callback func(*Block)

	internal blockInternal
}

// blockInternal is the opaque region of a block: a one-byte spin lock
// guarding the attached state pointer and the operation status. The status
// makes a single terminal transition; the state is attached once and
// detached exactly once.
type blockInternal struct {
	lock   spinLock
	begun  bool
	state  *state
	status error
}

// Reset returns the block to the zero value so it can be reused. Only legal
// once the previous operation has reached a terminal status and its result,
// if any, has been retrieved.
func (b *Block) Reset() {
	b.internal = blockInternal{}
}

// withInternal runs fn with the block's internal tuple locked.
func withInternal(b *Block, fn func(i *blockInternal)) {
	b.internal.lock.lock()
	fn(&b.internal)
	b.internal.lock.unlock()
}

// getState returns the attached state, or nil, validating the signature of
// the pointer read from caller memory.
func getState(i *blockInternal) *state {
	s := i.state
	if s != nil && s.signature != stateSignature {
		return nil
	}
	return s
}

// extractState detaches and returns the state. Ownership of the block's
// reference moves to the caller.
func extractState(i *blockInternal) *state {
	s := getState(i)
	i.state = nil
	return s
}

// trySetTerminal records the terminal status if the operation is still
// pending. At most one transition ever succeeds.
func trySetTerminal(i *blockInternal, status error) bool {
	if !apperrors.IsPending(i.status) {
		return false
	}
	i.status = status
	return true
}

// Begin associates the block with a provider and moves the operation to
// Pending. The block's internal region must be zero; anything else means the
// block is still bound to a previous operation and Begin fails with
// INVALID_ARG. The token is echoed back to Result as a guard against
// cross-wired call/result pairs; identity names the initiating API for
// diagnostics.
func Begin(block *Block, ctx any, token any, identity string, provider Provider) error {
	if block == nil {
		return apperrors.InvalidArg("nil async block")
	}
	if provider == nil {
		return apperrors.InvalidArg("nil provider")
	}

	reused := false
	withInternal(block, func(i *blockInternal) {
		if i.begun || i.state != nil || i.status != nil {
			reused = true
			return
		}
		i.begun = true
		i.status = apperrors.ErrPending
	})
	if reused {
		return apperrors.InvalidArg("async block is already associated with another call")
	}

	s := newState()
	s.provider = provider
	s.token = token
	s.identity = identity
	s.data.Block = block
	s.data.Context = ctx

	if block.Queue != nil {
		block.Queue.AddRef()
		s.data.Queue = block.Queue
	} else {
		q, err := asyncq.New(asyncq.SerializedThreadPool, asyncq.ThreadPool)
		if err != nil {
			// Degrade to an immediate failed completion so the caller still
			// observes a terminal status through the usual channels.
			withInternal(block, func(i *blockInternal) {
				trySetTerminal(i, err)
			})
			s.release()
			return err
		}
		s.data.Queue = q
	}

	withInternal(block, func(i *blockInternal) {
		i.state = s
	})
	return nil
}

// Schedule submits the provider's DoWork to the Work lane, after delay if
// one is given. Scheduling while work is already scheduled fails with
// UNEXPECTED. The state gains a reference owned by the pending callback or
// timer, released exactly once when the callback runs or the timer is
// canceled.
func Schedule(block *Block, delay time.Duration) error {
	var s *state
	withInternal(block, func(i *blockInternal) {
		s = getState(i)
	})
	if s == nil {
		return apperrors.InvalidArg("async block has no operation in flight")
	}

	if s.workScheduled.Swap(true) {
		return apperrors.Unexpected("work is already scheduled for this operation")
	}

	s.addRef()
	if delay <= 0 {
		if err := s.data.Queue.Submit(asyncq.Work, s, workerCallback); err != nil {
			s.release()
			completeCommon(block, apperrors.Fail(err), 0)
			return err
		}
		return nil
	}

	s.timerMu.Lock()
	s.timer = time.AfterFunc(delay, func() { timerFired(s) })
	s.timerMu.Unlock()
	return nil
}

// timerFired moves a delayed schedule onto the Work lane. The timer's
// reference transfers to the work submission on success.
func timerFired(s *state) {
	if s.canceled.Load() {
		s.release()
		return
	}
	if err := s.data.Queue.Submit(asyncq.Work, s, workerCallback); err != nil {
		completeCommon(s.data.Block, apperrors.Fail(err), 0)
		s.release()
	}
}

// workerCallback runs on the Work lane: claim the state, clear the
// scheduled flag, skip if canceled, then drive the provider.
func workerCallback(ctx any) {
	s := ctx.(*state)
	defer s.release()

	s.workScheduled.Store(false)
	if s.canceled.Load() {
		return
	}

	err := s.provider.DoWork(&s.data)

	// DoWork may return ErrPending when it will complete later. Otherwise it
	// must either be a failure or it must have called Complete already; a
	// success return without completion is a provider bug.
	if apperrors.IsPending(err) || s.canceled.Load() {
		return
	}
	if err == nil {
		completed := false
		withInternal(s.data.Block, func(i *blockInternal) {
			completed = !apperrors.IsPending(i.status)
		})
		if completed {
			return
		}
		err = apperrors.Unexpected("provider returned success without completing the operation")
	}
	completeCommon(s.data.Block, err, 0)
}

// Complete records the operation's terminal status. Providers call this from
// DoWork or from their own completion callbacks. Passing a pending status is
// a no-op ("still working"). requiredBufferSize declares the payload the
// caller must drain with Result; zero means no payload and the operation's
// state is torn down immediately.
func Complete(block *Block, status error, requiredBufferSize int) {
	if apperrors.IsPending(status) {
		return
	}
	completeCommon(block, status, requiredBufferSize)
}

func completeCommon(block *Block, status error, requiredBufferSize int) {
	var s *state
	completedNow := false
	doCleanup := false

	withInternal(block, func(i *blockInternal) {
		prior := i.status
		completedNow = trySetTerminal(i, status)

		// With no payload there is nothing left to retrieve, so tear down
		// now. Same when the operation was aborted: the canceling caller is
		// not coming back for a result.
		if requiredBufferSize == 0 || apperrors.IsAborted(prior) || status != nil {
			doCleanup = true
			s = extractState(i)
		} else {
			s = getState(i)
		}
	})
	if s == nil {
		return
	}

	if completedNow {
		s.data.BufferSize = requiredBufferSize
		signalCompletion(s)
	}

	if doCleanup {
		cleanupState(s)
	}
}

// signalCompletion delivers the terminal transition: the completion
// callback if the block has one, else the wait gate directly. The
// completion submission owns a state reference until it runs.
func signalCompletion(s *state) {
	block := s.data.Block
	if block.Callback == nil {
		s.wait.signal()
		return
	}

	s.addRef()
	if err := s.data.Queue.Submit(asyncq.Completion, s, completionCallback); err != nil {
		// Queue is gone; deliver inline rather than losing the callback.
		completionCallback(s)
	}
}

func completionCallback(ctx any) {
	s := ctx.(*state)
	block := s.data.Block
	if block.Callback != nil {
		block.Callback(block)
	}
	s.wait.signal()
	s.release()
}

// cleanupState runs the provider's Cleanup, revokes any still-pending Work
// callbacks that reference this state, and drops the block's reference.
func cleanupState(s *state) {
	s.provider.Cleanup(&s.data)

	s.data.Queue.RemoveCallbacks(asyncq.Work, workerCallback, s,
		func(searchCtx, entryCtx any) bool {
			if searchCtx != entryCtx {
				return false
			}
			entryCtx.(*state).release()
			return true
		})

	s.release()
}

// Cancel aborts the operation. If it is still pending its terminal status
// becomes Aborted, a pending timer is disarmed, the provider's Cancel runs
// exactly once, the completion callback fires, and the state is cleaned up.
// Canceling an already-terminal operation is a no-op.
func Cancel(block *Block) {
	var s *state
	withInternal(block, func(i *blockInternal) {
		if !trySetTerminal(i, apperrors.ErrAborted) {
			return
		}
		s = extractState(i)
		if s != nil {
			s.canceled.Store(true)
		}
	})
	if s == nil {
		return
	}

	s.timerMu.Lock()
	t := s.timer
	s.timer = nil
	s.timerMu.Unlock()
	if t != nil && t.Stop() {
		// The timer callback will never run; release its reference here.
		s.release()
	}

	s.provider.Cancel(&s.data)
	signalCompletion(s)
	cleanupState(s)
}

// Status returns the operation's status: nil once successfully complete,
// errors.ErrPending while in flight, errors.ErrAborted after cancellation,
// or the terminal failure. With wait set it blocks until the completion has
// been delivered, which may be after the status itself turns terminal.
func Status(block *Block, wait bool) error {
	var s *state
	var status error
	withInternal(block, func(i *blockInternal) {
		status = i.status
		s = getState(i)
	})

	if wait {
		if s == nil {
			if apperrors.IsPending(status) {
				return apperrors.InvalidArg("pending operation has no state to wait on")
			}
			return status
		}
		s.wait.waitFor()
		return Status(block, false)
	}
	return status
}

// ResultSize returns the size of the buffer to pass to Result. Operations
// that completed successfully with no payload report zero.
func ResultSize(block *Block) (int, error) {
	var s *state
	var status error
	withInternal(block, func(i *blockInternal) {
		status = i.status
		s = getState(i)
	})

	if status != nil {
		return 0, status
	}
	if s == nil {
		return 0, nil
	}
	return s.data.BufferSize, nil
}

// Result copies the operation's payload into buf and returns the number of
// bytes written. The token must match the one given to Begin; a mismatch
// means the caller wired a result call to the wrong operation. A successful
// Result detaches the operation from the block, so it may be called at most
// once. An undersized buffer fails with BUFFER_TOO_SMALL and leaves the
// operation retrievable.
func Result(block *Block, token any, buf []byte) (int, error) {
	var s *state
	var status error
	withInternal(block, func(i *blockInternal) {
		status = i.status
		s = extractState(i)
	})

	if apperrors.IsPending(status) {
		// Still in flight; the operation stays attached.
		if s != nil {
			reattach(block, s)
		}
		return 0, status
	}

	used := 0
	if status == nil {
		switch {
		case s == nil:
			status = apperrors.InvalidArg("operation has no result to retrieve")
		case token != s.token:
			status = apperrors.InvalidArg("call/result mismatch").
				WithDetail("initiated_by", s.identity)
		case s.data.BufferSize == 0:
			status = apperrors.NotSupported("operation has no result payload")
		case len(buf) < s.data.BufferSize:
			// Leave the operation attached so the caller can retry with a
			// larger buffer.
			need := s.data.BufferSize
			reattach(block, s)
			return 0, apperrors.BufferTooSmall(need, len(buf))
		default:
			s.data.Buffer = buf
			if err := s.provider.GetResult(&s.data); err != nil {
				status = err
			} else {
				used = s.data.BufferSize
			}
		}
	}

	if s != nil {
		cleanupState(s)
	}
	return used, status
}

func reattach(block *Block, s *state) {
	withInternal(block, func(i *blockInternal) {
		i.state = s
	})
}
