package asyncq

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/korelabs/asynchttp/errors"
	"github.com/korelabs/asynchttp/lockless"
	"github.com/korelabs/asynchttp/threadpool"
)

// CallbackType selects one of a queue's two callback lanes.
type CallbackType int

const (
	// Work is the lane for provider work callbacks.
	Work CallbackType = iota
	// Completion is the lane for completion callbacks.
	Completion
)

// String returns the lane name.
func (t CallbackType) String() string {
	if t == Work {
		return "work"
	}
	return "completion"
}

// DispatchMode is the policy by which a lane's callbacks are delivered.
type DispatchMode int

const (
	// Manual accumulates callbacks until the caller pumps them with Dispatch.
	Manual DispatchMode = iota
	// FixedThread accumulates callbacks like Manual, for a lane that one
	// goroutine pumps with Dispatch. The queue records no goroutine
	// identity: Dispatch runs the callbacks on whichever goroutine calls it.
	// Use RegisterSubmitted to wake the pumping goroutine.
	FixedThread
	// ThreadPool delivers callbacks on the queue's worker pool.
	ThreadPool
	// Immediate runs the callback inline on the submitting goroutine.
	Immediate
	// SerializedThreadPool delivers on the worker pool with an additional
	// single-at-a-time guarantee within this lane.
	SerializedThreadPool
)

func (m DispatchMode) valid() bool {
	return m >= Manual && m <= SerializedThreadPool
}

func (m DispatchMode) pooled() bool {
	return m == ThreadPool || m == SerializedThreadPool
}

// Callback is a queued function. The context is the value passed to Submit.
type Callback func(ctx any)

// SubmittedHandler observes submissions, typically to wake a goroutine that
// pumps a Manual or FixedThread lane.
type SubmittedHandler func(t CallbackType)

// entry is one queued callback: (lane, enqueue time, function, context).
type entry struct {
	fn       Callback
	fnPC     uintptr
	ctx      any
	enqueued time.Time
}

// subQueue is one lane of a queue.
type subQueue struct {
	q    *Queue
	typ  CallbackType
	mode DispatchMode
	list *lockless.List[*entry]

	// busy serializes dispatch for SerializedThreadPool lanes.
	busy atomic.Bool
}

// group is the worker set behind pool-mode lanes. Queues created with
// NewShared reference their parent's group so all of them dispatch on the
// same workers.
type group struct {
	refs    atomic.Int32
	pool    *threadpool.Pool
	pending *lockless.List[*subQueue]
}

func newGroup() *group {
	g := &group{pending: lockless.NewList[*subQueue]()}
	g.refs.Store(1)
	g.pool = threadpool.New(g.run)
	return g
}

// dispatch hands one pending token for the lane to the pool.
func (g *group) dispatch(s *subQueue) {
	g.pending.PushBack(s)
	g.pool.Submit()
}

// run is the pool callback: claim a lane token and deliver one entry.
// The Action completes as soon as the worker stops touching lane state so
// a callback may close the queue that is driving it.
func (g *group) run(a *threadpool.Action) {
	s, ok := g.pending.PopFront()
	if !ok {
		a.Complete()
		return
	}
	s.runPooled(a)
}

func (g *group) release() {
	if g.refs.Add(-1) != 0 {
		return
	}
	g.pool.Terminate()
	g.pool.Release()
}

// Queue is a pair of ordered callback lanes (Work, Completion), each with an
// independent dispatch mode. Queues are reference counted; the last Release
// stops the timers and, for the last queue on a worker group, terminates the
// group's pool.
type Queue struct {
	refs   atomic.Int32
	closed atomic.Bool

	work       *subQueue
	completion *subQueue
	grp        *group

	handlerMu    sync.Mutex
	handlers     map[int]SubmittedHandler
	nextHandler  int
	removalMu    sync.Mutex
	timerMu      sync.Mutex
	timers       map[*delayedSubmit]struct{}
	timersClosed bool
}

type delayedSubmit struct {
	timer *time.Timer
}

// New creates a queue with the given dispatch mode per lane.
func New(workMode, completionMode DispatchMode) (*Queue, error) {
	if !workMode.valid() || !completionMode.valid() {
		return nil, apperrors.InvalidArg("unknown dispatch mode")
	}
	q := newQueue(workMode, completionMode)
	if workMode.pooled() || completionMode.pooled() {
		q.grp = newGroup()
	}
	return q, nil
}

// NewShared derives a queue from parent. The derived queue has its own
// callback lanes and modes but shares the parent's worker set, so pool-mode
// lanes of both queues dispatch on the same workers.
func NewShared(parent *Queue, workMode, completionMode DispatchMode) (*Queue, error) {
	if parent == nil {
		return nil, apperrors.InvalidArg("nil parent queue")
	}
	if !workMode.valid() || !completionMode.valid() {
		return nil, apperrors.InvalidArg("unknown dispatch mode")
	}
	q := newQueue(workMode, completionMode)
	switch {
	case parent.grp != nil:
		parent.grp.refs.Add(1)
		q.grp = parent.grp
	case workMode.pooled() || completionMode.pooled():
		// Parent has no workers to share; the derived queue gets its own.
		q.grp = newGroup()
	}
	return q, nil
}

func newQueue(workMode, completionMode DispatchMode) *Queue {
	q := &Queue{
		handlers: make(map[int]SubmittedHandler),
		timers:   make(map[*delayedSubmit]struct{}),
	}
	q.refs.Store(1)
	q.work = &subQueue{q: q, typ: Work, mode: workMode, list: lockless.NewList[*entry]()}
	q.completion = &subQueue{q: q, typ: Completion, mode: completionMode, list: lockless.NewList[*entry]()}
	return q
}

func (q *Queue) side(t CallbackType) *subQueue {
	if t == Work {
		return q.work
	}
	return q.completion
}

// Duplicate takes an additional reference and returns the same queue.
func (q *Queue) Duplicate() *Queue {
	q.refs.Add(1)
	return q
}

// AddRef takes an additional reference.
func (q *Queue) AddRef() {
	q.refs.Add(1)
}

// Release drops a reference. The final release closes the queue: pending
// delayed submits are canceled and the worker group reference is dropped,
// terminating the pool when this was the group's last queue. Safe to call
// from inside one of the queue's own callbacks.
func (q *Queue) Release() {
	if q.refs.Add(-1) != 0 {
		return
	}
	q.closed.Store(true)

	q.timerMu.Lock()
	q.timersClosed = true
	for d := range q.timers {
		d.timer.Stop()
	}
	q.timers = nil
	q.timerMu.Unlock()

	if q.grp != nil {
		q.grp.release()
	}
}

// WorkMode returns the dispatch mode of the given lane.
func (q *Queue) WorkMode(t CallbackType) DispatchMode {
	return q.side(t).mode
}

// IsEmpty reports whether the lane has no queued callbacks. The answer is
// approximate under concurrent submits.
func (q *Queue) IsEmpty(t CallbackType) bool {
	return q.side(t).list.Empty()
}

// Submit enqueues a callback on the lane and delivers it per the lane's
// dispatch mode. Submission is the only fallible queue path; a submit on a
// closed queue fails and callers treat that as an immediate failure of the
// operation that needed the callback.
func (q *Queue) Submit(t CallbackType, ctx any, fn Callback) error {
	if fn == nil {
		return apperrors.InvalidArg("nil callback")
	}
	if q.closed.Load() {
		return apperrors.Closed("queue")
	}

	s := q.side(t)
	e := &entry{fn: fn, fnPC: callbackPC(fn), ctx: ctx, enqueued: time.Now()}
	s.list.PushBack(e)
	q.notifySubmitted(t)

	switch s.mode {
	case Immediate:
		s.dispatchOne()
	case ThreadPool, SerializedThreadPool:
		q.grp.dispatch(s)
	}
	return nil
}

// SubmitDelayed arms a timer that submits the callback after delay. The
// pending submit is dropped if the queue is released before the timer fires.
func (q *Queue) SubmitDelayed(t CallbackType, delay time.Duration, ctx any, fn Callback) error {
	if delay <= 0 {
		return q.Submit(t, ctx, fn)
	}
	if fn == nil {
		return apperrors.InvalidArg("nil callback")
	}

	d := &delayedSubmit{}
	q.timerMu.Lock()
	if q.timersClosed {
		q.timerMu.Unlock()
		return apperrors.Closed("queue")
	}
	d.timer = time.AfterFunc(delay, func() {
		q.timerMu.Lock()
		if q.timers != nil {
			delete(q.timers, d)
		}
		q.timerMu.Unlock()
		_ = q.Submit(t, ctx, fn)
	})
	q.timers[d] = struct{}{}
	q.timerMu.Unlock()
	return nil
}

// Dispatch pops one callback from the lane and runs it on the calling
// goroutine. It reports whether a callback ran. Only lanes in Manual or
// FixedThread mode may be pumped this way.
func (q *Queue) Dispatch(t CallbackType) bool {
	s := q.side(t)
	if s.mode != Manual && s.mode != FixedThread {
		return false
	}
	return s.dispatchOne()
}

// RemoveCallbacks revokes pending callbacks on the lane. For every queued
// entry whose function matches fn, pred is invoked with (searchCtx, entry
// context); entries for which pred returns true are unlinked and dropped.
// Used to revoke callbacks that reference a dying object.
func (q *Queue) RemoveCallbacks(t CallbackType, fn Callback, searchCtx any, pred func(searchCtx, entryCtx any) bool) {
	s := q.side(t)
	fnPC := callbackPC(fn)

	// One removal at a time; concurrent dispatch may still claim entries,
	// in which case they run instead of being removed.
	q.removalMu.Lock()
	defer q.removalMu.Unlock()

	kept := lockless.NewList[*entry]()
	for {
		e, n, ok := s.list.PopNode()
		if !ok {
			break
		}
		if e.fnPC == fnPC && pred(searchCtx, e.ctx) {
			continue
		}
		kept.PushNode(e, n)
	}
	for {
		e, n, ok := kept.PopNode()
		if !ok {
			break
		}
		s.list.PushNode(e, n)
	}
}

// RegisterSubmitted installs a handler invoked after every submit to this
// queue. Returns a handle for UnregisterSubmitted.
func (q *Queue) RegisterSubmitted(fn SubmittedHandler) int {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	q.nextHandler++
	q.handlers[q.nextHandler] = fn
	return q.nextHandler
}

// UnregisterSubmitted removes a handler installed with RegisterSubmitted.
func (q *Queue) UnregisterSubmitted(handle int) {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	delete(q.handlers, handle)
}

func (q *Queue) notifySubmitted(t CallbackType) {
	q.handlerMu.Lock()
	handlers := make([]SubmittedHandler, 0, len(q.handlers))
	for _, h := range q.handlers {
		handlers = append(handlers, h)
	}
	q.handlerMu.Unlock()
	for _, h := range handlers {
		h(t)
	}
}

// dispatchOne claims and runs a single entry on the calling goroutine.
func (s *subQueue) dispatchOne() bool {
	e, ok := s.list.PopFront()
	if !ok {
		return false
	}
	e.fn(e.ctx)
	return true
}

// runPooled delivers one entry on a pool worker. The Action is completed the
// moment the worker has finished touching lane state, before the user
// callback unwinds.
func (s *subQueue) runPooled(a *threadpool.Action) {
	if s.mode == SerializedThreadPool {
		if !s.busy.CompareAndSwap(false, true) {
			// Another worker holds the lane; it re-dispatches any leftovers.
			a.Complete()
			return
		}
		e, ok := s.list.PopFront()
		a.Complete()
		if ok {
			e.fn(e.ctx)
		}
		s.busy.Store(false)
		if !s.list.Empty() && !s.q.closed.Load() {
			s.q.grp.dispatch(s)
		}
		return
	}

	e, ok := s.list.PopFront()
	a.Complete()
	if ok {
		e.fn(e.ctx)
	}
}

// callbackPC identifies a callback function for RemoveCallbacks matching.
// Function values are not comparable in Go; the code pointer is stable for a
// given function and is only ever used for equality.
func callbackPC(fn Callback) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}
