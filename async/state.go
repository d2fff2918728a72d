package async

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const stateSignature uint32 = 0x41535445

// liveStates counts allocated operation states. Used by tests to verify the
// runtime cleans up after every completed or canceled operation.
var liveStates atomic.Int32

// StateCount returns the number of live operation states.
func StateCount() int {
	return int(liveStates.Load())
}

// state is the library-owned machinery for one in-flight operation. It is
// reference counted: the block holds one reference until terminal
// completion, and every scheduled work, timer, or completion callback holds
// one for as long as it is pending.
type state struct {
	signature     uint32
	refs          atomic.Int32
	workScheduled atomic.Bool
	canceled      atomic.Bool

	provider Provider
	data     ProviderData

	timerMu sync.Mutex
	timer   *time.Timer

	wait waitGate

	token    any
	identity string
}

func newState() *state {
	s := &state{signature: stateSignature}
	s.refs.Store(1)
	s.wait.init()
	liveStates.Add(1)
	return s
}

func (s *state) addRef() {
	s.refs.Add(1)
}

func (s *state) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerMu.Unlock()
	if s.data.Queue != nil {
		s.data.Queue.Release()
		s.data.Queue = nil
	}
	liveStates.Add(-1)
}

// waitGate is the operation's wait primitive: a sticky one-shot gate built
// on a mutex and condition variable. Signal is idempotent; the runtime
// invokes it exactly once per operation.
type waitGate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	satisfied bool
}

func (g *waitGate) init() {
	g.cond = sync.NewCond(&g.mu)
}

func (g *waitGate) signal() {
	g.mu.Lock()
	if !g.satisfied {
		g.satisfied = true
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

func (g *waitGate) waitFor() {
	g.mu.Lock()
	for !g.satisfied {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// spinLock is the single-byte lock guarding a block's internal tuple. It is
// held only for O(1) work, never across provider calls or submissions.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) unlock() {
	l.held.Store(false)
}
