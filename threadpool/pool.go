package threadpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Callback is the pool's work routine. It receives an Action whose Complete
// method may be invoked before the callback returns to signal that the
// callback has stopped touching the state it was dispatched for.
type Callback func(*Action)

// Action is the completion handshake for one dispatched call. Complete is
// idempotent and only ever invoked from the worker goroutine running the
// callback, so no locking is needed around invoked.
type Action struct {
	pool    *Pool
	invoked bool
}

// Complete marks the call as finished. A callback that closes the structure
// which owns the pool (for example a queue closing itself from inside one of
// its callbacks) must call Complete first; the worker invokes it on the
// callback's behalf otherwise.
func (a *Action) Complete() {
	if a.invoked {
		return
	}
	a.invoked = true
	a.pool.activeMu.Lock()
	a.pool.activeCalls--
	a.pool.activeCond.Broadcast()
	a.pool.activeMu.Unlock()
}

// Pool is a fixed-size set of parked worker goroutines awakened by Submit.
// The pool is reference counted so that the structure driving it can be torn
// down from within a callback while the worker unwinds.
type Pool struct {
	refs atomic.Int32

	wakeMu    sync.Mutex
	wake      *sync.Cond
	calls     uint32
	terminate bool

	activeMu    sync.Mutex
	activeCond  *sync.Cond
	activeCalls uint32

	callback Callback
	size     int
}

// New creates a pool of max(1, GOMAXPROCS) workers, all parked. Every
// Submit dispatches exactly one invocation of callback.
func New(callback Callback) *Pool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &Pool{callback: callback, size: size}
	p.refs.Store(1)
	p.wake = sync.NewCond(&p.wakeMu)
	p.activeCond = sync.NewCond(&p.activeMu)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// AddRef takes an additional reference on the pool.
func (p *Pool) AddRef() {
	p.refs.Add(1)
}

// Release drops a reference. The pool's goroutines exit once Terminate has
// run; references only pin the Go object so in-flight workers can touch it.
func (p *Pool) Release() {
	p.refs.Add(-1)
}

// Submit schedules one callback invocation, waking a parked worker. The call
// is counted as active until its Action completes.
func (p *Pool) Submit() {
	p.activeMu.Lock()
	p.activeCalls++
	p.activeMu.Unlock()

	p.wakeMu.Lock()
	p.calls++
	p.wake.Signal()
	p.wakeMu.Unlock()
}

// Terminate stops the pool. Already-submitted calls are still dispatched;
// Terminate returns once every active call has acknowledged completion.
// Safe to call from inside a pool callback provided that callback invoked
// its Action's Complete first.
func (p *Pool) Terminate() {
	p.wakeMu.Lock()
	p.terminate = true
	p.wake.Broadcast()
	p.wakeMu.Unlock()

	p.activeMu.Lock()
	for p.activeCalls != 0 {
		p.activeCond.Wait()
	}
	p.activeMu.Unlock()
}

func (p *Pool) worker() {
	p.wakeMu.Lock()
	for {
		for p.calls == 0 && !p.terminate {
			p.wake.Wait()
		}
		if p.calls == 0 && p.terminate {
			p.wakeMu.Unlock()
			return
		}

		p.calls--
		p.wakeMu.Unlock()

		p.AddRef()
		a := &Action{pool: p}
		p.callback(a)
		a.Complete()
		p.Release()

		p.wakeMu.Lock()
	}
}
