package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsCallback(t *testing.T) {
	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	p := New(func(a *Action) {
		ran.Add(1)
		wg.Done()
	})
	defer p.Terminate()

	p.Submit()
	wg.Wait()

	if got := ran.Load(); got != 1 {
		t.Errorf("expected 1 invocation, got %d", got)
	}
}

func TestEverySubmitDispatchesOnce(t *testing.T) {
	const n = 1000
	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	p := New(func(a *Action) {
		ran.Add(1)
		wg.Done()
	})
	defer p.Terminate()

	for i := 0; i < n; i++ {
		p.Submit()
	}
	wg.Wait()

	if got := ran.Load(); got != n {
		t.Errorf("expected %d invocations, got %d", n, got)
	}
}

func TestTerminateWaitsForActiveCalls(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	p := New(func(a *Action) {
		close(entered)
		<-release
	})

	p.Submit()
	<-entered

	done := make(chan struct{})
	go func() {
		p.Terminate()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Terminate returned while a call was still active")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
}

// TestActionCompleteReleasesEarly verifies the handshake: once a callback
// invokes Complete, Terminate may finish even though the callback has not
// returned yet.
func TestActionCompleteReleasesEarly(t *testing.T) {
	unwind := make(chan struct{})
	completed := make(chan struct{})

	p := New(func(a *Action) {
		a.Complete()
		close(completed)
		<-unwind
	})

	p.Submit()
	<-completed

	done := make(chan struct{})
	go func() {
		p.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate should not wait for a call that completed its action")
	}

	close(unwind)
}

func TestTerminateDrainsPendingSubmits(t *testing.T) {
	var ran atomic.Int32
	block := make(chan struct{})

	p := New(func(a *Action) {
		<-block
		ran.Add(1)
	})

	const n = 8
	for i := 0; i < n; i++ {
		p.Submit()
	}
	close(block)
	p.Terminate()

	if got := ran.Load(); got != n {
		t.Errorf("expected %d calls dispatched before terminate returned, got %d", n, got)
	}
}
