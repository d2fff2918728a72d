// Package lockless implements the unbounded lock-free FIFO list that backs
// the callback lanes of asyncq. The only synchronization primitive used is
// atomic compare-and-swap; popped nodes can be re-injected to move values
// between lists without allocation.
package lockless
