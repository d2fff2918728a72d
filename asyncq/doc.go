// Package asyncq implements the callback queue that schedules every
// asynchronous operation of the runtime.
//
// A Queue has two ordered lanes, Work and Completion, each with its own
// dispatch mode: pumped by the caller with Dispatch (Manual and FixedThread),
// delivered on a worker pool (optionally one-at-a-time), or run inline on the
// submitter. Queues derived with NewShared have their own lanes but share
// the parent's worker pool.
//
// Ordering is FIFO per (queue, lane). There is no ordering guarantee between
// lanes or between queues; the async package layers its own guarantee that a
// block's completion callback runs after its work callbacks.
package asyncq
