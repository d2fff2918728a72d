// Package async implements the re-entrant state machine that ties a
// caller-owned Block to a provider, a callback queue, and completion and
// waiting primitives.
//
// An operation moves Unattached -> Pending -> Terminal exactly once. Begin
// attaches library state to the block, Schedule queues provider work,
// Complete records the terminal status, and Result drains an optional
// payload. Cancel aborts cooperatively: providers observe the cancellation
// either by the runtime skipping their next DoWork or through their Cancel
// call.
//
// The terminal transition, the completion callback, and the wait signal each
// happen exactly once per operation, and StateCount returns to its prior
// value once an operation has fully drained.
package async
