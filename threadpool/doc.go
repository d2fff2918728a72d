// Package threadpool provides the worker pool that pumps thread-pool
// dispatch modes of asyncq. Workers park on a condition variable and wake
// per Submit; the Action handshake lets a callback release the pool before
// its stack unwinds so the owning queue can be closed from within.
package threadpool
