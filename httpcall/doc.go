// Package httpcall provides the HTTP call object model and the perform
// dispatcher that drives calls through the async runtime.
//
// A Call is a populated request plus response slots and a retry policy.
// Perform schedules the call on the async Work lane, runs attempts through
// the configured backend, applies the window-bounded exponential retry
// policy, and completes the operation on the Completion lane. Transport
// failures complete the async operation successfully; callers inspect the
// call's network error fields.
//
// The mock engine short-circuits matching calls with canned responses so
// tests never touch the network.
//
// The runtime is explicitly constructed:
//
//	if err := httpcall.GlobalInitialize(httpcall.Settings{}); err != nil { ... }
//	defer httpcall.GlobalCleanup()
//
//	call, _ := httpcall.New()
//	call.SetURL("GET", "https://example.com/")
//	block := &async.Block{}
//	httpcall.Perform(block, call)
//	_ = async.Status(block, true)
package httpcall
