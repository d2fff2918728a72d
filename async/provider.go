package async

import (
	"github.com/korelabs/asynchttp/asyncq"
)

// ProviderData is the per-operation payload handed to every provider call.
type ProviderData struct {
	// Queue delivers the operation's callbacks.
	Queue *asyncq.Queue
	// Block is the caller-owned block for this operation.
	Block *Block
	// Context is the value supplied to Begin.
	Context any
	// Buffer is the caller's result buffer, set for the GetResult call.
	Buffer []byte
	// BufferSize is the payload size declared by Complete.
	BufferSize int
}

// Provider is the caller-supplied state machine driven by the runtime.
//
// DoWork performs (a slice of) the operation's work. Returning
// errors.ErrPending means the provider will call Complete later, possibly
// from another goroutine. Returning nil without having called Complete is a
// provider bug and terminates the operation with UNEXPECTED. Any other
// return value becomes the operation's terminal status.
//
// GetResult copies the operation's payload into data.Buffer. Cancel asks the
// provider to abandon in-flight work; it must not block. Cleanup is the
// final call, after which the runtime drops the provider.
type Provider interface {
	DoWork(data *ProviderData) error
	GetResult(data *ProviderData) error
	Cancel(data *ProviderData)
	Cleanup(data *ProviderData)
}
