package async

import (
	"time"

	apperrors "github.com/korelabs/asynchttp/errors"
)

// WorkFunc is a simple unit of asynchronous work for Run. Its return value
// becomes the operation's terminal status.
type WorkFunc func(*Block) error

// runToken guards Run-initiated blocks against cross-wired result calls.
var runToken = new(struct{})

type runProvider struct {
	work WorkFunc
}

func (p *runProvider) DoWork(data *ProviderData) error {
	Complete(data.Block, p.work(data.Block), 0)
	return nil
}

func (p *runProvider) GetResult(data *ProviderData) error {
	return apperrors.NotSupported("Run operations carry no payload")
}

func (p *runProvider) Cancel(*ProviderData)  {}
func (p *runProvider) Cleanup(*ProviderData) {}

// Run executes work asynchronously on the block's Work lane. The terminal
// status is whatever work returns; there is no result payload.
func Run(block *Block, work WorkFunc) error {
	if work == nil {
		return apperrors.InvalidArg("nil work function")
	}
	if err := Begin(block, nil, runToken, "Run", &runProvider{work: work}); err != nil {
		return err
	}
	return Schedule(block, 0)
}

// RunDelayed is Run with an initial delay before the work is dispatched.
func RunDelayed(block *Block, delay time.Duration, work WorkFunc) error {
	if work == nil {
		return apperrors.InvalidArg("nil work function")
	}
	if err := Begin(block, nil, runToken, "RunDelayed", &runProvider{work: work}); err != nil {
		return err
	}
	return Schedule(block, delay)
}
