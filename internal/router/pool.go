package router

import (
	"context"
	"sync"

	"github.com/flemzord/relaybot/pkg/message"
)

// DefaultWorkerCount is the number of workers when none is configured.
const DefaultWorkerCount = 8

// envelope wraps an inbound event in the inbox.
type envelope struct {
	Message message.InboundMessage
	Key     string
}

// WorkerPool runs a fixed set of goroutines draining the inbox.
type WorkerPool struct {
	size int
	wg   sync.WaitGroup
}

// NewWorkerPool creates a pool; size <= 0 means DefaultWorkerCount.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkerCount
	}
	return &WorkerPool{size: size}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Start launches the workers. They exit when inbox is closed.
func (p *WorkerPool) Start(ctx context.Context, inbox <-chan envelope, handler func(context.Context, envelope)) {
	for range p.size {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for env := range inbox {
				handler(ctx, env)
			}
		}()
	}
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
