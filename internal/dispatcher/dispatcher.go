// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/JakeFAU/pricealert/internal/queue"
)

// Runner is a queue consumer that blocks until ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
