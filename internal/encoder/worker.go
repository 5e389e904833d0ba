package encoder

import (
	"context"
	"sync"
)

// DefaultBacklog is how many stored files may wait for encoding before
// Submit blocks
const DefaultBacklog = 64

// Worker runs a Pipeline on its own goroutine, one file at a time, so the
// caller never waits for encoding
type Worker struct {
	pipeline *Pipeline
	jobs     chan string
	done     chan struct{}
	once     sync.Once
}

// Start launches a worker that processes submitted paths under ctx
func (p *Pipeline) Start(ctx context.Context, backlog int) *Worker {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	w := &Worker{
		pipeline: p,
		jobs:     make(chan string, backlog),
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for stored := range w.jobs {
		if ctx.Err() != nil {
			log.Debugw("skipping rendition", "source", stored, "reason", ctx.Err())
			continue
		}
		w.pipeline.Process(ctx, stored)
	}
}

// Submit queues stored for encoding. It blocks only while the backlog is full.
func (w *Worker) Submit(ctx context.Context, stored string) {
	select {
	case w.jobs <- stored:
	case <-ctx.Done():
		log.Warnf("dropping rendition of %s: %v", stored, ctx.Err())
	}
}

// Close stops accepting work and waits for queued files to be processed
func (w *Worker) Close() {
	w.once.Do(func() { close(w.jobs) })
	<-w.done
}
