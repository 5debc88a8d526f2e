package enforce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/metrics"
)

const dispatchQueueSize = 64

type call struct {
	collaborator string
	name         string
	fn           func(ctx context.Context) error
}

// dispatcher delivers collaborator calls in order on one worker goroutine.
// Each call is bounded by a timeout; a call that overruns is abandoned and
// the worker moves on.
type dispatcher struct {
	logger  zerolog.Logger
	timeout atomic.Int64

	mu     sync.Mutex
	closed bool
	queue  chan call
	wg     sync.WaitGroup
}

func newDispatcher(timeout time.Duration, logger zerolog.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		queue:  make(chan call, dispatchQueueSize),
	}
	d.setTimeout(timeout)
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) setTimeout(timeout time.Duration) {
	d.timeout.Store(int64(timeout))
}

// submit enqueues c without blocking. It reports false when the call was
// dropped.
func (d *dispatcher) submit(c call) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- c:
		return true
	default:
		metrics.CollaboratorFailures.WithLabelValues(c.collaborator, c.name).Inc()
		d.logger.Warn().Str("collaborator", c.collaborator).Str("call", c.name).Msg("Collaborator queue full, dropping call")
		return false
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for c := range d.queue {
		d.invoke(c)
	}
}

func (d *dispatcher) invoke(c call) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.timeout.Load()))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(c.collaborator, c.name).Inc()
		d.logger.Warn().Err(err).Str("collaborator", c.collaborator).Str("call", c.name).Msg("Collaborator call failed")
	}
}

// stop refuses new calls and waits until queued calls are delivered or ctx
// is done.
func (d *dispatcher) stop(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		d.logger.Warn().Msg("Collaborator queue not drained before shutdown")
	}
}
