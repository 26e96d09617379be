package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/email-analyzer/stats"
)

type StageFunc func(context.Context) error

// Runner runs named stages until they all return. The first stage error
// cancels the shared context so the remaining stages wind down.
type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events       chan stats.Event
	eventsMu     sync.RWMutex
	eventsClosed bool

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

// New derives the runner context from parent, usually a signal-aware context.
func New(parent context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)

	return &Runner{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan stats.Event, 128),
		since:  time.Now(),
	}
}

// EmitEvent hands evt to the stats subscribers. It drops the event once the
// runner is shutting down or the events channel has been closed.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.eventsMu.RLock()
	defer r.eventsMu.RUnlock()
	if r.eventsClosed {
		return
	}
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		// Subscribers drain until the channel closes, not until cancellation.
		if err := fn(context.WithoutCancel(r.ctx), r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start blocks until every stage has returned and the stats subscribers have
// drained, then returns the first stage error.
func (r *Runner) Start() error {
	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.Err()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("service stopped with error", "uptime", duration, "err", err)
		return err
	}

	r.logger.Info("service stopped", "uptime", duration)
	return nil
}

// Err returns the first recorded stage error.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.eventsMu.Lock()
		r.eventsClosed = true
		close(r.events)
		r.eventsMu.Unlock()
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
