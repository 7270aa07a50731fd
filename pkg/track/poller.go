// Package track drives jobs from upload to a terminal status: the Tracker
// coordinates uploads and user actions, the Poller owns one status-query
// loop per tracked job.
package track

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"doctrack/pkg/backend"
	"doctrack/pkg/domain"
	"doctrack/pkg/session"
	"doctrack/pkg/store"
)

const defaultPollInterval = 2 * time.Second

// StatusFunc queries the server-side status of one job.
type StatusFunc func(ctx context.Context, id string) (backend.StatusReport, error)

// Poller runs at most one polling loop per job ID. Loops terminate on their
// own when the job reaches a terminal status, and are cancelled when the job
// is removed from the store or the session is torn down.
type Poller struct {
	jobs     *store.Store
	query    StatusFunc
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup

	unsubscribe func()
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller constructs a poller bound to the job store. It subscribes to the
// store so that Remove stops the matching loop.
func NewPoller(jobs *store.Store, query StatusFunc, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		jobs:     jobs,
		query:    query,
		interval: interval,
		logger:   logger,
		loops:    make(map[string]*loop),
	}
	p.unsubscribe = jobs.Subscribe(func(ev store.Event) {
		if ev.Kind == store.EventRemoved {
			p.Stop(ev.Job.ID)
		}
	})
	return p
}

// Start begins polling id. It is idempotent: if a loop for id is already
// running this is a no-op, which is what enforces the one-poller-per-job
// invariant.
func (p *Poller) Start(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.loops[id]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	p.loops[id] = l
	p.wg.Add(1)
	go p.run(ctx, id, l)
}

// Stop cancels the loop for id, if any. Safe to call when none is running.
// The loop observes cancellation before its next query or wait; a query
// already in flight completes but its result is discarded.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	l, ok := p.loops[id]
	if ok {
		delete(p.loops, id)
	}
	p.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// StopAll cancels every loop. Used at logout and teardown.
func (p *Poller) StopAll() {
	p.mu.Lock()
	loops := p.loops
	p.loops = make(map[string]*loop)
	p.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
}

// Running reports whether a loop for id is active.
func (p *Poller) Running(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[id]
	return ok
}

// Close stops every loop, waits for them to exit and detaches from the store.
func (p *Poller) Close() {
	p.unsubscribe()
	p.StopAll()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, id string, l *loop) {
	defer p.wg.Done()
	defer close(l.done)
	defer p.deregister(id, l)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		report, err := p.query(ctx, id)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			if done := applyReport(p.jobs, p.logger, id, report); done {
				return
			}
		case errors.Is(err, session.ErrExpired):
			// The guard already tore the session down; StopAll follows.
			return
		case backend.IsNotFound(err):
			p.logger.Warn("job gone server-side, stopping poll", "job", id)
			return
		default:
			// Transient transport fault: never a job failure, retry at the
			// normal cadence.
			p.logger.Debug("status poll failed, retrying", "job", id, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(p.interval)
	}
}

// deregister removes the loop entry unless Stop already replaced it with a
// newer loop for the same job.
func (p *Poller) deregister(id string, l *loop) {
	p.mu.Lock()
	if cur, ok := p.loops[id]; ok && cur == l {
		delete(p.loops, id)
	}
	p.mu.Unlock()
}

// applyReport writes a status observation into the store and reports whether
// polling for the job should stop.
func applyReport(jobs *store.Store, logger *slog.Logger, id string, report backend.StatusReport) bool {
	status, ok := domain.ParseStatus(report.Status)
	if !ok {
		logger.Warn("protocol anomaly: unrecognized status, polling stopped",
			"job", id, "status", report.Status)
		return true
	}

	patch := store.Patch{Status: status}
	if report.Error != "" {
		patch.Error = &report.Error
	}
	if status == domain.StatusCompleted {
		now := time.Now().UTC()
		patch.ProcessedAt = &now
	}

	if !jobs.Update(id, patch) {
		if _, exists := jobs.Get(id); !exists {
			return true
		}
		// Regressive observation (late response): discarded, keep polling.
		logger.Debug("discarded out-of-order status", "job", id, "status", status)
	}
	return status.Terminal()
}
