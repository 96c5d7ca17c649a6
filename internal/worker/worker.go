package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pocketmoney/internal/allowance"
	"github.com/dukerupert/pocketmoney/internal/backup"
	"github.com/dukerupert/pocketmoney/internal/chore"
	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/recurrence"
)

// Job is one periodic task. Run returns how many items it handled.
type Job struct {
	Name string
	// Every is the minimum gap between runs; zero runs the job on every tick.
	Every time.Duration
	Run   func(ctx context.Context) (int, error)
}

// Worker runs its jobs in order on a fixed tick. A failing job is logged
// and does not stop the others.
type Worker struct {
	mu       sync.RWMutex
	runMu    sync.Mutex
	jobs     []Job
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	lastRun  map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(interval time.Duration, c clock.Clock, logger *slog.Logger, jobs ...Job) *Worker {
	return &Worker{
		jobs:     jobs,
		interval: interval,
		clock:    c,
		logger:   logger.With("component", "worker"),
		lastRun:  make(map[string]time.Time),
	}
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		w.RunOnce(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the worker, waiting for an in-flight pass.
func (w *Worker) Stop() {
	w.mu.RLock()
	cancel := w.cancel
	done := w.done
	w.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce runs every job that is due.
func (w *Worker) RunOnce(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	for _, job := range w.jobs {
		if ctx.Err() != nil {
			return
		}
		now := w.clock.Now()
		if last, ok := w.lastRun[job.Name]; ok && job.Every > 0 && now.Sub(last) < job.Every {
			continue
		}
		w.lastRun[job.Name] = now

		start := time.Now()
		n, err := job.Run(ctx)
		if err != nil {
			metrics.WorkerJobs.WithLabelValues(job.Name, "error").Inc()
			w.logger.Error("job failed", "job", job.Name, "handled", n, "error", err)
			continue
		}
		metrics.WorkerJobs.WithLabelValues(job.Name, "ok").Inc()
		if n > 0 {
			w.logger.Info("job ran", "job", job.Name, "handled", n, "duration", time.Since(start))
		}
	}
}

func GenerateChores(g *recurrence.Generator, c clock.Clock) Job {
	return Job{Name: "generate_chores", Run: func(ctx context.Context) (int, error) {
		created, err := g.GenerateDueInstances(ctx, c.Now())
		return len(created), err
	}}
}

func AutoApprove(s *chore.Service) Job {
	return Job{Name: "auto_approve", Run: s.SweepAutoApprovals}
}

func ExpireChores(s *chore.Service) Job {
	return Job{Name: "expire_chores", Run: s.SweepExpired}
}

func PayAllowances(s *allowance.Scheduler) Job {
	return Job{Name: "pay_allowances", Run: s.PayAllDue}
}

// Backup uploads a snapshot and prunes expired ones every interval.
func Backup(m *backup.Manager, every time.Duration) Job {
	return Job{Name: "backup", Every: every, Run: func(ctx context.Context) (int, error) {
		if _, err := m.Run(ctx); err != nil {
			return 0, err
		}
		removed, err := m.Cleanup(ctx)
		return 1 + removed, err
	}}
}
