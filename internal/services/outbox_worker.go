package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultOutboxPollInterval = 2 * time.Second
	defaultOutboxBatchSize    = 25
	defaultOutboxMaxAttempts  = 6
)

// OutboxWorkerDeps configures the worker that drains queued side effects.
type OutboxWorkerDeps struct {
	Repository   repositories.OutboxRepository
	Handlers     map[string]OutboxHandler
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Backoff      gax.Backoff
	Clock        func() time.Time
	Logger       Logger
	Metrics      Metrics
}

// OutboxWorker polls the outbox and runs the handler registered for each task kind.
type OutboxWorker struct {
	repo         repositories.OutboxRepository
	handlers     map[string]OutboxHandler
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoff      gax.Backoff
	clock        func() time.Time
	logger       Logger
	metrics      Metrics

	drainMu sync.Mutex
}

// DrainReport summarises one pass over due tasks.
type DrainReport struct {
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

// NewOutboxWorker constructs a worker. Handlers may be registered later with Handle.
func NewOutboxWorker(deps OutboxWorkerDeps) (*OutboxWorker, error) {
	if deps.Repository == nil {
		return nil, errors.New("outbox worker: repository is required")
	}
	w := &OutboxWorker{
		repo:         deps.Repository,
		handlers:     make(map[string]OutboxHandler, len(deps.Handlers)),
		pollInterval: deps.PollInterval,
		batchSize:    deps.BatchSize,
		maxAttempts:  deps.MaxAttempts,
		backoff:      deps.Backoff,
		clock:        utcClock(deps.Clock),
		logger:       loggerOrNoop(deps.Logger),
		metrics:      metricsOrNoop(deps.Metrics),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultOutboxPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultOutboxBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultOutboxMaxAttempts
	}
	if w.backoff.Initial <= 0 {
		w.backoff = gax.Backoff{Initial: time.Second, Max: 5 * time.Minute, Multiplier: 2}
	}
	for kind, handler := range deps.Handlers {
		w.Handle(kind, handler)
	}
	return w, nil
}

// Handle registers the handler for a task kind. It must be called before Run.
func (w *OutboxWorker) Handle(kind string, handler OutboxHandler) {
	kind = strings.TrimSpace(kind)
	if kind == "" || handler == nil {
		return
	}
	w.handlers[kind] = handler
}

// Run drains due tasks every poll interval until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	w.logger(ctx, "outbox_worker_started", map[string]any{
		"pollInterval": w.pollInterval.String(),
		"batchSize":    w.batchSize,
	})
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger(context.Background(), "outbox_worker_stopped", nil)
			return nil
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger(ctx, "outbox_drain_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Drain processes one batch of due tasks.
func (w *OutboxWorker) Drain(ctx context.Context) (DrainReport, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	tasks, err := w.repo.ClaimDue(ctx, w.clock(), w.batchSize)
	if err != nil {
		return DrainReport{}, fmt.Errorf("claim outbox tasks: %w", err)
	}
	report := DrainReport{Claimed: len(tasks)}
	for _, task := range tasks {
		if ctx.Err() != nil {
			// Claimed tasks are released for the next pass.
			w.release(context.Background(), task, ctx.Err())
			report.Rescheduled++
			continue
		}
		switch w.process(ctx, task) {
		case outboxOutcomeDone:
			report.Completed++
		case outboxOutcomeRetry:
			report.Rescheduled++
		default:
			report.Failed++
		}
	}
	return report, nil
}

type outboxOutcome string

const (
	outboxOutcomeDone   outboxOutcome = "done"
	outboxOutcomeRetry  outboxOutcome = "retry"
	outboxOutcomeFailed outboxOutcome = "failed"
)

func (w *OutboxWorker) process(ctx context.Context, task OutboxTask) outboxOutcome {
	handler, ok := w.handlers[task.Kind]
	var err error
	if !ok {
		err = Permanent(fmt.Errorf("no handler for %q", task.Kind))
	} else {
		err = handler(ctx, task)
	}

	if err == nil {
		if cerr := w.repo.Complete(ctx, task.ID, w.clock()); cerr != nil {
			w.logger(ctx, "outbox_complete_failed", map[string]any{"taskId": task.ID, "error": cerr.Error()})
		}
		w.metrics.OutboxProcessed(task.Kind, string(outboxOutcomeDone))
		return outboxOutcomeDone
	}

	attempts := task.Attempts + 1
	outcome := outboxOutcomeRetry
	next := w.clock().Add(w.retryDelay(attempts))
	if IsPermanent(err) || attempts >= w.maxAttempts {
		outcome = outboxOutcomeFailed
		next = time.Time{}
	}
	if rerr := w.repo.Reschedule(ctx, task.ID, attempts, err.Error(), next); rerr != nil {
		w.logger(ctx, "outbox_reschedule_failed", map[string]any{"taskId": task.ID, "error": rerr.Error()})
	}
	w.logger(ctx, "outbox_task_failed", map[string]any{
		"taskId":   task.ID,
		"kind":     task.Kind,
		"attempts": attempts,
		"outcome":  string(outcome),
		"error":    err.Error(),
	})
	w.metrics.OutboxProcessed(task.Kind, string(outcome))
	return outcome
}

func (w *OutboxWorker) release(ctx context.Context, task OutboxTask, cause error) {
	if err := w.repo.Reschedule(ctx, task.ID, task.Attempts, cause.Error(), w.clock()); err != nil {
		w.logger(ctx, "outbox_release_failed", map[string]any{"taskId": task.ID, "error": err.Error()})
	}
}

// retryDelay walks a fresh backoff so the delay depends only on the attempt count.
func (w *OutboxWorker) retryDelay(attempts int) time.Duration {
	bo := gax.Backoff{Initial: w.backoff.Initial, Max: w.backoff.Max, Multiplier: w.backoff.Multiplier}
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = bo.Pause()
	}
	return delay
}
