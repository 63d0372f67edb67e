package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/telemetry"
)

// Default pacing for the dispatcher loop.
const (
	// DefaultPollInterval is the pause after a processed item before the
	// next claim.
	DefaultPollInterval = 1 * time.Second

	// DefaultIdleInterval is the pause when the queue is empty.
	DefaultIdleInterval = 5 * time.Second
)

// Lifecycle errors surfaced by Start and Stop.
var (
	// ErrAlreadyRunning is returned by Start when the dispatcher loop is
	// active.
	ErrAlreadyRunning = errors.New("dispatcher already running")

	// ErrNotRunning is returned by Stop when the dispatcher loop is not
	// active.
	ErrNotRunning = errors.New("dispatcher not running")
)

// Dispatcher drains the sync queue in the background: it claims pending
// items one at a time, reconciles their payloads into the record stores and
// finalizes them with per-record outcome counts.
type Dispatcher struct {
	store      queue.Store
	reconciler *Reconciler
	devices    devices.Store

	pollInterval time.Duration
	idleInterval time.Duration

	// Lifecycle management
	mu         stdsync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}

	// Metrics
	metrics *telemetry.QueueMetrics
}

// DispatcherOption is a function that configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets the pause between processed items.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithIdleInterval sets the pause when no items are pending.
func WithIdleInterval(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) {
		if d > 0 {
			p.idleInterval = d
		}
	}
}

// WithQueueMetrics sets the queue metrics for the dispatcher.
func WithQueueMetrics(metrics *telemetry.QueueMetrics) DispatcherOption {
	return func(p *Dispatcher) {
		p.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher with injected dependencies. It does not
// start processing until Start is called.
func NewDispatcher(
	store queue.Store,
	reconciler *Reconciler,
	deviceStore devices.Store,
	opts ...DispatcherOption,
) *Dispatcher {
	p := &Dispatcher{
		store:        store,
		reconciler:   reconciler,
		devices:      deviceStore,
		pollInterval: DefaultPollInterval,
		idleInterval: DefaultIdleInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background processing loop. Returns ErrAlreadyRunning
// if the loop is active. The loop stops when ctx is cancelled or Stop is
// called.
func (p *Dispatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelFunc != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel
	p.done = make(chan struct{})

	slog.Info("Starting queue dispatcher",
		"poll_interval", p.pollInterval,
		"idle_interval", p.idleInterval)

	go p.run(loopCtx, p.done)
	return nil
}

// Stop cancels the processing loop and waits for it to finish. Returns
// ErrNotRunning if the loop is not active.
func (p *Dispatcher) Stop() error {
	p.mu.Lock()
	if p.cancelFunc == nil {
		p.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := p.cancelFunc, p.done
	p.cancelFunc = nil
	p.done = nil
	p.mu.Unlock()

	slog.Info("Stopping queue dispatcher")
	cancel()
	<-done
	return nil
}

// IsRunning reports whether the processing loop is active.
func (p *Dispatcher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelFunc != nil
}

// run is the dispatcher loop. Claim errors back off exponentially; a
// successful claim resets the backoff.
func (p *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer func() {
		close(done)
		slog.Info("Queue dispatcher shutting down")
	}()

	errBackoff := backoff.NewExponentialBackOff()
	errBackoff.InitialInterval = p.idleInterval
	errBackoff.MaxInterval = 2 * time.Minute

	for {
		if ctx.Err() != nil {
			return
		}

		item, err := p.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := errBackoff.NextBackOff()
			slog.Error("Error claiming next queue item", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		errBackoff.Reset()

		if item == nil {
			if !sleep(ctx, p.idleInterval) {
				return
			}
			continue
		}

		p.processItem(ctx, item)

		if !sleep(ctx, p.pollInterval) {
			return
		}
	}
}

// processItem reconciles one claimed item and moves it to its next status.
func (p *Dispatcher) processItem(ctx context.Context, item *queue.Item) {
	slog.Info("Processing queue item",
		"queue_id", item.ID,
		"device_id", item.DeviceID,
		"data_type", item.DataType,
		"data_count", item.DataCount,
		"attempt", item.Attempts,
		"max_attempts", item.MaxAttempts)

	startTime := time.Now()

	result, err := p.reconciler.ReconcileBatch(ctx, item.DeviceID, item.DataType, item.Payload,
		func(ctx context.Context, processedDelta, failedDelta int) error {
			return p.store.RecordProgress(ctx, item.ID, processedDelta, failedDelta)
		},
	)
	duration := time.Since(startTime)

	if err != nil {
		p.metrics.RecordProcessingDuration(ctx, string(item.DataType), duration, false)
		p.handleCycleFailure(ctx, item, err)
		return
	}

	p.metrics.RecordReconciled(ctx, string(item.DataType), result.Created, result.Updated, result.Failed)

	// A batch where nothing was stored is a failed cycle, not a partial
	// success.
	if result.Processed() == 0 && result.Failed > 0 {
		p.metrics.RecordProcessingDuration(ctx, string(item.DataType), duration, false)
		p.handleCycleFailure(ctx, item,
			fmt.Errorf("all %d records failed reconciliation", result.Failed))
		return
	}

	status := queue.StatusCompleted
	errorMessage := ""
	if result.Failed > 0 {
		status = queue.StatusPartiallyCompleted
		errorMessage = fmt.Sprintf("%d of %d records failed", result.Failed, item.DataCount)
	}

	if err := p.store.Finalize(ctx, item.ID, status, errorMessage); err != nil {
		slog.Error("Error finalizing queue item",
			"queue_id", item.ID,
			"status", status,
			"error", err)
		return
	}

	p.metrics.RecordFinalized(ctx, string(item.DataType), string(status))
	p.metrics.RecordProcessingDuration(ctx, string(item.DataType), duration, true)

	completedAt := time.Now()
	if err := p.devices.ApplyDelta(ctx, item.DeviceID, item.DataType, result.Created, completedAt); err != nil {
		slog.Error("Error updating device sync state",
			"queue_id", item.ID,
			"device_id", item.DeviceID,
			"error", err)
	}

	slog.Info("Queue item processed",
		"queue_id", item.ID,
		"status", status,
		"new_records", result.Created,
		"updated_records", result.Updated,
		"failed_records", result.Failed,
		"duration", duration)
}

// handleCycleFailure requeues the item for another attempt or fails it for
// good once attempts are exhausted.
func (p *Dispatcher) handleCycleFailure(ctx context.Context, item *queue.Item, cause error) {
	// Shutdown cancels the loop context mid-cycle; the requeue write still
	// has to land or the item is stranded in processing.
	ctx = context.WithoutCancel(ctx)

	if item.Attempts < item.MaxAttempts {
		slog.Warn("Queue item cycle failed, requeueing",
			"queue_id", item.ID,
			"attempt", item.Attempts,
			"max_attempts", item.MaxAttempts,
			"error", cause)
		if err := p.store.Requeue(ctx, item.ID, cause.Error()); err != nil {
			slog.Error("Error requeueing queue item", "queue_id", item.ID, "error", err)
		}
		return
	}

	slog.Error("Queue item failed permanently",
		"queue_id", item.ID,
		"attempts", item.Attempts,
		"error", cause)
	if err := p.store.Finalize(ctx, item.ID, queue.StatusFailed, cause.Error()); err != nil {
		slog.Error("Error failing queue item", "queue_id", item.ID, "error", err)
		return
	}
	p.metrics.RecordFinalized(ctx, string(item.DataType), string(queue.StatusFailed))
}

// sleep waits for d or until ctx is cancelled. Reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
