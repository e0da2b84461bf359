package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/domain"
)

const (
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultQueueSize     = 4096
	defaultWorkers       = 4
	defaultWarmupTimeout = 5 * time.Second
)

// WriterConfig tunes the DurableWriter. Retries is the number of attempts made
// after the first one; other zero values fall back to defaults.
type WriterConfig struct {
	Retries       int
	BaseDelay     time.Duration
	QueueSize     int
	Workers       int
	WarmupTimeout time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultRetryBackoff
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = defaultWarmupTimeout
	}
	return c
}

type writeJob struct {
	key   domain.PartitionKey
	event domain.Event
}

// DurableWriter persists events in the background with bounded retry.
// Write never blocks and never reports failure to its caller: events that
// cannot be queued or persisted are dropped and logged.
type DurableWriter struct {
	router  *PartitionRouter
	store   domain.PartitionStore
	cfg     WriterConfig
	logger  *slog.Logger
	metrics *metrics.AttributionMetrics
	now     func() time.Time

	queue  chan writeJob
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	warmMu sync.Mutex
	warm   atomic.Bool
}

// NewDurableWriter creates a writer and starts its workers.
func NewDurableWriter(router *PartitionRouter, store domain.PartitionStore, cfg WriterConfig, logger *slog.Logger, m *metrics.AttributionMetrics) *DurableWriter {
	cfg = cfg.withDefaults()
	w := &DurableWriter{
		router:  router,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "durable_writer"),
		metrics: m,
		now:     time.Now,
		queue:   make(chan writeJob, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Write enqueues the event for the given partition and returns immediately.
func (w *DurableWriter) Write(key domain.PartitionKey, event domain.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.count(key, "dropped_closed")
		w.logger.Warn("writer is closed, dropping event", "event_id", event.ID, "partition", key.String())
		return
	}

	select {
	case w.queue <- writeJob{key: key, event: event}:
		w.count(key, "enqueued")
		w.gaugeQueue()
	default:
		w.count(key, "dropped_queue_full")
		w.logger.Warn("write queue is full, dropping event", "event_id", event.ID, "partition", key.String())
	}
}

// Close stops accepting events and waits for queued ones to finish their attempts.
// It returns ctx.Err() if the drain does not complete in time; workers keep
// running in that case until the queue is empty.
func (w *DurableWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("writer drained")
		return nil
	case <-ctx.Done():
		w.logger.Warn("writer drain interrupted", "pending", len(w.queue))
		return ctx.Err()
	}
}

func (w *DurableWriter) run() {
	defer w.wg.Done()
	for job := range w.queue {
		w.gaugeQueue()
		w.persist(job)
	}
}

// persist makes up to Retries+1 attempts, sleeping BaseDelay*n before retry n.
func (w *DurableWriter) persist(job writeJob) {
	if job.event.CreatedAt.IsZero() {
		job.event.CreatedAt = w.now().UTC()
	}

	attempts := w.cfg.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.attempt(job)
		if err == nil {
			w.attemptResult("ok")
			w.count(job.key, "persisted")
			return
		}
		lastErr = err
		w.attemptResult("error")

		if attempt == attempts {
			break
		}
		delay := w.cfg.BaseDelay * time.Duration(attempt)
		w.logger.Warn("failed to persist event, retrying...",
			"attempt", attempt, "delay", delay, "event_id", job.event.ID, "partition", job.key.String(), "error", err)
		timer := time.NewTimer(delay)
		<-timer.C
	}

	w.count(job.key, "dropped_retries")
	w.logger.Warn("dropping event after exhausting retries",
		"attempts", attempts, "event_id", job.event.ID, "partition", job.key.String(), "error", lastErr)
}

func (w *DurableWriter) attempt(job writeJob) error {
	ctx := context.Background()
	if err := w.ensureWarm(ctx); err != nil {
		return err
	}
	p, err := w.router.Resolve(ctx, job.key)
	if err != nil {
		return fmt.Errorf("failed to resolve partition: %w", err)
	}
	return p.Insert(ctx, job.event)
}

// ensureWarm pings storage once. Only a successful ping is memoized; a failed
// or timed-out ping is retried by the next attempt.
func (w *DurableWriter) ensureWarm(ctx context.Context) error {
	if w.warm.Load() {
		return nil
	}

	w.warmMu.Lock()
	defer w.warmMu.Unlock()
	if w.warm.Load() {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, w.cfg.WarmupTimeout)
	defer cancel()
	if err := w.store.Ping(pingCtx); err != nil {
		if w.metrics != nil {
			w.metrics.Warmups.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("%w: warmup failed: %w", domain.ErrStorageUnavailable, err)
	}

	w.warm.Store(true)
	if w.metrics != nil {
		w.metrics.Warmups.WithLabelValues("ok").Inc()
	}
	w.logger.Info("storage connection ready")
	return nil
}

func (w *DurableWriter) count(key domain.PartitionKey, status string) {
	if w.metrics != nil {
		w.metrics.EventsTotal.WithLabelValues(string(key.Kind), status).Inc()
	}
}

func (w *DurableWriter) attemptResult(result string) {
	if w.metrics != nil {
		w.metrics.WriteAttempts.WithLabelValues(result).Inc()
	}
}

func (w *DurableWriter) gaugeQueue() {
	if w.metrics != nil {
		w.metrics.QueueDepth.Set(float64(len(w.queue)))
	}
}
