package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// MetricStore is the narrow persistence port the writer drains into.
// BatchInsert persists a homogeneous partition in one round trip.
type MetricStore interface {
	BatchInsert(ctx context.Context, events []models.MetricEvent) error
}

// Writer periodically drains the ring buffer and persists events in
// per-type batches. Single drainer: the ring buffer is single-consumer.
type Writer struct {
	ring    *RingBuffer
	store   MetricStore
	monitor *HealthMonitor
	cfg     *config.PipelineConfig

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewWriter creates a pipeline writer.
func NewWriter(ring *RingBuffer, store MetricStore, monitor *HealthMonitor, cfg *config.PipelineConfig) *Writer {
	return &Writer{
		ring:    ring,
		store:   store,
		monitor: monitor,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		logger:  slog.Default().With("component", "pipeline-writer"),
	}
}

// Start launches the drain loop. Calling Start on a running writer is a no-op.
func (w *Writer) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("Pipeline writer started",
		"flush_interval", w.cfg.FlushInterval, "batch_size", w.cfg.BatchSize)
}

// Stop cancels the loop, waits for it to exit, and performs one final
// drain-and-flush pass so in-flight events are persisted or counted as
// drops. After Stop returns, Start may be called again.
func (w *Writer) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done

	// Final flush with a bounded fresh context; the loop context is gone.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		if n := w.drainOnce(flushCtx); n == 0 {
			break
		}
	}

	w.cancel = nil
	w.done = nil
	w.logger.Info("Pipeline writer stopped")
}

// NotifyPublish wakes the writer early when the buffer has reached a full
// batch. Called by producers after a successful publish; never blocks.
func (w *Writer) NotifyPublish() {
	if w.ring.Size() < w.cfg.BatchSize {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		case <-w.wake:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce performs one drain tick and returns the number of drained
// events. Partitions are persisted independently: a failed partition is
// logged and counted as drops without aborting the others.
func (w *Writer) drainOnce(ctx context.Context) int {
	events := w.ring.Drain(w.cfg.BatchSize)
	if len(events) == 0 {
		w.updateUsage()
		return 0
	}

	for _, partition := range partitionByType(events) {
		if err := w.store.BatchInsert(ctx, partition); err != nil {
			// Drained events cannot be requeued; account them as drops.
			w.monitor.RecordDrop(len(partition))
			w.logger.Error("Failed to persist metric batch",
				"event_type", partition[0].EventType(),
				"count", len(partition),
				"error", err)
		}
	}

	w.updateUsage()
	return len(events)
}

func (w *Writer) updateUsage() {
	w.monitor.UpdateBufferUsage(100 * float64(w.ring.Size()) / float64(w.ring.Capacity()))
}

// partitionByType groups events by concrete type, preserving drain order
// within each partition.
func partitionByType(events []models.MetricEvent) map[models.EventType][]models.MetricEvent {
	parts := make(map[models.EventType][]models.MetricEvent)
	for _, e := range events {
		parts[e.EventType()] = append(parts[e.EventType()], e)
	}
	return parts
}
