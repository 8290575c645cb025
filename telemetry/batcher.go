package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Exporter writes a batch of events to a backend.
type Exporter interface {
	Export(ctx context.Context, events []Event) error
}

// Batcher is a Sink that queues events and exports them in batches from a
// background goroutine. A full queue drops the newest event.
type Batcher struct {
	exporter  Exporter
	batchSize int
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event

	dropped  atomic.Int64
	exported atomic.Int64
	done     chan struct{}
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchSize flushes once this many events are buffered.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithFlushInterval flushes buffered events at least this often.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithQueueCapacity bounds the number of queued, unbatched events.
func WithQueueCapacity(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.queue = make(chan Event, n)
		}
	}
}

// WithExportTimeout bounds each export call.
func WithExportTimeout(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger used for export failures.
func WithLogger(logger *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// NewBatcher starts a batcher exporting to exp.
func NewBatcher(exp Exporter, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		exporter:  exp,
		batchSize: 64,
		interval:  2 * time.Second,
		timeout:   10 * time.Second,
		logger:    slog.Default(),
		queue:     make(chan Event, 1024),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Record implements Sink. It never blocks.
func (b *Batcher) Record(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was
// full or the batcher closed.
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

// Exported returns the number of events handed to the exporter successfully.
func (b *Batcher) Exported() int64 {
	return b.exported.Load()
}

// Close stops accepting events and waits until queued events are exported
// or ctx is done.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	buf := make([]Event, 0, b.batchSize)
	for {
		select {
		case ev, ok := <-b.queue:
			if !ok {
				b.flush(buf)
				return
			}
			buf = append(buf, ev)
			if len(buf) >= b.batchSize {
				b.flush(buf)
				buf = make([]Event, 0, b.batchSize)
			}
		case <-ticker.C:
			if len(buf) > 0 {
				b.flush(buf)
				buf = make([]Event, 0, b.batchSize)
			}
		}
	}
}

func (b *Batcher) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.exporter.Export(ctx, events); err != nil {
		b.logger.Warn("telemetry export failed", "events", len(events), "error", err)
		return
	}
	b.exported.Add(int64(len(events)))
}
