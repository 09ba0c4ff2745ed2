package exporter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// Buffered decouples the tracker from a slow sink with a bounded queue.
// Overflow drops the oldest queued event, matching the telemetry lane's
// drop policy.
type Buffered struct {
	next    Sink
	events  chan model.MetricEvent
	metrics Metrics
	logger  *zap.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewBuffered(next Sink, size int, metrics Metrics, logger *zap.Logger) *Buffered {
	if size <= 0 {
		size = 1024
	}
	return &Buffered{
		next:    next,
		events:  make(chan model.MetricEvent, size),
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start launches the forwarding loop.
func (b *Buffered) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop drains whatever is queued into the inner sink, then returns.
func (b *Buffered) Stop() {
	close(b.stop)
	b.wg.Wait()
}

// Publish enqueues without blocking; when full, the oldest entry gives way.
func (b *Buffered) Publish(ev model.MetricEvent) {
	for {
		select {
		case b.events <- ev:
			b.metrics.ObservePublished(ev.Kind)
			return
		default:
		}
		select {
		case <-b.events:
			b.metrics.ObserveDropped(1)
		default:
		}
	}
}

func (b *Buffered) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if n := len(b.events); n > 0 {
				b.logger.Warn("abandoning queued events on cancellation", zap.Int("count", n))
			}
			return
		case <-b.stop:
			for {
				select {
				case ev := <-b.events:
					b.next.Publish(ev)
					continue
				default:
				}
				return
			}
		case ev := <-b.events:
			b.next.Publish(ev)
		}
	}
}
