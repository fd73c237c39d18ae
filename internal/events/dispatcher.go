package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/parkman/internal/metrics"
)

// Emitter はイベントを発行するインターフェース。実装はブロックしてはならない。
type Emitter interface {
	Emit(ev Event)
}

// Sink はイベントの配信先。
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher はバッファ付きチャネルでイベントを受け取り、
// 単一のgoroutineでSinkへ配信する。
// バッファが満杯の場合や配信に失敗した場合はログに記録して破棄する。
type Dispatcher struct {
	sink           Sink
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewDispatcher はDispatcherを生成し、配信goroutineを起動する。
func NewDispatcher(sink Sink, bufferSize int, logger *slog.Logger, mc metrics.MetricsCollector) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	d := &Dispatcher{
		sink:           sink,
		logger:         logger,
		metrics:        mc,
		publishTimeout: 5 * time.Second,
		queue:          make(chan Event, bufferSize),
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit はイベントをキューに積む。ブロックしない。
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "buffer full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.metrics.RecordEventDropped()
	d.logger.Warn("event dropped",
		slog.String("routing_key", ev.RoutingKey()),
		slog.String("reason", reason),
	)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
		if err := d.sink.Publish(ctx, ev); err != nil {
			d.metrics.RecordEventDropped()
			d.logger.Error("event publish failed",
				slog.String("routing_key", ev.RoutingKey()),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Close は新規受付を停止し、キューに残ったイベントを配信し終えるかctxが終了するまで待つ。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compile-time interface check
var _ Emitter = (*Dispatcher)(nil)
