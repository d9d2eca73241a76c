package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDeliveryTimeout bounds a single sink call when Config leaves it unset.
const DefaultDeliveryTimeout = 2 * time.Second

// Config controls buffering and delivery.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit discard events instead of waiting for room.
	DropIfFull bool
	// DeliveryTimeout bounds each Sink.Emit call. Sinks that write to Postgres or
	// Kafka must observe the context they are given.
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

// Dispatcher forwards events to a sink from one background goroutine, so the request
// path never waits on sink I/O. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	log        *slog.Logger
	timeout    time.Duration
	dropIfFull bool

	queue chan Event
	stop  chan struct{}
	idle  chan struct{}

	dropped  atomic.Uint64
	panicked atomic.Uint64
	stopping atomic.Bool
	once     sync.Once
}

// NewDispatcher starts delivery. It returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		log:        cfg.Logger,
		timeout:    cfg.DeliveryTimeout,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		idle:       make(chan struct{}),
	}
	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.timeout <= 0 {
		d.timeout = DefaultDeliveryTimeout
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.idle)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver isolates the loop from a misbehaving sink: a panic loses one event, not the
// whole audit stream.
func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.log.Error("audit sink panicked", "event_id", ev.ID, "type", string(ev.Type), "panic", r)
		}
	}()
	d.sink.Emit(ctx, ev)
}

// Emit queues ev. With DropIfFull a full queue discards ev and counts it; otherwise
// Emit waits for room until ctx is done or the dispatcher closes. Events emitted after
// Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops intake and blocks until every queued event has reached the sink. Safe to
// call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		<-d.idle
	})
}

// Dropped returns how many events never reached the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Panicked returns how many deliveries ended in a sink panic.
func (d *Dispatcher) Panicked() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
