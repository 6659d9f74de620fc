package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// dropLogEvery throttles the "audit queue full" warning to one line per this
// many dropped events.
const dropLogEvery = 100

// Config controls how login, MFA, OTP and password events reach the sink.
//
// With DropIfFull a full queue drops the event so a slow sink never stalls a
// login; otherwise Emit waits for room or for ctx. DrainTimeout bounds how long
// Close keeps delivering queued events; zero waits for all of them.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Dispatcher queues audit events and hands them to one Sink on a single
// goroutine, so sinks see events in emission order.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	queue chan Event
	stop  chan struct{}
	done  chan struct{}

	dropped  atomic.Uint64
	panicked atomic.Uint64
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. Auditing switched off yields a
// nil Dispatcher; every method of a nil Dispatcher is a no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.deliverLoop()
	return d
}

func (d *Dispatcher) deliverLoop() {
	defer close(d.done)

	for {
		// Shutdown wins over a ready event so the drain deadline applies.
		select {
		case <-d.stop:
			d.drain()
			return
		default:
		}
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes what is still queued, giving up at DrainTimeout.
func (d *Dispatcher) drain() {
	var deadline <-chan time.Time
	if d.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(d.cfg.DrainTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-deadline:
			if left := len(d.queue); left > 0 {
				d.dropped.Add(uint64(left))
				d.logger.Warn("audit events abandoned at shutdown", slog.Int("count", left))
			}
			return
		default:
		}
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver isolates the loop from a panicking sink; the event is lost but later
// ones still go out.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.logger.Error("audit sink panicked",
				slog.String("event", ev.EventType),
				slog.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. Events emitted after Close are ignored and not counted.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-ctx.Done():
		case <-d.stop:
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-d.stop:
	default:
		if n := d.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
			d.logger.Warn("audit queue full, event dropped",
				slog.String("event", ev.EventType),
				slog.Uint64("dropped_total", n),
			)
		}
	}
}

// Close stops intake, flushes the queue to the sink and waits for delivery to
// finish. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
	})
	<-d.done
}

// Dropped counts events lost to a full queue or an expired drain.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// SinkPanics counts events whose delivery panicked in the sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
