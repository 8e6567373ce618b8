package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

const (
	DefaultDispatchQueue = 1024
	forwardTimeout       = 2 * time.Second
)

// Forwarder ships events beyond this process, e.g. to other instances.
type Forwarder interface {
	Forward(ctx context.Context, ev types.BroadcastEvent) error
}

type DispatcherConfig struct {
	QueueSize int
	Forwarder Forwarder // optional
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Dispatcher decouples event producers from hub delivery. Submit never
// blocks; one goroutine drains the queue into the hub in FIFO order.
type Dispatcher struct {
	hub     *Hub
	fwd     Forwarder
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan types.BroadcastEvent
	done   chan struct{}
}

// NewDispatcher starts the drain goroutine. Call Close to stop it.
func NewDispatcher(hub *Hub, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatchQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	d := &Dispatcher{
		hub:     hub,
		fwd:     cfg.Forwarder,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		queue:   make(chan types.BroadcastEvent, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Submit enqueues ev. It returns false if the queue is full or the
// dispatcher is closed; the event is then dropped.
func (d *Dispatcher) Submit(ev types.BroadcastEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.metrics.RecordDispatchDropped()
		return false
	}
}

// Close drains what is already queued and stops the goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	for ev := range d.queue {
		d.hub.Publish(ev)

		if d.fwd == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		if err := d.fwd.Forward(ctx, ev); err != nil {
			d.metrics.RecordRelayError()
			d.logger.Warn("event forward failed", "err", err)
		}
		cancel()
	}
}
