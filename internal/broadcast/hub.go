// Package broadcast fans admission events out to connected staff
// dashboards.
//
// A Hub owns the registry of clients behind its own lock. Publish encodes an
// event once, snapshots the registry and offers the frame to every client
// without holding the lock, so a stalled dashboard delays nobody else for
// longer than the publish timeout and is then evicted.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

var ErrHubClosed = errors.New("broadcast hub closed")

const (
	DefaultPublishTimeout = 250 * time.Millisecond
	DefaultClientBuffer   = 16
)

type Option func(*Hub)

func WithPublishTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.publishTimeout = d
		}
	}
}

func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	publishTimeout time.Duration
	clientBuffer   int
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:        make(map[*Client]struct{}),
		publishTimeout: DefaultPublishTimeout,
		clientBuffer:   DefaultClientBuffer,
		logger:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register opens a new subscriber slot.
func (h *Hub) Register() (*Client, error) {
	c := newClient(h.clientBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetHubClients(n)
	h.logger.Debug("stream client registered", "client_id", c.id, "clients", n)
	return c, nil
}

// Unregister removes c. Unknown, nil or already removed clients are ignored.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.terminate()
		h.metrics.SetHubClients(n)
		h.logger.Debug("stream client unregistered", "client_id", c.id, "clients", n)
	}
}

// Len reports the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers ev to every registered client and returns how many
// accepted the frame. Clients whose buffers stay full for the publish
// timeout are unregistered. With no clients the event is dropped.
func (h *Hub) Publish(ev types.BroadcastEvent) int {
	frame, err := EncodeEvent(ev)
	if err != nil {
		h.logger.Error("broadcast encode failed", "err", err)
		return 0
	}
	return h.publishFrame(frame)
}

func (h *Hub) publishFrame(frame []byte) int {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}

	delivered := 0
	var slow []*Client
	for _, c := range snapshot {
		sent, gone := c.offer(frame)
		switch {
		case sent:
			delivered++
		case !gone:
			slow = append(slow, c)
		}
	}

	if len(slow) > 0 {
		delivered += h.deliverSlow(slow, frame)
	}

	h.metrics.RecordFramesDelivered(delivered)
	return delivered
}

// deliverSlow retries full clients in parallel against one shared deadline.
func (h *Hub) deliverSlow(slow []*Client, frame []byte) int {
	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, c := range slow {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			select {
			case c.frames <- frame:
				delivered.Add(1)
			case <-c.done:
			case <-ctx.Done():
				h.metrics.RecordClientEvicted()
				h.logger.Warn("evicting slow stream client", "client_id", c.id, "timeout", h.publishTimeout)
				h.Unregister(c)
			}
		}(c)
	}
	wg.Wait()
	return int(delivered.Load())
}

// Close unregisters every client and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.terminate()
	}
	h.metrics.SetHubClients(0)
}
