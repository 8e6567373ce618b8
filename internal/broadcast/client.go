package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a client's position in its lifecycle. Transitions only move
// forward: Registered -> Active -> Unregistered.
type State int32

const (
	StateRegistered State = iota
	StateActive
	StateUnregistered
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Client is one subscriber slot, bound to a single streaming connection.
//
// The frames channel is never closed; Done is closed exactly once when the
// client leaves the hub for any reason.
type Client struct {
	id     string
	frames chan []byte
	done   chan struct{}
	state  atomic.Int32
	once   sync.Once
}

func newClient(buffer int) *Client {
	return &Client{
		id:     uuid.NewString(),
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Frames yields encoded event frames in publish order.
func (c *Client) Frames() <-chan []byte { return c.frames }

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) State() State { return State(c.state.Load()) }

// Activate marks the client as streaming. It is a no-op unless the client
// is still Registered.
func (c *Client) Activate() bool {
	return c.state.CompareAndSwap(int32(StateRegistered), int32(StateActive))
}

func (c *Client) terminate() {
	c.once.Do(func() {
		c.state.Store(int32(StateUnregistered))
		close(c.done)
	})
}

// offer is a non-blocking send. It reports false when the buffer is full.
func (c *Client) offer(frame []byte) (sent, gone bool) {
	select {
	case <-c.done:
		return false, true
	default:
	}
	select {
	case c.frames <- frame:
		return true, false
	default:
		return false, false
	}
}
