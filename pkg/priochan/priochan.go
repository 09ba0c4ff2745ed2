// Package priochan provides a bounded multi-producer multi-consumer queue
// with a small fixed set of priority lanes. Receive always drains the
// highest-priority non-empty lane first, FIFO within a lane. There is
// deliberately no anti-starvation across lanes: high-priority traffic is
// expected to be low-volume.
package priochan

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close, and by Receive once the
// channel is closed and fully drained.
var ErrClosed = errors.New("priochan: channel closed")

// Policy selects what Send does when a lane is full. It is fixed per lane
// at construction time.
type Policy uint8

const (
	// Block suspends the producer until space frees up or the channel closes.
	Block Policy = iota
	// DropOldest discards the oldest entry in the lane to make room.
	DropOldest
)

// Lane configures one priority lane. Lower lane index = higher priority.
type Lane struct {
	Capacity int
	Policy   Policy
}

// Channel is a bounded priority queue of T. All methods are safe for
// concurrent use.
type Channel[T any] struct {
	mu     sync.Mutex
	lanes  [][]T
	cfg    []Lane
	closed bool

	// Broadcast-style wakeups: waiters capture the current channel under
	// the lock and block on it; state changes close and replace it.
	recvWake chan struct{}
	sendWake []chan struct{}
}

// New builds a channel with the given lanes, ordered from highest to
// lowest priority. Lanes with non-positive capacity default to 1.
func New[T any](lanes ...Lane) *Channel[T] {
	cfg := make([]Lane, len(lanes))
	copy(cfg, lanes)
	queues := make([][]T, len(lanes))
	sendWake := make([]chan struct{}, len(lanes))
	for i := range cfg {
		if cfg[i].Capacity <= 0 {
			cfg[i].Capacity = 1
		}
		sendWake[i] = make(chan struct{})
	}
	return &Channel[T]{
		lanes:    queues,
		cfg:      cfg,
		recvWake: make(chan struct{}),
		sendWake: sendWake,
	}
}

// Lanes returns the number of configured lanes.
func (c *Channel[T]) Lanes() int { return len(c.cfg) }

// Send enqueues v into the given lane. With the Block policy it suspends
// until there is room, the context is canceled, or the channel closes.
// With DropOldest it never blocks: a full lane sheds its oldest entry.
func (c *Channel[T]) Send(ctx context.Context, lane int, v T) error {
	if lane < 0 || lane >= len(c.cfg) {
		return errors.New("priochan: lane out of range")
	}
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if len(c.lanes[lane]) < c.cfg[lane].Capacity {
			c.lanes[lane] = append(c.lanes[lane], v)
			c.wakeReceiversLocked()
			c.mu.Unlock()
			return nil
		}
		if c.cfg[lane].Policy == DropOldest {
			copy(c.lanes[lane], c.lanes[lane][1:])
			c.lanes[lane][len(c.lanes[lane])-1] = v
			c.wakeReceiversLocked()
			c.mu.Unlock()
			return nil
		}
		wait := c.sendWake[lane]
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Receive returns the oldest entry of the highest-priority non-empty lane.
// It suspends until an entry is available, the context is canceled, or the
// channel is closed and drained.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		for lane := range c.lanes {
			if len(c.lanes[lane]) == 0 {
				continue
			}
			v := c.lanes[lane][0]
			c.lanes[lane] = c.lanes[lane][1:]
			c.wakeSendersLocked(lane)
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}
		wait := c.recvWake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Close marks the channel closed. Idempotent. Buffered entries remain
// receivable in priority order; blocked senders and receivers wake up.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.wakeReceiversLocked()
	for lane := range c.sendWake {
		c.wakeSendersLocked(lane)
	}
}

// Len returns the total number of buffered entries across lanes.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.lanes {
		n += len(q)
	}
	return n
}

func (c *Channel[T]) wakeReceiversLocked() {
	close(c.recvWake)
	c.recvWake = make(chan struct{})
}

func (c *Channel[T]) wakeSendersLocked(lane int) {
	close(c.sendWake[lane])
	c.sendWake[lane] = make(chan struct{})
}
