// Package bus provides the per-session broadcast channels that carry assistant events.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// DefaultCapacity is the number of events a channel retains for slow subscribers.
const DefaultCapacity = 128

// ErrClosed is returned once a channel has been closed and fully drained.
var ErrClosed = &ClosedError{}

// ClosedError represents a closed channel.
type ClosedError struct{}

func (e *ClosedError) Error() string {
	return "channel closed"
}

// LaggedError is returned by Recv when the receiver fell behind the retained
// history. The receiver has already been moved past the lost events.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged, %d events skipped", e.Skipped)
}

type slot struct {
	seq   uint64
	event domain.AssistantEvent
}

// Channel is a multi-producer, multi-consumer broadcast channel with a fixed
// ring of retained events. Send never blocks.
type Channel struct {
	mu        sync.Mutex
	ring      []slot
	tail      uint64        // sequence number of the next event to be written
	notify    chan struct{} // closed and replaced on every send
	closed    bool
	receivers int
}

func newChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		ring:   make([]slot, capacity),
		notify: make(chan struct{}),
	}
}

// Send broadcasts ev to every receiver and returns how many were subscribed.
// Sending with no receivers is not an error.
func (c *Channel) Send(ev domain.AssistantEvent) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	c.ring[c.tail%uint64(len(c.ring))] = slot{seq: c.tail, event: ev}
	c.tail++
	close(c.notify)
	c.notify = make(chan struct{})

	return c.receivers, nil
}

// Subscribe returns a receiver that observes events sent after this call.
func (c *Channel) Subscribe() *Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receivers++
	return &Receiver{ch: c, next: c.tail}
}

// ReceiverCount returns the number of open receivers.
func (c *Channel) ReceiverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivers
}

// Close wakes all receivers. They drain what is retained and then get ErrClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

// oldest returns the sequence number of the oldest retained event.
func (c *Channel) oldest() uint64 {
	if n := uint64(len(c.ring)); c.tail > n {
		return c.tail - n
	}
	return 0
}

// Receiver is one subscription to a Channel.
type Receiver struct {
	ch     *Channel
	next   uint64
	once   sync.Once
	closed bool
}

// Recv blocks until the next event is available, the channel is closed or ctx is done.
//
// A *LaggedError means events were evicted before this receiver read them; the
// next call resumes at the oldest event still retained.
func (r *Receiver) Recv(ctx context.Context) (domain.AssistantEvent, error) {
	c := r.ch
	for {
		c.mu.Lock()
		if r.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if r.next < c.tail {
			if oldest := c.oldest(); r.next < oldest {
				skipped := oldest - r.next
				r.next = oldest
				c.mu.Unlock()
				return nil, &LaggedError{Skipped: skipped}
			}
			s := c.ring[r.next%uint64(len(c.ring))]
			r.next++
			c.mu.Unlock()
			return s.event, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the receiver from its channel. Safe to call more than once.
func (r *Receiver) Close() {
	r.once.Do(func() {
		r.ch.mu.Lock()
		r.ch.receivers--
		r.closed = true
		r.ch.mu.Unlock()
	})
}
