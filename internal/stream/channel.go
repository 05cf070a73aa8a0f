// Package stream delivers the progress events of one job to whichever client
// is currently watching it.
//
// A Channel never buffers history: a subscriber sees only the events
// published after it attached. The first terminal event closes the channel.
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// Channel is the producer side of one job's progress stream. Publish never
// blocks, so a slow or absent client cannot stall the job.
type Channel struct {
	mu       sync.Mutex
	sub      *Subscription
	closed   bool
	progress int

	delivered atomic.Bool
}

func NewChannel() *Channel {
	return &Channel{}
}

// Publish hands ev to the current subscriber, if any. Progress is clamped so
// it never goes backwards and terminal events always report 100. It returns
// false once the channel is closed.
func (c *Channel) Publish(ev models.ProgressEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if ev.Terminal() {
		ev.Progress = 100
	}
	if ev.Progress < c.progress {
		ev.Progress = c.progress
	}
	if ev.Progress > 100 {
		ev.Progress = 100
	}
	c.progress = ev.Progress

	if c.sub != nil {
		c.sub.push(ev)
	}
	if ev.Terminal() {
		c.closed = true
		if c.sub != nil {
			c.sub.finish()
			c.sub = nil
		}
	}
	return true
}

// Subscribe attaches a new subscriber and detaches the previous one. On a
// closed channel the subscription is already finished.
func (c *Channel) Subscribe() *Subscription {
	s := &Subscription{ch: c, notify: make(chan struct{}, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.finish()
		return s
	}
	if c.sub != nil {
		c.sub.finish()
	}
	c.sub = s
	return s
}

// Closed reports whether a terminal event has been published.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TerminalDelivered reports whether a subscriber consumed the terminal event.
func (c *Channel) TerminalDelivered() bool {
	return c.delivered.Load()
}

func (c *Channel) detach(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == s {
		c.sub = nil
	}
}

// Subscription is the consumer side held by one connected client.
type Subscription struct {
	ch     *Channel
	notify chan struct{}

	mu       sync.Mutex
	queue    []models.ProgressEvent
	finished bool
}

func (s *Subscription) push(ev models.ProgressEvent) {
	s.mu.Lock()
	if !s.finished {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Ready signals that Drain may return something new.
func (s *Subscription) Ready() <-chan struct{} {
	return s.notify
}

// Drain takes every queued event. finished is true when no further events
// will follow the returned ones.
func (s *Subscription) Drain() (events []models.ProgressEvent, finished bool) {
	s.mu.Lock()
	events, s.queue = s.queue, nil
	finished = s.finished
	s.mu.Unlock()

	for _, ev := range events {
		if ev.Terminal() {
			s.ch.delivered.Store(true)
		}
	}
	return events, finished
}

// Next blocks for the next event. It returns io.EOF after the last event and
// the context error if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (models.ProgressEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if ev.Terminal() {
				s.ch.delivered.Store(true)
			}
			return ev, nil
		}
		finished := s.finished
		s.mu.Unlock()
		if finished {
			return models.ProgressEvent{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return models.ProgressEvent{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscriber. The job keeps running and later events
// are dropped until someone subscribes again.
func (s *Subscription) Close() {
	s.ch.detach(s)
	s.finish()
}
