// Package bus provides the typed publish/subscribe channels connecting the
// core's components. Publishers never block: each subscription owns a bounded
// ring buffer and a subscriber that falls behind loses its oldest unread
// events, reported as a lag count on the next receive. Consumers that need
// completeness (the market cache) use the lag signal to trigger a full
// resync instead of silently serving stale data.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Receive after the topic has been closed and the
// subscription's buffer drained.
var ErrClosed = errors.New("bus: topic closed")

// DefaultCapacity is the per-subscription ring size used when a topic is
// created with a non-positive capacity.
const DefaultCapacity = 256

// Topic is a single event category. Every subscriber receives its own copy of
// every event published after it subscribed (fan-out, not work-stealing).
type Topic[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	capacity int
	closed   bool
}

// NewTopic creates a topic whose subscriptions buffer up to capacity events.
func NewTopic[T any](capacity int) *Topic[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Topic[T]{
		subs:     make(map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Publish delivers ev to every current subscription without blocking. If a
// subscription's ring is full its oldest unread event is overwritten and the
// subscription's lag counter advances.
func (t *Topic[T]) Publish(ev T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	// Copy the subscriber set so per-subscription locks are not taken while
	// holding the topic lock.
	subs := make([]*Subscription[T], 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// Subscribe returns an independent cursor over events published from now on.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		topic:  t,
		buf:    make([]T, t.capacity),
		notify: make(chan struct{}, 1),
	}

	t.mu.Lock()
	if t.closed {
		s.closed = true
	} else {
		t.subs[s] = struct{}{}
	}
	t.mu.Unlock()

	return s
}

// Close shuts the topic down. Subscribers drain their remaining buffered
// events and then receive ErrClosed.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := make([]*Subscription[T], 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.markClosed()
	}
}

func (t *Topic[T]) remove(s *Subscription[T]) {
	t.mu.Lock()
	if t.subs != nil {
		delete(t.subs, s)
	}
	t.mu.Unlock()
}

// Subscription is one subscriber's cursor over a topic. Events that were not
// dropped arrive in publish order. Not safe for concurrent Receive calls from
// multiple goroutines; each consumer owns its subscription.
type Subscription[T any] struct {
	topic *Topic[T]

	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	dropped uint64
	closed  bool

	notify chan struct{}
}

// push appends an event, evicting the oldest when full.
func (s *Subscription[T]) push(ev T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.buf) {
		var zero T
		s.buf[s.head] = zero
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.dropped++
	}
	s.buf[(s.head+s.count)%len(s.buf)] = ev
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Receive blocks until an event is available or ctx is cancelled. The second
// return value is the number of events dropped for this subscription since
// the previous receive; a nonzero value means a gap occurred.
func (s *Subscription[T]) Receive(ctx context.Context) (T, uint64, error) {
	for {
		if ev, lag, ok := s.TryReceive(); ok {
			return ev, lag, nil
		}

		s.mu.Lock()
		closed := s.closed
		empty := s.count == 0
		s.mu.Unlock()
		if closed && empty {
			var zero T
			return zero, 0, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, 0, ctx.Err()
		case <-s.notify:
		}
	}
}

// TryReceive returns the next buffered event without blocking.
func (s *Subscription[T]) TryReceive() (T, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		var zero T
		return zero, 0, false
	}

	ev := s.buf[s.head]
	var zero T
	s.buf[s.head] = zero
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	lag := s.dropped
	s.dropped = 0
	return ev, lag, true
}

// Pending returns the number of buffered, unread events.
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close detaches the subscription from its topic.
func (s *Subscription[T]) Close() {
	s.topic.remove(s)
	s.markClosed()
}

func (s *Subscription[T]) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
