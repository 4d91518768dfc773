// Package eventbus implements the gateway's in-process domain event bus
// (spec.md §4.9). It is an explicit object owned by the caller and passed
// into components — there is no package-level global state — and fan-out
// is sequential and best-effort: a slow or blocking subscriber only slows
// down its own delivery, never the producer's next Publish call, because
// Publish hands each subscriber its own buffered channel.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Event is one domain event flowing through the bus. Name follows a
// dotted hierarchy ("graph.edge.created", "task.start", "dag.completed")
// so subscribers can match a literal name or a "prefix.*" wildcard.
type Event struct {
	Name      string
	RunID     string
	SessionID string
	Timestamp time.Time
	Payload   any
}

// Handler receives events delivered to a subscription.
type Handler func(context.Context, Event)

// Bus fans events out to subscribers. The zero value is not usable; build
// one with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	nextID      uint64
	queueSize   int
}

type subscription struct {
	id      uint64
	pattern string
	ch      chan Event
	done    chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber buffered channel size. The default
// is 64; a subscriber whose queue fills drops the oldest pending event
// rather than blocking the publisher, preserving the "must not block
// producers" contract in spec.md §4.9.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]*subscription),
		queueSize:   64,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers handler for events whose Name matches pattern.
// pattern may be a literal event name or end in ".*" to match any name
// sharing that dotted prefix (e.g. "task.*" matches "task.start" and
// "task.complete"). Subscribe starts an internal goroutine that drains the
// subscriber's queue and invokes handler; cancel the returned function (or
// cancel ctx) to stop it.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		pattern: pattern,
		ch:      make(chan Event, b.queueSize),
		done:    make(chan struct{}),
	}
	b.subscribers[pattern] = append(b.subscribers[pattern], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				handler(ctx, ev)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { b.unsubscribe(pattern, sub) }
}

func (b *Bus) unsubscribe(pattern string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[pattern]
	for i, s := range subs {
		if s == target {
			b.subscribers[pattern] = append(subs[:i], subs[i+1:]...)
			close(s.done)
			break
		}
	}
	if len(b.subscribers[pattern]) == 0 {
		delete(b.subscribers, pattern)
	}
}

// Publish fans ev out to every subscriber whose pattern matches ev.Name.
// Publish never blocks on a slow subscriber: if a subscriber's queue is
// full, the oldest queued event for that subscriber is dropped to make
// room, so producers always return immediately.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for pattern, subs := range b.subscribers {
		if !matches(pattern, ev.Name) {
			continue
		}
		for _, sub := range subs {
			deliver(sub.ch, ev)
		}
	}
}

func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest event to keep Publish non-blocking.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func matches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ".*")
	if !ok {
		return false
	}
	return name == prefix || strings.HasPrefix(name, prefix+".")
}
