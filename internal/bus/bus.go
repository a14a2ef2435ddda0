// Package bus implements the internal one-to-many transport of spec.md
// §4.D: any number of publishers may emit frames; any number of anonymous
// subscribers receive every frame published after they subscribed, each
// through its own bounded queue so a slow subscriber never blocks a fast
// one. A production deployment swaps this for a networked pub/sub
// transport behind the same interface; this is the in-process equivalent
// the spec explicitly allows for single-host deployments.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/galnet-eddn/bus/internal/wire"
)

// Frame is a single published unit: an optional topic prefix followed by
// " |-| " and a zlib-compressed JSON body, or just the compressed body
// when no topic applies.
type Frame []byte

// DefaultQueueSize is the default bounded per-subscriber queue depth
// (spec.md §4.D).
const DefaultQueueSize = 500

// Subscription is a single subscriber's view of the bus: a channel of
// frames matching its topic-prefix filter.
type Subscription struct {
	ch      chan Frame
	prefix  string
	mu      sync.Mutex
	dropped atomic.Uint64
}

// C returns the channel frames arrive on.
func (s *Subscription) C() <-chan Frame { return s.ch }

// Dropped returns the number of frames dropped for this subscriber because
// its queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// enqueue delivers frame without blocking, dropping the oldest queued
// frame on overflow (spec.md §4.D: "on overflow the oldest undelivered
// frame is dropped for that subscriber only").
func (s *Subscription) enqueue(frame Frame) {
	select {
	case s.ch <- frame:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- frame:
	default:
		s.dropped.Add(1)
	}
}

// Bus is a multi-publisher, multi-subscriber frame router with
// topic-prefix filtering.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	queueDepth int
}

// New returns a Bus whose subscribers each get a queue of queueDepth
// frames. queueDepth <= 0 uses DefaultQueueSize.
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueSize
	}
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		queueDepth: queueDepth,
	}
}

// Subscribe registers a new subscriber filtering on topicPrefix ("" means
// every frame).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	sub := &Subscription{
		ch:     make(chan Frame, b.queueDepth),
		prefix: topicPrefix,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish delivers frame to every subscriber whose prefix matches the
// frame's topic (per wire.SplitTopic). Never blocks: full per-subscriber
// queues drop their oldest entry rather than stall the publisher.
func (b *Bus) Publish(frame Frame) {
	topic, _ := wire.SplitTopic(frame)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.prefix != "" && !hasPrefix(topic, sub.prefix) {
			continue
		}
		sub.enqueue(frame)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func hasPrefix(topic, prefix string) bool {
	if len(topic) < len(prefix) {
		return false
	}
	return topic[:len(prefix)] == prefix
}
