// Package alert fans structured notifications out to subscribed sinks.
// Publishing never blocks: each subscription has a bounded backlog and the
// oldest messages are dropped when a sink falls behind.
package alert

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// DefaultBacklog is the per-subscription ring size.
const DefaultBacklog = 256

// Subscription is one sink's view of the bus.
type Subscription struct {
	name string
	ch   chan model.AlertMessage

	dropped atomic.Uint64
	closed  atomic.Bool
}

// C returns the message channel. It is closed when the bus shuts down.
func (s *Subscription) C() <-chan model.AlertMessage { return s.ch }

// Dropped returns how many messages this subscription has lost to backlog
// overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Name returns the subscriber name.
func (s *Subscription) Name() string { return s.name }

// Bus is the fan-out hub.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription
	done bool
}

// NewBus creates a bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a sink with the given backlog (0 selects
// DefaultBacklog).
func (b *Bus) Subscribe(name string, backlog int) *Subscription {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	sub := &Subscription{name: name, ch: make(chan model.AlertMessage, backlog)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		close(sub.ch)
		sub.closed.Store(true)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers msg to every subscription without blocking. A full
// backlog sheds its oldest message first.
func (b *Bus) Publish(msg model.AlertMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.done {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Backlog full: drop the oldest and retry once.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Emit is the convenience used throughout the pipeline.
func (b *Bus) Emit(t model.AlertType, sev model.Severity, data interface{}) {
	b.Publish(model.AlertMessage{Type: t, Severity: sev, Timestamp: time.Now().UTC(), Data: data})
}

// Dropped sums the messages lost across all subscriptions.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, sub := range b.subs {
		total += sub.Dropped()
	}
	return total
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for _, sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
	b.subs = nil
}
