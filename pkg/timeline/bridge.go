package timeline

import (
	"slices"
	"sync"
)

// Bridge fans published frames out to subscribers. Delivery is synchronous
// and in subscription order; each subscriber receives its own clone.
//
// Callbacks run while the bridge holds its delivery lock, so they must not
// publish or subscribe synchronously. Unsubscribing from a callback is
// allowed.
type Bridge struct {
	// deliverMu serializes deliveries, including the initial frame handed
	// to a new subscriber.
	deliverMu sync.Mutex

	mu     sync.Mutex
	subs   []*subscription
	latest Frame
	closed bool
}

type subscription struct {
	fn     func(Frame)
	active bool // guarded by Bridge.mu
}

// NewBridge creates a Bridge whose latest frame is initial.
func NewBridge(initial Frame) *Bridge {
	return &Bridge{latest: initial.Clone()}
}

// Subscribe registers fn and immediately calls it with the latest frame.
// The returned function removes the subscription and is safe to call more
// than once. Subscribing to a closed bridge delivers the final frame only.
func (b *Bridge) Subscribe(fn func(Frame)) (unsubscribe func()) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	initial := b.latest.Clone()
	if b.closed {
		b.mu.Unlock()
		fn(initial)
		return func() {}
	}
	sub := &subscription{fn: fn, active: true}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	fn(initial)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bridge) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.active = false
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s == sub })
}

// Publish records f as the latest frame and delivers it to every current
// subscriber.
func (b *Bridge) Publish(f Frame) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest = f.Clone()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !b.isActive(s) {
			continue
		}
		s.fn(f.Clone())
	}
}

func (b *Bridge) isActive(s *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.active
}

// Latest returns a clone of the most recently published frame.
func (b *Bridge) Latest() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Clone()
}

// Len returns the number of active subscribers.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber. Later publishes are ignored.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.active = false
	}
	b.subs = nil
	b.closed = true
}
