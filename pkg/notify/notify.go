// Package notify fans clipboard change events out to in-process
// subscribers and turns commits made by other processes into events.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventClipboardUpdated is the only event kind frontends receive.
const EventClipboardUpdated = "clipboard-updated"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Event is a change notification. It carries no payload that would let a
// subscriber skip re-querying the store.
type Event struct {
	Kind   string    `json:"kind"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

// Updated returns a clipboard-updated event stamped now.
func Updated(source string) Event {
	return Event{Kind: EventClipboardUpdated, Source: source, At: time.Now()}
}

// Notifier delivers events to subscribers without ever blocking the
// publisher. Delivery is at most once and there is no replay: a subscriber
// whose buffer is full misses the event.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	next   uint64
	buffer int
	closed bool
}

// New returns a Notifier whose subscribers buffer up to buffer events.
// A buffer below 1 uses DefaultBuffer.
func New(buffer int) *Notifier {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Notifier{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed by cancel or by
// Close; cancel is idempotent.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, n.buffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room and returns how many
// received it.
func (n *Notifier) Publish(ev Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	delivered := 0
	for _, ch := range n.subs {
		select {
		case ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel and later publishes deliver nothing.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// VersionSource reports a counter that changes when another connection
// commits. *vault.Vault satisfies it through DataVersion.
type VersionSource interface {
	DataVersion(ctx context.Context) (int64, error)
}

// Watcher polls a VersionSource and publishes a clipboard-updated event
// whenever the counter moves.
type Watcher struct {
	Source   VersionSource
	Notifier *Notifier
	Interval time.Duration
	Logger   *slog.Logger
}

// Run polls until ctx is cancelled. Errors reading the version are logged
// and the poll continues; the first successful read sets the baseline.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	seeded := false
	for {
		v, err := w.Source.DataVersion(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("failed to read data version", "error", err)
		case !seeded:
			last, seeded = v, true
		case v != last:
			last = v
			w.Notifier.Publish(Updated("external"))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
