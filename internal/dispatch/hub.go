package dispatch

import (
	"log/slog"
	"sync"
	"time"
)

// Hub fans computed results out to an arbitrary number of live subscribers.
// Each subscriber owns a bounded queue; a slow subscriber only loses its own
// oldest events and never blocks the publisher or its peers.
type Hub struct {
	logger     *slog.Logger
	queueDepth int

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	onDrop func() // metrics callback, optional
}

// Subscription is an opaque handle returned by Subscribe. Events arrive on C
// until Unsubscribe closes it.
type Subscription struct {
	C chan Event

	hub    *Hub
	once   sync.Once
	closed bool
}

// NewHub constructs a Hub with the given per-subscriber queue depth.
func NewHub(logger *slog.Logger, queueDepth int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &Hub{
		logger:     logger,
		queueDepth: queueDepth,
		subs:       make(map[*Subscription]struct{}),
	}
}

// OnDrop registers a callback invoked once per dropped event.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers a new subscriber and returns its handle.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		C:   make(chan Event, h.queueDepth),
		hub: h,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber registered", slog.Int("subscribers", count))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
		sub.closed = true
	}
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		sub.once.Do(func() { close(sub.C) })
		h.logger.Debug("subscriber removed", slog.Int("subscribers", count))
	}
}

// Publish delivers the event to every current subscriber. When a queue is
// full the oldest queued event is dropped in favour of the newest, keeping
// delivery live rather than complete.
func (h *Hub) Publish(event Event) {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.closed {
			continue
		}
		for {
			select {
			case sub.C <- event:
			default:
				select {
				case <-sub.C:
					if h.onDrop != nil {
						h.onDrop()
					}
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone, closing all channels.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
}
