package dispatch

import "time"

// EventKind labels the payload carried by a dispatched event.
type EventKind string

const (
	EventRisk     EventKind = "risk"
	EventForecast EventKind = "forecast"
	EventAlert    EventKind = "alert"
)

// Event is the envelope fanned out to subscribers. Every event is a fresh
// derived snapshot, never an append-only log entry a client must see in full.
type Event struct {
	Kind        EventKind   `json:"kind"`
	Payload     interface{} `json:"payload"`
	PublishedAt time.Time   `json:"published_at"`
}
