package store

import (
	"context"
	"fmt"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Store is the narrow persistence surface the engine depends on. Both calls
// are fire-and-forget from the core's perspective: failures affect
// durability, never live behaviour.
type Store interface {
	PersistAlert(ctx context.Context, alert models.Alert) error
	PersistAggregate(ctx context.Context, snap models.AggregateSnapshot) error
	Close() error
}

// StorageError wraps a failed persistence operation. It is logged by callers
// and never propagated to ingestion or query paths.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NoopStore implements Store but never persists anything. Used when durable
// storage is disabled or unavailable.
type NoopStore struct{}

// PersistAlert discards the alert and reports success.
func (NoopStore) PersistAlert(context.Context, models.Alert) error { return nil }

// PersistAggregate discards the snapshot and reports success.
func (NoopStore) PersistAggregate(context.Context, models.AggregateSnapshot) error { return nil }

// Close is a no-op.
func (NoopStore) Close() error { return nil }
