// Package store implements the SharedStore contract: a durable,
// insertion-ordered record map with cross-replica fan-out subscription.
// Two backings share the Store interface: an in-process map for
// single-replica mode and tests, and a Redis-backed implementation for
// multi-replica correctness.
package store

import (
	"context"

	"github.com/threatanalysis/coordinator/internal/domain"
)

// Store is the SharedStore contract every backing implements.
type Store interface {
	// SaveAndPublish atomically records the entry and publishes it to the
	// subscription channel. On failure the entry must not be left stored
	// without having been published.
	SaveAndPublish(ctx context.Context, record domain.EnhancedAnalysisRecord) error

	// Recent returns up to limit records, newest-first by DetectedAt, ties
	// broken by id ascending.
	Recent(ctx context.Context, limit int) ([]domain.EnhancedAnalysisRecord, error)

	// ByID returns a single record, or ok=false if it does not exist.
	ByID(ctx context.Context, id string) (domain.EnhancedAnalysisRecord, bool, error)

	// Subscribe returns a channel of records published after the call, and
	// a cleanup function the caller must invoke to release resources. The
	// stream never replays records published before the call.
	Subscribe(ctx context.Context) (<-chan domain.EnhancedAnalysisRecord, func(), error)
}
