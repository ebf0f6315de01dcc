// Package store defines the interface for persisting build outcomes.
package store

import (
	"context"

	"github.com/explosion/wheelwright/src/contracts"
)

// Store persists finished builds so they can be looked up later.
type Store interface {
	// SaveOutcome inserts or replaces the record for its release.
	SaveOutcome(ctx context.Context, rec *contracts.BuildRecord) error

	// GetOutcome returns the record for a release. A missing record is
	// reported with an error wrapping provider.ErrNotFound.
	GetOutcome(ctx context.Context, releaseID string) (*contracts.BuildRecord, error)

	// ListOutcomes returns the most recent records, newest first.
	ListOutcomes(ctx context.Context, limit int) ([]contracts.BuildRecord, error)

	// Close closes the store connection
	Close() error
}
