// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"svoi_ingest/internal/model"
)

// Store is the interface for all listing persistence operations.
type Store interface {
	// CategoryMap returns the slug → category id mapping.
	CategoryMap(ctx context.Context) (map[string]int64, error)

	// InsertListing persists a new listing, generating its ID when empty.
	// It reports false without error when a row with the same
	// (channel, message id) already exists; l.ID is set to the id of the
	// persisted row either way.
	InsertListing(ctx context.Context, l *model.Listing) (inserted bool, err error)

	// UpsertListing inserts the listing or, on a (channel, message id)
	// conflict, updates the existing row in place. l.ID is set to the id
	// of the persisted row either way.
	UpsertListing(ctx context.Context, l *model.Listing) error

	// ListingSources returns the extra-origin tags recorded on a listing.
	ListingSources(ctx context.Context, id string) ([]model.SourceTag, error)
	UpdateListingSources(ctx context.Context, id string, sources []model.SourceTag) error

	// AuthorCounts returns active-listing counts per author identity for
	// a channel, keyed by model.AuthorKey. Unsigned listings are omitted.
	AuthorCounts(ctx context.Context, channel string) (map[string]int, error)
	ActiveListingCount(ctx context.Context, channel string) (int, error)
	MarkAuthorsVerified(ctx context.Context, channel string, authorKeys []string) error
	MarkChannelVerified(ctx context.Context, channel string) error

	// ListUnnotified returns imported listings in a channel whose authors
	// have not been notified yet.
	ListUnnotified(ctx context.Context, channel string) ([]model.Listing, error)
	MarkNotified(ctx context.Context, id string) error

	Close() error
}
