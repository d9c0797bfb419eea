// Package trust derives "verified" badges from posting history.
package trust

import (
	"context"
	"fmt"
	"log/slog"

	"svoi_ingest/internal/storage"
)

// Thresholds for the two verification paths.
const (
	// AuthorThreshold is the number of active listings a signed author
	// needs in a channel before their listings are marked verified.
	AuthorThreshold = 3
	// ChannelThreshold is the active-listing count after which a channel
	// with no signed authors gets all its listings marked verified.
	ChannelThreshold = 10
)

// Scorer recomputes verification flags for a channel after an import run.
type Scorer struct {
	store storage.Store
	log   *slog.Logger
}

// NewScorer creates a Scorer backed by the given store.
func NewScorer(store storage.Store, log *slog.Logger) *Scorer {
	return &Scorer{store: store, log: log}
}

// Score marks listings verified per channel history. Flags are only ever
// added, never removed, so re-running is safe at any time.
func (s *Scorer) Score(ctx context.Context, channel string) error {
	counts, err := s.store.AuthorCounts(ctx, channel)
	if err != nil {
		return fmt.Errorf("author counts for %s: %w", channel, err)
	}

	if len(counts) == 0 {
		// No signed authors at all: fall back to channel-level trust.
		total, err := s.store.ActiveListingCount(ctx, channel)
		if err != nil {
			return fmt.Errorf("listing count for %s: %w", channel, err)
		}
		if total < ChannelThreshold {
			return nil
		}
		if err := s.store.MarkChannelVerified(ctx, channel); err != nil {
			return fmt.Errorf("mark channel %s verified: %w", channel, err)
		}
		s.log.Info("channel verified", "channel", channel, "listings", total)
		return nil
	}

	var keys []string
	for key, n := range counts {
		if n >= AuthorThreshold {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.store.MarkAuthorsVerified(ctx, channel, keys); err != nil {
		return fmt.Errorf("mark authors verified in %s: %w", channel, err)
	}
	s.log.Info("authors verified", "channel", channel, "authors", len(keys))
	return nil
}
