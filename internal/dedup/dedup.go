// Package dedup implements the in-memory deduplication layers: intra-batch
// repeat dropping and the cross-channel fingerprint index. The third layer,
// cross-run idempotency, lives in the store's unique index.
package dedup

import (
	"strings"
	"sync"

	"svoi_ingest/internal/model"
)

const (
	// shortKeyLen bounds the intra-batch repeat key.
	shortKeyLen = 80
	// fingerprintLen bounds the cross-channel fingerprint.
	fingerprintLen = 100
)

// ShortKey returns the intra-batch dedup key: the trimmed, lowercased
// prefix of the text. Empty text yields an empty key, which must never be
// used for matching.
func ShortKey(text string) string {
	return strings.ToLower(strings.TrimSpace(prefixRunes(text, shortKeyLen)))
}

// Fingerprint returns the cross-channel dedup key: a longer prefix than
// ShortKey, lowercased with all whitespace collapsed to single spaces.
func Fingerprint(text string) string {
	fp := strings.ToLower(prefixRunes(text, fingerprintLen))
	return strings.Join(strings.Fields(fp), " ")
}

// DropRepeats removes posts whose ShortKey was already seen earlier in the
// batch, keeping the first occurrence. Posts with an empty key always pass.
// It returns the surviving posts and the number dropped.
func DropRepeats(posts []model.RawPost) ([]model.RawPost, int) {
	seen := make(map[string]struct{}, len(posts))
	kept := make([]model.RawPost, 0, len(posts))
	dropped := 0
	for _, p := range posts {
		key := ShortKey(p.Text)
		if key != "" {
			if _, dup := seen[key]; dup {
				dropped++
				continue
			}
			seen[key] = struct{}{}
		}
		kept = append(kept, p)
	}
	return kept, dropped
}

// Primary identifies the persisted listing a fingerprint resolves to,
// along with its origin channel so callers can tell a genuine cross-channel
// repost from the primary's own post coming around again.
type Primary struct {
	ID      string
	Channel string
}

// Index maps content fingerprints to the primary persisted listing.
// One instance is shared across all channels of an orchestrator run; it is
// safe for concurrent use so channel processing can be parallelized.
type Index struct {
	mu   sync.Mutex
	byFP map[string]Primary
}

// NewIndex returns an empty fingerprint index.
func NewIndex() *Index {
	return &Index{byFP: make(map[string]Primary)}
}

// Lookup returns the primary registered for fp. An empty fingerprint
// never matches.
func (i *Index) Lookup(fp string) (Primary, bool) {
	if fp == "" {
		return Primary{}, false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.byFP[fp]
	return p, ok
}

// Register binds fp to the given primary. Empty fingerprints and primaries
// without an id are ignored.
func (i *Index) Register(fp string, p Primary) {
	if fp == "" || p.ID == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byFP[fp] = p
}

// Len reports the number of registered fingerprints.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.byFP)
}

func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
