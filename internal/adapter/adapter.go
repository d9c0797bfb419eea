// Package adapter defines the source adapter capability and its
// implementations: the authenticated MTProto reader, the offline HTML
// export reader, and the public t.me/s scraper. The push-style webhook
// variant lives in internal/webhook.
package adapter

import (
	"context"
	"io"

	"svoi_ingest/internal/model"
)

// FetchOptions controls one adapter run over a channel.
type FetchOptions struct {
	// Limit bounds how many posts (or, for page-oriented sources, roughly
	// how many posts' worth of pages) are fetched. Zero means the adapter
	// default.
	Limit int
	// BeforeID resumes fetching strictly before the given message id.
	// Zero means "from the newest".
	BeforeID int64
}

// SourceAdapter produces raw posts for a channel. Implementations tolerate
// individual malformed items (skip, log, continue) and never abort a whole
// channel over a single post.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, channel string, opts FetchOptions) ([]model.RawPost, error)
}

// PhotoOpener is implemented by adapters whose posts carry fetchable photo
// references. A failed open degrades the post to "no images"; callers never
// drop the post itself.
type PhotoOpener interface {
	OpenPhoto(ctx context.Context, post model.RawPost) (io.ReadCloser, error)
}
