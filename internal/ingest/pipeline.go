// Package ingest orchestrates the pipeline: adapter fetch, normalization,
// classification, price extraction, deduplication, and persistence.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"svoi_ingest/internal/adapter"
	"svoi_ingest/internal/classify"
	"svoi_ingest/internal/dedup"
	"svoi_ingest/internal/images"
	"svoi_ingest/internal/model"
	"svoi_ingest/internal/normalize"
	"svoi_ingest/internal/price"
	"svoi_ingest/internal/storage"
)

// Mode selects how layer-3 idempotency manifests at the store.
type Mode int

// Persistence modes.
const (
	// ModeInsert treats an existing (channel, message id) row as a
	// silent duplicate skip. Used by live, scrape, and webhook imports.
	ModeInsert Mode = iota
	// ModeUpsert updates the existing row instead, so re-running with a
	// newer export refreshes listings rather than erroring.
	ModeUpsert
)

// Options controls one orchestrator run.
type Options struct {
	Mode   Mode
	DryRun bool
	// Cutoff drops posts older than the given time before processing.
	// Zero disables the age filter.
	Cutoff time.Time
	// MinTextLen is the minimum trimmed text length (in runes) for a post
	// to be processed; shorter posts count as "no text".
	MinTextLen int
	Fetch      adapter.FetchOptions
}

// interChannelCooldown spaces channel runs to respect upstream rate limits.
const interChannelCooldown = 1500 * time.Millisecond

// Pipeline wires the downstream components once; every adapter feeds it.
type Pipeline struct {
	store    storage.Store
	images   images.Store
	index    *dedup.Index
	log      *slog.Logger
	cooldown *rate.Limiter

	mu     sync.Mutex
	catMap map[string]int64
}

// New creates a Pipeline. The fingerprint index is injected so callers can
// share one across runs or hand every test a fresh instance.
func New(store storage.Store, imgs images.Store, index *dedup.Index, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		store:    store,
		images:   imgs,
		index:    index,
		log:      log,
		cooldown: rate.NewLimiter(rate.Every(interChannelCooldown), 1),
	}
	// Drain the initial burst token so the very first inter-channel gap
	// is enforced too.
	p.cooldown.Allow()
	return p
}

// Run processes every channel through the source adapter and returns the
// accumulated per-channel reports. Per-item failures are counted, never
// fatal; the run stops early only on context cancellation.
func (p *Pipeline) Run(ctx context.Context, src adapter.SourceAdapter, channels []string, opts Options) (*Report, error) {
	report := &Report{Source: src.Name(), DryRun: opts.DryRun}
	photos, _ := src.(adapter.PhotoOpener)

	for i, channel := range channels {
		if i > 0 {
			if err := p.cooldown.Wait(ctx); err != nil {
				return report, err
			}
		}
		cr := p.runChannel(ctx, src, photos, channel, opts)
		report.Channels = append(report.Channels, cr)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	return report, nil
}

// IngestOne pushes a single post through the pipeline. It is the entry
// point for push-style sources (the webhook receiver).
func (p *Pipeline) IngestOne(ctx context.Context, post model.RawPost, photos adapter.PhotoOpener, opts Options) error {
	var cr ChannelReport
	p.process(ctx, post, photos, opts, &cr)
	if cr.Errors > 0 {
		return fmt.Errorf("ingest post %s/%d failed", post.Channel, post.MessageID)
	}
	return nil
}

func (p *Pipeline) runChannel(ctx context.Context, src adapter.SourceAdapter, photos adapter.PhotoOpener, channel string, opts Options) ChannelReport {
	cr := ChannelReport{Channel: channel}
	p.log.Info("processing channel", "source", src.Name(), "channel", channel)

	posts, err := src.Fetch(ctx, channel, opts.Fetch)
	if err != nil {
		// Already-fetched posts still get processed.
		p.log.Error("fetch channel", "source", src.Name(), "channel", channel, "error", err)
		cr.Errors++
	}

	if !opts.Cutoff.IsZero() {
		kept := posts[:0]
		for _, post := range posts {
			if post.PostedAt.Before(opts.Cutoff) {
				cr.TooOld++
				continue
			}
			kept = append(kept, post)
		}
		posts = kept
	}

	if opts.MinTextLen > 0 {
		kept := posts[:0]
		for _, post := range posts {
			if utf8.RuneCountInString(strings.TrimSpace(post.Text)) < opts.MinTextLen {
				cr.NoText++
				continue
			}
			kept = append(kept, post)
		}
		posts = kept
	}

	posts, cr.IntraDupes = dedup.DropRepeats(posts)

	for _, post := range posts {
		if ctx.Err() != nil {
			return cr
		}
		p.process(ctx, post, photos, opts, &cr)
	}

	p.log.Info("channel done", "channel", channel,
		"imported", cr.Imported, "duplicates", cr.Duplicates, "cross_dupes", cr.CrossDupes,
		"too_old", cr.TooOld, "no_text", cr.NoText, "errors", cr.Errors)
	return cr
}

func (p *Pipeline) process(ctx context.Context, post model.RawPost, photos adapter.PhotoOpener, opts Options, cr *ChannelReport) {
	fp := dedup.Fingerprint(post.Text)

	// Cross-channel layer: an already-registered fingerprint means this
	// post is another origin of an existing listing, not a new one.
	if primary, ok := p.index.Lookup(fp); ok {
		cr.CrossDupes++
		if opts.DryRun {
			return
		}
		if err := p.mergeSource(ctx, primary, post); err != nil {
			p.log.Error("merge source tag", "channel", post.Channel, "message_id", post.MessageID, "error", err)
			cr.Errors++
		}
		return
	}

	parsed := Parse(post.Text)
	categoryID, err := p.categoryID(ctx, parsed.CategorySlug)
	if err != nil {
		p.log.Error("resolve category", "slug", parsed.CategorySlug, "error", err)
		cr.Errors++
		return
	}

	if opts.DryRun {
		cr.Imported++
		cr.Preview = append(cr.Preview, PreviewRow{
			MessageID: post.MessageID,
			Category:  parsed.CategorySlug,
			Title:     parsed.Title,
			Price:     formatPrice(parsed),
		})
		return
	}

	var imgs []model.Image
	if post.HasPhoto() && photos != nil {
		if url, err := p.savePhoto(ctx, photos, post); err != nil {
			// Degrade to a no-image listing, never drop the post.
			p.log.Warn("photo failed, importing without images",
				"channel", post.Channel, "message_id", post.MessageID, "error", err)
		} else {
			imgs = []model.Image{{URL: url}}
		}
	}

	listing := &model.Listing{
		CategoryID:  categoryID,
		Title:       parsed.Title,
		Description: parsed.Description,
		Price:       parsed.Price,
		Currency:    parsed.Currency,
		Images:      imgs,
		Status:      model.StatusActive,
		CreatedAt:   post.PostedAt,
		Channel:     post.Channel,
		MessageID:   post.MessageID,
		AuthorID:    post.AuthorID,
		AuthorName:  post.AuthorName,
	}

	switch opts.Mode {
	case ModeUpsert:
		if err := p.store.UpsertListing(ctx, listing); err != nil {
			p.log.Error("upsert listing", "channel", post.Channel, "message_id", post.MessageID, "error", err)
			cr.Errors++
			return
		}
		cr.Imported++
	default:
		inserted, err := p.store.InsertListing(ctx, listing)
		if err != nil {
			p.log.Error("insert listing", "channel", post.Channel, "message_id", post.MessageID, "error", err)
			cr.Errors++
			return
		}
		if inserted {
			cr.Imported++
		} else {
			// The row was persisted by an earlier run. It still becomes
			// the fingerprint's primary, so reposts seen later in this
			// run merge into it instead of inserting a second row.
			cr.Duplicates++
		}
	}

	p.index.Register(fp, dedup.Primary{ID: listing.ID, Channel: listing.Channel})
}

// Parse runs the normalizer, classifier, and price extractor over raw text.
func Parse(text string) model.ParsedListing {
	title, description := normalize.Split(text)
	amount, currency := price.Extract(text)
	return model.ParsedListing{
		Title:        title,
		Description:  description,
		CategorySlug: classify.Detect(text),
		Price:        amount,
		Currency:     currency,
	}
}

// mergeSource appends the post's origin to the primary listing's source
// tags. The primary's own channel and already-recorded channels are no-ops.
func (p *Pipeline) mergeSource(ctx context.Context, primary dedup.Primary, post model.RawPost) error {
	if primary.Channel == post.Channel {
		return nil
	}
	sources, err := p.store.ListingSources(ctx, primary.ID)
	if err != nil {
		return err
	}
	for _, s := range sources {
		if s.Channel == post.Channel {
			return nil
		}
	}
	sources = append(sources, model.SourceTag{Channel: post.Channel, MessageID: post.MessageID})
	if err := p.store.UpdateListingSources(ctx, primary.ID, sources); err != nil {
		return err
	}
	p.log.Debug("cross-dupe merged", "primary_id", primary.ID,
		"channel", post.Channel, "message_id", post.MessageID)
	return nil
}

func (p *Pipeline) savePhoto(ctx context.Context, photos adapter.PhotoOpener, post model.RawPost) (string, error) {
	rc, err := photos.OpenPhoto(ctx, post)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	return p.images.Save(ctx, post.Channel, post.MessageID, rc)
}

func (p *Pipeline) categoryID(ctx context.Context, slug string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.catMap == nil {
		m, err := p.store.CategoryMap(ctx)
		if err != nil {
			return 0, err
		}
		p.catMap = m
	}
	if id, ok := p.catMap[slug]; ok {
		return id, nil
	}
	if id, ok := p.catMap[classify.DefaultSlug]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("category %q not found and no %q fallback", slug, classify.DefaultSlug)
}
