package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"svoi_ingest/internal/model"
	"svoi_ingest/internal/normalize"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	scrapeBaseURL  = "https://t.me/s"
	scrapePageSize = 20 // posts per t.me/s page
	scrapeMaxBody  = 5 * 1024 * 1024
)

// The t.me/s preview page has no versioned contract; every structural
// marker the scraper depends on is confined to this file.
var reBackgroundImage = regexp.MustCompile(`background-image:url\('([^']+)'\)`)

// Scrape reads public channels through the t.me/s preview pages without
// any credentials, paginating backward with the oldest seen message id.
type Scrape struct {
	client HTTPClient
	log    *slog.Logger
	pause  *rate.Limiter
}

// NewScrape creates a public-web adapter using the given HTTP client.
func NewScrape(client HTTPClient, log *slog.Logger) *Scrape {
	return &Scrape{
		client: client,
		log:    log,
		pause:  rate.NewLimiter(rate.Every(800*time.Millisecond), 1),
	}
}

// Name identifies the adapter in reports and logs.
func (s *Scrape) Name() string { return "scrape" }

// Fetch pages backward through the channel preview until the post limit is
// reached or a page yields no parseable posts. A network or HTTP failure
// ends the channel early without losing already-collected posts.
func (s *Scrape) Fetch(ctx context.Context, channel string, opts FetchOptions) ([]model.RawPost, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}
	pages := (limit + scrapePageSize - 1) / scrapePageSize

	beforeID := opts.BeforeID
	var all []model.RawPost
	for page := 0; page < pages; page++ {
		if page > 0 {
			if err := s.pause.Wait(ctx); err != nil {
				return all, err
			}
		}

		posts, err := s.fetchPage(ctx, channel, beforeID)
		if err != nil {
			// Treated as "no more posts" for this channel.
			s.log.Error("fetch scrape page", "channel", channel, "before_id", beforeID, "error", err)
			break
		}
		if len(posts) == 0 {
			if page == 0 {
				s.log.Warn("no posts found, channel may be private or misspelled", "channel", channel)
			}
			break
		}

		all = append(all, posts...)
		minID := posts[0].MessageID
		for _, p := range posts[1:] {
			if p.MessageID < minID {
				minID = p.MessageID
			}
		}
		if minID <= 1 {
			break
		}
		beforeID = minID
	}

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// OpenPhoto downloads the post's photo URL.
func (s *Scrape) OpenPhoto(ctx context.Context, post model.RawPost) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, post.PhotoRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create photo request: %w", err)
	}
	req.Header.Set("Referer", "https://t.me/")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download photo: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *Scrape) fetchPage(ctx context.Context, channel string, beforeID int64) ([]model.RawPost, error) {
	url := fmt.Sprintf("%s/%s", scrapeBaseURL, channel)
	if beforeID > 0 {
		url = fmt.Sprintf("%s?before=%d", url, beforeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, scrapeMaxBody))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return s.parsePage(doc, channel), nil
}

func (s *Scrape) parsePage(doc *goquery.Document, channel string) []model.RawPost {
	var posts []model.RawPost
	doc.Find("div.tgme_widget_message").Each(func(_ int, sel *goquery.Selection) {
		id := messageIDFromDataPost(sel.AttrOr("data-post", ""))
		if id == 0 {
			return
		}

		var text string
		if html, err := sel.Find(".tgme_widget_message_text").First().Html(); err == nil {
			text = normalize.StripHTML(html)
		}

		photoURL := findScrapePhoto(sel)

		var postedAt time.Time
		if dt, ok := sel.Find("time[datetime]").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				postedAt = t
			}
		}

		if text == "" && photoURL == "" {
			return
		}
		posts = append(posts, model.RawPost{
			Channel:   channel,
			MessageID: id,
			Text:      text,
			PhotoRef:  photoURL,
			PostedAt:  postedAt,
		})
	})
	return posts
}

// messageIDFromDataPost extracts N from a data-post="channel/N" attribute.
func messageIDFromDataPost(v string) int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 {
		return 0
	}
	id, _ := strconv.ParseInt(v[idx+1:], 10, 64)
	return id
}

func findScrapePhoto(sel *goquery.Selection) string {
	if style, ok := sel.Find("a.tgme_widget_message_photo_wrap").First().Attr("style"); ok {
		if m := reBackgroundImage.FindStringSubmatch(style); m != nil {
			return m[1]
		}
	}
	// Fall back to inline images, skipping avatars.
	var url string
	sel.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := img.AttrOr("src", "")
		if src != "" && !strings.Contains(src, "userpic") && !strings.Contains(src, "avatar") {
			url = src
			return false
		}
		return true
	})
	return url
}
