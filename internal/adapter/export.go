package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"svoi_ingest/internal/model"
	"svoi_ingest/internal/normalize"
)

var (
	reExportFile = regexp.MustCompile(`^messages(\d*)\.html$`)
	reMessageID  = regexp.MustCompile(`^message(\d+)$`)
	reExportDate = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4}) (\d{2}):(\d{2}):(\d{2})`)
	rePhotoFile  = regexp.MustCompile(`(?i)^photos/.+\.(?:jpg|jpeg|png|webp)$`)
)

// Export reads Telegram Desktop HTML exports from <dir>/<channel>/.
// An export is paginated into messages.html, messages2.html, ... and may
// repeat a message across files; Fetch deduplicates by message id and
// returns the merged result newest-first.
type Export struct {
	dir string
	log *slog.Logger
}

// NewExport creates an adapter over a directory of per-channel exports.
func NewExport(dir string, log *slog.Logger) *Export {
	return &Export{dir: dir, log: log}
}

// Name identifies the adapter in reports and logs.
func (e *Export) Name() string { return "export" }

// DiscoverChannels lists the channel subdirectories of an export directory.
func DiscoverChannels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read export dir: %w", err)
	}
	var channels []string
	for _, ent := range entries {
		if ent.IsDir() {
			channels = append(channels, ent.Name())
		}
	}
	sort.Strings(channels)
	return channels, nil
}

// Fetch parses every export file of the channel. A file that fails to open
// or parse is logged and skipped; already-parsed posts survive.
func (e *Export) Fetch(ctx context.Context, channel string, opts FetchOptions) ([]model.RawPost, error) {
	channelDir := filepath.Join(e.dir, channel)
	files, err := exportFiles(channelDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		e.log.Warn("no export files found", "channel", channel, "dir", channelDir)
		return nil, nil
	}

	seen := make(map[int64]struct{})
	var posts []model.RawPost
	for _, file := range files {
		if ctx.Err() != nil {
			return posts, ctx.Err()
		}
		parsed, err := e.parseFile(filepath.Join(channelDir, file), channel)
		if err != nil {
			e.log.Error("parse export file", "channel", channel, "file", file, "error", err)
			continue
		}
		for _, p := range parsed {
			if _, dup := seen[p.MessageID]; dup {
				continue
			}
			seen[p.MessageID] = struct{}{}
			posts = append(posts, p)
		}
	}

	// Newest first, like the live reader.
	sort.Slice(posts, func(i, j int) bool { return posts[i].PostedAt.After(posts[j].PostedAt) })

	if opts.Limit > 0 && len(posts) > opts.Limit {
		posts = posts[:opts.Limit]
	}
	return posts, nil
}

// OpenPhoto opens the exported photo file referenced by the post.
func (e *Export) OpenPhoto(_ context.Context, post model.RawPost) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(e.dir, post.Channel, filepath.FromSlash(post.PhotoRef)))
	if err != nil {
		return nil, fmt.Errorf("open export photo: %w", err)
	}
	return f, nil
}

func (e *Export) parseFile(path, channel string) ([]model.RawPost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse export html: %w", err)
	}

	var posts []model.RawPost
	doc.Find("div.message").Each(func(_ int, sel *goquery.Selection) {
		m := reMessageID.FindStringSubmatch(sel.AttrOr("id", ""))
		if m == nil {
			return // service blocks carry no numeric id
		}
		id, _ := strconv.ParseInt(m[1], 10, 64)

		var text string
		if html, err := sel.Find("div.text").First().Html(); err == nil {
			text = normalize.StripHTML(html)
		}

		photoRel := findExportPhoto(sel)

		// Unparseable dates fall back to the epoch, which age cutoffs
		// treat as "too old". Loud on purpose: silence here loses posts.
		postedAt := time.Time{}
		sel.Find("[title]").EachWithBreak(func(_ int, d *goquery.Selection) bool {
			if t, ok := parseExportDate(d.AttrOr("title", "")); ok {
				postedAt = t
				return false
			}
			return true
		})
		if postedAt.IsZero() {
			e.log.Warn("export post date unparseable, treating as too old",
				"channel", channel, "message_id", id)
			postedAt = time.Unix(0, 0)
		}

		author := strings.TrimSpace(sel.Find("div.from_name").First().Text())

		if text == "" && photoRel == "" {
			return
		}
		posts = append(posts, model.RawPost{
			Channel:    channel,
			MessageID:  id,
			Text:       text,
			PhotoRef:   photoRel,
			PostedAt:   postedAt,
			AuthorName: author,
		})
	})
	return posts, nil
}

// exportFiles returns messages*.html names in ascending page order.
func exportFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read channel dir: %w", err)
	}
	var files []string
	for _, ent := range entries {
		if !ent.IsDir() && reExportFile.MatchString(ent.Name()) {
			files = append(files, ent.Name())
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return exportFileNum(files[i]) < exportFileNum(files[j])
	})
	return files, nil
}

// exportFileNum maps messages.html → 1, messagesN.html → N.
func exportFileNum(name string) int {
	m := reExportFile.FindStringSubmatch(name)
	if m == nil || m[1] == "" {
		return 1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func findExportPhoto(sel *goquery.Selection) string {
	var ref string
	sel.Find("a[href], img[src]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		for _, attr := range []string{"href", "src"} {
			if v, ok := el.Attr(attr); ok && rePhotoFile.MatchString(v) {
				ref = v
				return false
			}
		}
		return true
	})
	return ref
}

func parseExportDate(title string) (time.Time, bool) {
	m := reExportDate.FindStringSubmatch(title)
	if m == nil {
		return time.Time{}, false
	}
	num := func(s string) int { n, _ := strconv.Atoi(s); return n }
	return time.Date(num(m[3]), time.Month(num(m[2])), num(m[1]),
		num(m[4]), num(m[5]), num(m[6]), 0, time.Local), true
}
