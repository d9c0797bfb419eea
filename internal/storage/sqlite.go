package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"svoi_ingest/internal/model"
	"svoi_ingest/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const listingColumns = `id, category_id, title, description, price, currency, images, status,
	 created_at, tg_channel, tg_message_id, tg_author_id, tg_author_name,
	 tg_author_verified, tg_sources, notified_at`

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CategoryMap returns the slug → id mapping of all categories.
func (s *SQLite) CategoryMap(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, id FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	m := make(map[string]int64)
	for rows.Next() {
		var slug string
		var id int64
		if err := rows.Scan(&slug, &id); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		m[slug] = id
	}
	return m, rows.Err()
}

// InsertListing persists a new listing, generating its ID when empty.
// An existing (tg_channel, tg_message_id) row makes it a silent no-op
// reported as inserted=false, with l.ID set to the existing row's id.
func (s *SQLite) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO listings (`+listingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(l)...,
	)
	if err != nil {
		return false, fmt.Errorf("insert listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM listings WHERE tg_channel = ? AND tg_message_id = ?`,
		l.Channel, l.MessageID,
	).Scan(&l.ID)
	if err != nil {
		return false, fmt.Errorf("look up existing listing: %w", err)
	}
	return false, nil
}

// UpsertListing inserts the listing or updates the existing row sharing its
// (tg_channel, tg_message_id). Accumulated source tags and the verified flag
// on the existing row are preserved; l.ID is set to the persisted row's id.
func (s *SQLite) UpsertListing(ctx context.Context, l *model.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO listings (`+listingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tg_channel, tg_message_id) DO UPDATE SET
		   category_id = excluded.category_id,
		   title = excluded.title,
		   description = excluded.description,
		   price = excluded.price,
		   currency = excluded.currency,
		   images = excluded.images,
		   status = excluded.status,
		   created_at = excluded.created_at,
		   tg_author_id = excluded.tg_author_id,
		   tg_author_name = excluded.tg_author_name
		 RETURNING id`,
		insertArgs(l)...,
	)
	if err := row.Scan(&l.ID); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// GetListing returns a single listing by its id. It is not part of Store:
// the pipeline reads source tags through ListingSources and everything else
// it needs travels on the listing it already holds.
func (s *SQLite) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	return scanListing(row)
}

// ListingSources returns the extra-origin tags recorded on a listing.
func (s *SQLite) ListingSources(ctx context.Context, id string) ([]model.SourceTag, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT tg_sources FROM listings WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	var tags []model.SourceTag
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return tags, nil
}

// UpdateListingSources replaces the source tag list of a listing.
func (s *SQLite) UpdateListingSources(ctx context.Context, id string, sources []model.SourceTag) error {
	raw, err := json.Marshal(sourcesOrEmpty(sources))
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE listings SET tg_sources = ? WHERE id = ?`, string(raw), id); err != nil {
		return fmt.Errorf("update sources: %w", err)
	}
	return nil
}

// AuthorCounts returns active-listing counts per author identity in a
// channel. Unsigned listings (no name, no id) are not counted.
func (s *SQLite) AuthorCounts(ctx context.Context, channel string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tg_author_name, tg_author_id FROM listings
		 WHERE tg_channel = ? AND status = ?
		   AND (tg_author_name IS NOT NULL OR tg_author_id != 0)`,
		channel, model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("query author counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var name sql.NullString
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		if key := model.AuthorKey(name.String, id); key != "" {
			counts[key]++
		}
	}
	return counts, rows.Err()
}

// ActiveListingCount returns the number of active listings in a channel.
func (s *SQLite) ActiveListingCount(ctx context.Context, channel string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE tg_channel = ? AND status = ?`,
		channel, model.StatusActive,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active listings: %w", err)
	}
	return n, nil
}

// MarkAuthorsVerified sets the verified flag on every listing in the channel
// belonging to one of the given author identities.
func (s *SQLite) MarkAuthorsVerified(ctx context.Context, channel string, authorKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range authorKeys {
		var cond string
		var arg any
		if raw, ok := strings.CutPrefix(key, "id:"); ok {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			cond, arg = "tg_author_id = ?", id
		} else {
			cond, arg = "tg_author_name = ?", key
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE listings SET tg_author_verified = 1 WHERE tg_channel = ? AND `+cond,
			channel, arg); err != nil {
			return fmt.Errorf("mark author verified: %w", err)
		}
	}
	return tx.Commit()
}

// MarkChannelVerified sets the verified flag on every listing in the channel.
func (s *SQLite) MarkChannelVerified(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE listings SET tg_author_verified = 1 WHERE tg_channel = ?`, channel); err != nil {
		return fmt.Errorf("mark channel verified: %w", err)
	}
	return nil
}

// ListUnnotified returns active listings in a channel not yet announced to
// their original posts, oldest first.
func (s *SQLite) ListUnnotified(ctx context.Context, channel string) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE tg_channel = ? AND status = ? AND notified_at IS NULL
		 ORDER BY tg_message_id`,
		channel, model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("query unnotified: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// MarkNotified records that the listing's origin post has been replied to.
func (s *SQLite) MarkNotified(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE listings SET notified_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func insertArgs(l *model.Listing) []any {
	images, _ := json.Marshal(imagesOrEmpty(l.Images))
	sources, _ := json.Marshal(sourcesOrEmpty(l.Sources))

	var price *string
	if l.Price != nil {
		v := l.Price.String()
		price = &v
	}
	var desc *string
	if l.Description != "" {
		desc = &l.Description
	}
	var author *string
	if l.AuthorName != "" {
		author = &l.AuthorName
	}
	var notified *string
	if l.NotifiedAt != nil {
		v := l.NotifiedAt.UTC().Format(timeLayout)
		notified = &v
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return []any{
		l.ID, l.CategoryID, l.Title, desc, price, l.Currency,
		string(images), statusOrActive(l.Status), createdAt.UTC().Format(timeLayout),
		l.Channel, l.MessageID, l.AuthorID, author,
		boolToInt(l.AuthorVerified), string(sources), notified,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var desc, price, author, created, notified sql.NullString
	var images, sources string
	var verified int

	err := row.Scan(&l.ID, &l.CategoryID, &l.Title, &desc, &price, &l.Currency,
		&images, &l.Status, &created, &l.Channel, &l.MessageID,
		&l.AuthorID, &author, &verified, &sources, &notified)
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}

	l.Description = desc.String
	l.AuthorName = author.String
	l.AuthorVerified = verified == 1
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("decode price %q: %w", price.String, err)
		}
		l.Price = &d
	}
	if created.Valid {
		l.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if notified.Valid {
		t, _ := time.Parse(timeLayout, notified.String)
		l.NotifiedAt = &t
	}
	_ = json.Unmarshal([]byte(images), &l.Images)
	_ = json.Unmarshal([]byte(sources), &l.Sources)
	return &l, nil
}

func imagesOrEmpty(v []model.Image) []model.Image {
	if v == nil {
		return []model.Image{}
	}
	return v
}

func sourcesOrEmpty(v []model.SourceTag) []model.SourceTag {
	if v == nil {
		return []model.SourceTag{}
	}
	return v
}

func statusOrActive(s string) string {
	if s == "" {
		return model.StatusActive
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
