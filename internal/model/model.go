// Package model defines the domain types used across the ingestion pipeline.
package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTitle is the placeholder used when a post has no usable text.
const DefaultTitle = "Объявление"

// DefaultCurrency is used when no price is recognized in a post.
const DefaultCurrency = "EUR"

// ImportUserTelegramID is the sentinel Telegram ID that owns all
// channel-imported listings.
const ImportUserTelegramID = 888888888

// RawPost is one unit of source content produced by an adapter.
// It lives only for the duration of a single ingestion pass.
type RawPost struct {
	Channel    string
	MessageID  int64
	Text       string
	PhotoRef   string // adapter-specific fetchable reference, "" = no photo
	PostedAt   time.Time
	AuthorName string // display name, signed channel posts only
	AuthorID   int64  // 0 when unknown
}

// HasPhoto reports whether the post carries a photo reference.
func (p RawPost) HasPhoto() bool { return p.PhotoRef != "" }

// ParsedListing is the normalized, classified, priced form of a RawPost.
type ParsedListing struct {
	Title        string
	Description  string
	CategorySlug string
	Price        *decimal.Decimal // nil = price on request
	Currency     string
}

// SourceTag records an additional origin of a listing that turned out to be
// a cross-channel duplicate of an already persisted one.
type SourceTag struct {
	Channel   string `json:"channel"`
	MessageID int64  `json:"message_id"`
}

// Image is a stored image reference attached to a listing.
type Image struct {
	URL string `json:"url"`
}

// StatusActive marks a listing as visible on the board.
const StatusActive = "active"

// Listing is the persisted row shape the pipeline writes. The store keys it
// by ID and enforces uniqueness on (Channel, MessageID).
type Listing struct {
	ID             string
	CategoryID     int64
	Title          string
	Description    string
	Price          *decimal.Decimal
	Currency       string
	Images         []Image
	Status         string
	CreatedAt      time.Time
	Channel        string
	MessageID      int64
	AuthorID       int64
	AuthorName     string
	AuthorVerified bool
	Sources        []SourceTag
	NotifiedAt     *time.Time
}

// AuthorKey returns the stable identity used for trust scoring.
func (l *Listing) AuthorKey() string {
	return AuthorKey(l.AuthorName, l.AuthorID)
}

// AuthorKey builds the trust-scoring identity from a name and id pair:
// the display name when present, otherwise "id:<author-id>", or "" when
// the post is unsigned.
func AuthorKey(name string, id int64) string {
	if name != "" {
		return name
	}
	if id != 0 {
		return "id:" + strconv.FormatInt(id, 10)
	}
	return ""
}
