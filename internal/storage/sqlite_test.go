package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	"svoi_ingest/internal/model"
)

var listingOpts = cmp.Options{
	cmpopts.IgnoreFields(model.Listing{}, "ID", "CreatedAt"),
	cmpopts.EquateEmpty(),
}

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCategoryMap(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	m, err := s.CategoryMap(ctx)
	if err != nil {
		t.Fatalf("category map: %v", err)
	}

	for _, slug := range []string{"rent", "jobs", "transport", "education", "services", "meetups", "stuff", "misc"} {
		if m[slug] == 0 {
			t.Errorf("category %q missing from seeded map", slug)
		}
	}
	if len(m) != 8 {
		t.Errorf("expected 8 categories, got %d", len(m))
	}
}

func TestInsertListing(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	l := model.Listing{
		CategoryID:  cats["stuff"],
		Title:       "Продам диван",
		Description: "Почти новый, самовывоз",
		Price:       price("150"),
		Currency:    "EUR",
		Images:      []model.Image{{URL: "/images/tg-import/belgrad_serbia/100.jpg"}},
		Status:      model.StatusActive,
		Channel:     "belgrad_serbia",
		MessageID:   100,
		AuthorName:  "Анна",
	}

	inserted, err := s.InsertListing(ctx, &l)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected inserted=true for fresh listing")
	}
	if l.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetListing(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(l, *got, listingOpts); diff != "" {
		t.Errorf("GetListing mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to default to now")
	}

	// Same origin again is a silent skip resolving to the existing row.
	dup := model.Listing{
		CategoryID: cats["stuff"], Title: "Другой текст",
		Currency: "EUR", Channel: "belgrad_serbia", MessageID: 100,
	}
	inserted, err = s.InsertListing(ctx, &dup)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false for same (channel, message id)")
	}
	if dup.ID != l.ID {
		t.Errorf("duplicate resolved to id %q, want existing %q", dup.ID, l.ID)
	}
}

func TestUpsertListing(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	l := model.Listing{
		CategoryID: cats["rent"],
		Title:      "Сдам квартиру",
		Price:      price("500"),
		Currency:   "EUR",
		Channel:    "belgrad_serbia",
		MessageID:  7,
	}
	if err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}
	firstID := l.ID

	// Accumulate state the upsert must preserve.
	if err := s.UpdateListingSources(ctx, firstID, []model.SourceTag{{Channel: "avito_serbia", MessageID: 42}}); err != nil {
		t.Fatalf("update sources: %v", err)
	}
	if err := s.MarkChannelVerified(ctx, "belgrad_serbia"); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	updated := model.Listing{
		CategoryID: cats["rent"],
		Title:      "Сдам квартиру в центре",
		Price:      price("550"),
		Currency:   "EUR",
		Channel:    "belgrad_serbia",
		MessageID:  7,
	}
	if err := s.UpsertListing(ctx, &updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.ID != firstID {
		t.Errorf("upsert created new row: id %s != %s", updated.ID, firstID)
	}

	got, err := s.GetListing(ctx, firstID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Сдам квартиру в центре" {
		t.Errorf("title not updated: %q", got.Title)
	}
	if got.Price == nil || !got.Price.Equal(decimal.RequireFromString("550")) {
		t.Errorf("price not updated: %v", got.Price)
	}
	if !got.AuthorVerified {
		t.Error("upsert dropped the verified flag")
	}
	wantSources := []model.SourceTag{{Channel: "avito_serbia", MessageID: 42}}
	if diff := cmp.Diff(wantSources, got.Sources); diff != "" {
		t.Errorf("upsert dropped source tags (-want +got):\n%s", diff)
	}
}

func TestListingSources(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	l := model.Listing{CategoryID: cats["misc"], Title: "Тест", Currency: "EUR", Channel: "a", MessageID: 1}
	if _, err := s.InsertListing(ctx, &l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tags, err := s.ListingSources(ctx, l.ID)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("expected no source tags, got %v", tags)
	}

	want := []model.SourceTag{
		{Channel: "b", MessageID: 10},
		{Channel: "c", MessageID: 20},
	}
	if err := s.UpdateListingSources(ctx, l.ID, want); err != nil {
		t.Fatalf("update: %v", err)
	}

	tags, err = s.ListingSources(ctx, l.ID)
	if err != nil {
		t.Fatalf("sources after update: %v", err)
	}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("ListingSources mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthorCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	listings := []model.Listing{
		{Channel: "ch", MessageID: 1, AuthorName: "Анна"},
		{Channel: "ch", MessageID: 2, AuthorName: "Анна"},
		{Channel: "ch", MessageID: 3, AuthorID: 555},
		{Channel: "ch", MessageID: 4}, // unsigned, not counted
		{Channel: "other", MessageID: 5, AuthorName: "Анна"},
	}
	for i := range listings {
		listings[i].CategoryID = cats["misc"]
		listings[i].Title = "t"
		listings[i].Currency = "EUR"
		if _, err := s.InsertListing(ctx, &listings[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	counts, err := s.AuthorCounts(ctx, "ch")
	if err != nil {
		t.Fatalf("author counts: %v", err)
	}
	want := map[string]int{"Анна": 2, "id:555": 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("AuthorCounts mismatch (-want +got):\n%s", diff)
	}

	n, err := s.ActiveListingCount(ctx, "ch")
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if n != 4 {
		t.Errorf("ActiveListingCount = %d, want 4", n)
	}
}

func TestMarkAuthorsVerified(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	listings := []model.Listing{
		{Channel: "ch", MessageID: 1, AuthorName: "Анна"},
		{Channel: "ch", MessageID: 2, AuthorID: 555},
		{Channel: "ch", MessageID: 3, AuthorName: "Борис"},
	}
	for i := range listings {
		listings[i].CategoryID = cats["misc"]
		listings[i].Title = "t"
		listings[i].Currency = "EUR"
		if _, err := s.InsertListing(ctx, &listings[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if err := s.MarkAuthorsVerified(ctx, "ch", []string{"Анна", "id:555"}); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	wantVerified := map[int64]bool{1: true, 2: true, 3: false}
	for i := range listings {
		got, err := s.GetListing(ctx, listings[i].ID)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.AuthorVerified != wantVerified[got.MessageID] {
			t.Errorf("message %d: verified = %v, want %v",
				got.MessageID, got.AuthorVerified, wantVerified[got.MessageID])
		}
	}
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	cats, _ := s.CategoryMap(ctx)

	listings := []model.Listing{
		{Channel: "ch", MessageID: 2},
		{Channel: "ch", MessageID: 1},
		{Channel: "other", MessageID: 3},
	}
	for i := range listings {
		listings[i].CategoryID = cats["misc"]
		listings[i].Title = "t"
		listings[i].Currency = "EUR"
		if _, err := s.InsertListing(ctx, &listings[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	pending, err := s.ListUnnotified(ctx, "ch")
	if err != nil {
		t.Fatalf("list unnotified: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].MessageID != 1 || pending[1].MessageID != 2 {
		t.Errorf("expected oldest-first order, got %d, %d", pending[0].MessageID, pending[1].MessageID)
	}

	if err := s.MarkNotified(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	pending, err = s.ListUnnotified(ctx, "ch")
	if err != nil {
		t.Fatalf("list unnotified after mark: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageID != 2 {
		t.Fatalf("expected only message 2 pending, got %v", pending)
	}

	got, err := s.GetListing(ctx, listings[1].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NotifiedAt == nil {
		t.Error("expected NotifiedAt to be set")
	} else if time.Since(*got.NotifiedAt) > time.Minute {
		t.Errorf("NotifiedAt too old: %v", got.NotifiedAt)
	}
}

// Ensure the Store interface is satisfied.
var _ Store = (*SQLite)(nil)
