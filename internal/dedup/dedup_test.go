package dedup

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"svoi_ingest/internal/model"
)

func TestShortKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercased and trimmed", "  Продам Диван  ", "продам диван"},
		{"empty", "   ", ""},
		{"truncated to 80 runes", strings.Repeat("я", 100), strings.Repeat("я", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShortKey(tt.in); got != tt.want {
				t.Errorf("ShortKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"whitespace collapsed", "Сдам   квартиру\n\nв центре", "сдам квартиру в центре"},
		{"same text different spacing matches", "ПРОДАМ \t диван", "продам диван"},
		{"empty", "\n  \t", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.in); got != tt.want {
				t.Errorf("Fingerprint(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintPrefixOnly(t *testing.T) {
	base := strings.Repeat("а", 100)
	a := Fingerprint(base + " хвост один")
	b := Fingerprint(base + " другой хвост")
	if a != b {
		t.Errorf("texts sharing a 100-rune prefix should collide: %q vs %q", a, b)
	}
}

func TestDropRepeats(t *testing.T) {
	posts := []model.RawPost{
		{MessageID: 1, Text: "Продам диван, недорого"},
		{MessageID: 2, Text: "Сдам комнату"},
		{MessageID: 3, Text: "  ПРОДАМ ДИВАН, НЕДОРОГО  "}, // repeat of 1 after normalization
		{MessageID: 4, Text: ""},                           // empty keys always pass
		{MessageID: 5, Text: ""},
		{MessageID: 6, Text: "Сдам комнату"},
	}

	kept, dropped := DropRepeats(posts)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	var ids []int64
	for _, p := range kept {
		ids = append(ids, p.MessageID)
	}
	if diff := cmp.Diff([]int64{1, 2, 4, 5}, ids); diff != "" {
		t.Errorf("kept ids mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex(t *testing.T) {
	idx := NewIndex()

	if _, ok := idx.Lookup("abc"); ok {
		t.Error("empty index should not match")
	}

	idx.Register("abc", Primary{ID: "listing-1", Channel: "alpha"})
	p, ok := idx.Lookup("abc")
	if !ok || p.ID != "listing-1" || p.Channel != "alpha" {
		t.Errorf("Lookup = %+v, %v; want listing-1/alpha, true", p, ok)
	}

	// Empty fingerprints never register or match.
	idx.Register("", Primary{ID: "listing-2"})
	if _, ok := idx.Lookup(""); ok {
		t.Error("empty fingerprint should never match")
	}
	idx.Register("def", Primary{Channel: "beta"})
	if _, ok := idx.Lookup("def"); ok {
		t.Error("primary without an id should never register")
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
}
