package ingest

import (
	"fmt"
	"strings"

	"svoi_ingest/internal/model"
)

// PreviewRow is what a dry run would have imported.
type PreviewRow struct {
	MessageID int64
	Category  string
	Title     string
	Price     string
}

// ChannelReport counts outcomes for one channel pass.
type ChannelReport struct {
	Channel    string
	Imported   int
	Duplicates int // same (channel, message id) already stored
	CrossDupes int // same fingerprint seen from another channel
	IntraDupes int // repeats within the fetched batch
	TooOld     int
	NoText     int
	Errors     int
	Preview    []PreviewRow // dry runs only
}

// Report is the result of a full pipeline run.
type Report struct {
	Source   string
	DryRun   bool
	Channels []ChannelReport
}

// Totals sums the per-channel counters.
func (r *Report) Totals() ChannelReport {
	var t ChannelReport
	for _, cr := range r.Channels {
		t.Imported += cr.Imported
		t.Duplicates += cr.Duplicates
		t.CrossDupes += cr.CrossDupes
		t.IntraDupes += cr.IntraDupes
		t.TooOld += cr.TooOld
		t.NoText += cr.NoText
		t.Errors += cr.Errors
	}
	return t
}

// previewLimit caps how many dry-run rows are printed per channel.
const previewLimit = 8

// String renders a human-readable run summary for the CLI.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s", r.Source)
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	b.WriteString("\n")

	for _, cr := range r.Channels {
		fmt.Fprintf(&b, "@%s: imported %d, duplicates %d, cross-dupes %d, intra-dupes %d, too old %d, no text %d, errors %d\n",
			cr.Channel, cr.Imported, cr.Duplicates, cr.CrossDupes, cr.IntraDupes, cr.TooOld, cr.NoText, cr.Errors)
		for i, row := range cr.Preview {
			if i == previewLimit {
				fmt.Fprintf(&b, "  ... and %d more\n", len(cr.Preview)-previewLimit)
				break
			}
			fmt.Fprintf(&b, "  #%d [%s] %s — %s\n", row.MessageID, row.Category, row.Title, row.Price)
		}
	}

	t := r.Totals()
	fmt.Fprintf(&b, "Total: imported %d, duplicates %d, cross-dupes %d, intra-dupes %d, too old %d, no text %d, errors %d\n",
		t.Imported, t.Duplicates, t.CrossDupes, t.IntraDupes, t.TooOld, t.NoText, t.Errors)
	return b.String()
}

func formatPrice(parsed model.ParsedListing) string {
	if parsed.Price == nil {
		return "price on request"
	}
	return parsed.Price.String() + " " + parsed.Currency
}
