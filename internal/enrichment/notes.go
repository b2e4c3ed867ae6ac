package enrichment

import (
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/tbdb"
)

var publishDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01",
	"2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2006",
	"Jan 2006",
	"01/02/2006",
	"2006/01/02",
}

// ParsePublishDate accepts the date shapes TBDB has been seen to return.
func ParsePublishDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range publishDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Notes summarises format details for a product type, joined with " • ".
func Notes(pt models.ProductType, d *tbdb.Product) string {
	var parts []string
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+": "+v)
		}
	}

	switch pt {
	case models.ProductBoardGame:
		add("Language", d.Language.Name)
		add("Region", d.Region)
	case models.ProductDVD:
		add("Format", d.Package)
		add("Language", d.Language.Name)
		add("Region", d.Region)
		if d.DurationSeconds != nil && *d.DurationSeconds > 0 {
			add("Duration", FormatDuration(*d.DurationSeconds))
		}
	default:
		add("Format", d.Package)
		add("Language", d.Language.Name)
		add("Region", d.Region)
	}
	return strings.Join(parts, " • ")
}

// FormatDuration renders seconds as "2h 5m" or "45m".
func FormatDuration(seconds int) string {
	h, m := seconds/3600, (seconds%3600)/60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
