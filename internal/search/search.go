// Package search finds reservations in the month catalog and scrolls the
// grid to them.
package search

import (
	"strings"

	"drivecal/internal/indexer"
	"drivecal/internal/model"
	"drivecal/internal/signature"
)

// minPhoneDigits keeps one or two typed digits from matching every phone.
const minPhoneDigits = 3

// Hit is one search result.
type Hit struct {
	Day     model.DayKey
	EventID string
}

// Search matches query against the month catalog by normalized text
// substring or by phone digit substring. Results follow catalog order and
// are unique per (day, event). limit <= 0 means no limit.
func Search(mi *indexer.MonthIndex, query string, limit int) []Hit {
	if mi == nil {
		return nil
	}
	text := signature.NormalizeText(query)
	digits := signature.Digits(query)
	if len(digits) < minPhoneDigits {
		digits = ""
	}
	if text == "" && digits == "" {
		return nil
	}

	seen := make(map[Hit]bool)
	var out []Hit
	for _, e := range mi.Catalog {
		match := (text != "" && strings.Contains(e.SearchText, text)) ||
			(digits != "" && strings.Contains(e.PhoneDigits, digits))
		if !match {
			continue
		}
		h := Hit{Day: e.Day, EventID: e.EventID}
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
