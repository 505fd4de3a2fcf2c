package derive

import (
	"time"

	"clash-intelligence/internal/domain"
)

// DaysBetween returns the whole-day difference between two calendar dates,
// clamped to a minimum of 0. An inverted ordering is 0 days, not an error.
func DaysBetween(a, b time.Time) int {
	a = a.UTC().Truncate(24 * time.Hour)
	b = b.UTC().Truncate(24 * time.Hour)
	days := int(b.Sub(a).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// SeedBase picks the initial tenure base for a tag that has no ledger entry
// yet. Preference order: the member's first sighting in snapshot history,
// then the clan's earliest snapshot as a conservative approximation, then a
// nominal single day (a present member never has zero tenure).
func SeedBase(firstSeen, earliestClanSnapshot *time.Time, today time.Time) int {
	switch {
	case firstSeen != nil:
		return DaysBetween(*firstSeen, today)
	case earliestClanSnapshot != nil:
		return DaysBetween(*earliestClanSnapshot, today)
	default:
		return 1
	}
}

// CurrentTenure projects a ledger entry forward: base days plus the days
// elapsed since the entry's as-of date. A nil entry means no tenure record.
func CurrentTenure(entry *domain.TenureLedgerEntry, today time.Time) int {
	if entry == nil {
		return 0
	}
	return entry.Base + DaysBetween(entry.AsOf, today)
}
