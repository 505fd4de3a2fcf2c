package derive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"clash-intelligence/internal/domain"
)

// notabilityWeightsV1 fixes the notability scoring table. Every weight is
// non-negative and applies to a non-negative quantity (event presence,
// positive delta, or delta magnitude), so adding events or growing a delta
// can only raise the score and the all-quiet row scores exactly 0.
//
// v1, 2026-08: chosen so a hero upgrade outranks a typical day of trophy
// movement and a town-hall upgrade outranks everything else.
var notabilityWeightsV1 = struct {
	eventJoined          float64
	eventHeroUpgrade     float64
	eventTownHallUpgrade float64
	perWarStar           float64
	perTrophy            float64
	perDonation          float64
	perCapitalPoint      float64
}{
	eventJoined:          3.0,
	eventHeroUpgrade:     6.0,
	eventTownHallUpgrade: 10.0,
	perWarStar:           1.5,
	perTrophy:            0.01,
	perDonation:          0.005,
	perCapitalPoint:      0.002,
}

// DeriveDay computes the derived fact row for one member on one calendar
// day from the member's previous row (nil on the first-ever day) and the
// canonical state captured by the day's snapshot.
//
// Deltas cover every numeric field known on both sides; a field unknown on
// either side yields no delta entry. The returned row carries a content
// hash over its comparable fields so callers can skip persisting an
// unchanged row and overwrite a corrected one.
func DeriveDay(prev *domain.PlayerDay, curr domain.Member, clanTag string, day time.Time) (*domain.PlayerDay, error) {
	tag := domain.NormalizeTag(curr.Tag)
	if tag == "" {
		return nil, fmt.Errorf("derive day for %q on %s: %w", curr.Name, day.Format(time.DateOnly), ErrMissingIdentity)
	}
	curr.Tag = tag
	day = day.UTC().Truncate(24 * time.Hour)

	deltas := map[string]int{}
	var events []string

	if prev == nil {
		events = append(events, domain.EventJoined)
	} else {
		if !day.After(prev.Day) {
			return nil, fmt.Errorf("derive day for %s: %s vs previous %s: %w",
				tag, day.Format(time.DateOnly), prev.Day.Format(time.DateOnly), ErrInvalidDateOrdering)
		}

		prevStats := prev.Member.Stats()
		for field, value := range curr.Stats() {
			if old, ok := prevStats[field]; ok {
				if d := value - old; d != 0 {
					deltas[field] = d
				}
			}
		}

		events = append(events, upgradeEventTags(prev.Member, curr)...)
	}

	row := &domain.PlayerDay{
		Member:     curr,
		ClanTag:    domain.NormalizeTag(clanTag),
		Day:        day,
		Deltas:     deltas,
		Events:     events,
		Notability: notability(deltas, events),
	}
	row.SnapshotHash = rowHash(row)
	return row, nil
}

// upgradeEventTags applies the same strict-increase rules as the change
// detector, scoped to a single member's history.
func upgradeEventTags(before, after domain.Member) []string {
	var tags []string
	for _, ev := range upgradeEvents(before, after, after.Tag) {
		switch ev.Type {
		case domain.ChangeTownHallUpgrade:
			tags = append(tags, domain.EventTownHallUpgrade)
		case domain.ChangeHeroUpgrade:
			tags = append(tags, domain.EventHeroUpgrade)
		}
	}
	return tags
}

func notability(deltas map[string]int, events []string) float64 {
	w := notabilityWeightsV1
	score := 0.0

	for _, ev := range events {
		switch ev {
		case domain.EventJoined:
			score += w.eventJoined
		case domain.EventHeroUpgrade:
			score += w.eventHeroUpgrade
		case domain.EventTownHallUpgrade:
			score += w.eventTownHallUpgrade
		}
	}

	for field, d := range deltas {
		switch field {
		case domain.FieldWarStars:
			if d > 0 {
				score += w.perWarStar * float64(d)
			}
		case domain.FieldTrophies:
			score += w.perTrophy * abs(d)
		case domain.FieldDonations:
			if d > 0 {
				score += w.perDonation * float64(d)
			}
		case domain.FieldCapitalContributions:
			if d > 0 {
				score += w.perCapitalPoint * float64(d)
			}
		}
	}

	return score
}

func abs(d int) float64 {
	if d < 0 {
		return float64(-d)
	}
	return float64(d)
}

// rowHash fingerprints the row's comparable fields: identity, day, carried
// member state, deltas and events. Write timestamps are excluded so re-runs
// over unchanged input reproduce the hash exactly. Map iteration order is
// neutralized by sorting keys before hashing.
func rowHash(row *domain.PlayerDay) string {
	var b strings.Builder

	fmt.Fprintf(&b, "v1|%s|%s|%s|%s|%s|",
		row.Member.Tag, row.Day.Format(time.DateOnly), row.ClanTag, row.Member.Name, row.Member.Role)

	stats := row.Member.Stats()
	writeSortedInts(&b, stats)
	writeSortedInts(&b, row.Deltas)

	events := append([]string(nil), row.Events...)
	sort.Strings(events)
	fmt.Fprintf(&b, "%s|", strings.Join(events, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSortedInts(b *strings.Builder, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s=%d;", k, m[k])
	}
	b.WriteByte('|')
}
