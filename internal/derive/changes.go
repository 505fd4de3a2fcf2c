package derive

import (
	"sort"

	"clash-intelligence/internal/domain"
)

// DetectChanges compares two chronologically adjacent snapshots of the same
// clan and returns the typed differences: departures first, then arrivals,
// then attribute upgrades. Within each group events follow roster order
// (prev's order for departures, curr's order otherwise) so output is stable
// and caller-independent.
//
// Membership comparison is by normalized tag, so case differences between
// snapshots never produce spurious join/leave pairs. Upgrade events fire
// only on a strict increase of a monotonic-upgrade field (town hall, hero
// levels); equal or decreasing values emit nothing.
func DetectChanges(prev, curr *domain.Snapshot) []domain.ChangeEvent {
	prevByTag := memberIndex(prev)
	currByTag := memberIndex(curr)

	var events []domain.ChangeEvent

	for _, m := range prev.Members {
		tag := domain.NormalizeTag(m.Tag)
		if _, ok := currByTag[tag]; !ok {
			events = append(events, domain.ChangeEvent{
				Type: domain.ChangeLeftMember,
				Tag:  tag,
				Name: m.Name,
			})
		}
	}

	for _, m := range curr.Members {
		tag := domain.NormalizeTag(m.Tag)
		if _, ok := prevByTag[tag]; !ok {
			events = append(events, domain.ChangeEvent{
				Type: domain.ChangeNewMember,
				Tag:  tag,
				Name: m.Name,
			})
		}
	}

	for _, m := range curr.Members {
		tag := domain.NormalizeTag(m.Tag)
		before, ok := prevByTag[tag]
		if !ok {
			continue
		}
		events = append(events, upgradeEvents(before, m, tag)...)
	}

	return events
}

func memberIndex(s *domain.Snapshot) map[string]domain.Member {
	idx := make(map[string]domain.Member, len(s.Members))
	for _, m := range s.Members {
		idx[domain.NormalizeTag(m.Tag)] = m
	}
	return idx
}

func upgradeEvents(before, after domain.Member, tag string) []domain.ChangeEvent {
	var events []domain.ChangeEvent

	if before.TownHallLevel != nil && after.TownHallLevel != nil && *after.TownHallLevel > *before.TownHallLevel {
		events = append(events, domain.ChangeEvent{
			Type:  domain.ChangeTownHallUpgrade,
			Tag:   tag,
			Name:  after.Name,
			Field: domain.FieldTownHallLevel,
			From:  *before.TownHallLevel,
			To:    *after.TownHallLevel,
		})
	}

	// Hero maps are unordered; sort names so event order is deterministic.
	heroes := make([]string, 0, len(after.Heroes))
	for name := range after.Heroes {
		heroes = append(heroes, name)
	}
	sort.Strings(heroes)

	for _, name := range heroes {
		old, ok := before.Heroes[name]
		if !ok {
			continue // first sighting of the hero, not an upgrade
		}
		if after.Heroes[name] > old {
			events = append(events, domain.ChangeEvent{
				Type:  domain.ChangeHeroUpgrade,
				Tag:   tag,
				Name:  after.Name,
				Field: domain.HeroField(name),
				From:  old,
				To:    after.Heroes[name],
			})
		}
	}

	return events
}
