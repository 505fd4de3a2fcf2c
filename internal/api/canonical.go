package api

import (
	"clash-intelligence/internal/domain"
)

// The capital contribution field has moved between payload shapes over API
// versions; older payloads only expose it through this achievement.
const capitalAchievementName = "Most Valuable Clanmate"

// CanonicalMember maps a full player payload to the canonical record all
// derivation logic consumes. This is the single place raw upstream shapes
// and their field aliases are interpreted; nothing downstream touches raw
// payloads.
func CanonicalMember(p *PlayerResponse, fallback ClanMember) domain.Member {
	m := domain.Member{
		Tag:                  domain.NormalizeTag(p.Tag),
		Name:                 p.Name,
		Role:                 p.Role,
		TownHallLevel:        p.TownHallLevel,
		ExpLevel:             p.ExpLevel,
		Trophies:             p.Trophies,
		Donations:            p.Donations,
		DonationsReceived:    p.DonationsReceived,
		WarStars:             p.WarStars,
		CapitalContributions: p.ClanCapitalContributions,
	}

	// The clan roster carries the authoritative role; player payloads omit
	// it for members who left between the two fetches.
	if m.Role == "" {
		m.Role = fallback.Role
	}
	if m.TownHallLevel == nil {
		m.TownHallLevel = fallback.TownHallLevel
	}
	if m.Trophies == nil {
		m.Trophies = fallback.Trophies
	}
	if m.Donations == nil {
		m.Donations = fallback.Donations
	}
	if m.DonationsReceived == nil {
		m.DonationsReceived = fallback.DonationsReceived
	}
	if m.ExpLevel == nil {
		m.ExpLevel = fallback.ExpLevel
	}

	if m.CapitalContributions == nil {
		for _, a := range p.Achievements {
			if a.Name == capitalAchievementName {
				v := a.Value
				m.CapitalContributions = &v
				break
			}
		}
	}

	if len(p.Heroes) > 0 {
		heroes := make(map[string]int, len(p.Heroes))
		for _, h := range p.Heroes {
			if h.Village == "home" {
				heroes[h.Name] = h.Level
			}
		}
		if len(heroes) > 0 {
			m.Heroes = heroes
		}
	}

	return m
}

// CanonicalMemberFromRoster builds a canonical record from the abbreviated
// clan-roster shape alone, used when the per-player fetch fails. Hero
// levels and war stars stay unknown rather than zero.
func CanonicalMemberFromRoster(cm ClanMember) domain.Member {
	return domain.Member{
		Tag:               domain.NormalizeTag(cm.Tag),
		Name:              cm.Name,
		Role:              cm.Role,
		TownHallLevel:     cm.TownHallLevel,
		ExpLevel:          cm.ExpLevel,
		Trophies:          cm.Trophies,
		Donations:         cm.Donations,
		DonationsReceived: cm.DonationsReceived,
	}
}
