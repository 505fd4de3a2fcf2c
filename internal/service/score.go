package service

import (
	"context"
	"fmt"
	"sort"

	"clash-intelligence/internal/cache"
	"clash-intelligence/internal/constants"
	"clash-intelligence/internal/derive"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"

	"github.com/rs/zerolog"
)

// ScoreService builds ACE inputs from the derived-day history and scores
// the roster. Results are cached per clan with an age-based TTL and
// invalidated when an ingestion pass lands new rows.
type ScoreService struct {
	days      *repository.PlayerDayRepository
	snapshots *repository.SnapshotRepository
	cache     *cache.TTL[[]domain.AceScore]
	logger    zerolog.Logger
}

func NewScoreService(days *repository.PlayerDayRepository, snapshots *repository.SnapshotRepository, logger zerolog.Logger) *ScoreService {
	return &ScoreService{
		days:      days,
		snapshots: snapshots,
		cache:     cache.New[[]domain.AceScore](constants.AceCacheTTL),
		logger:    logger,
	}
}

// ClanScores returns ACE scores for the clan's current roster, sorted by
// composite score descending (tag breaks ties so output is stable).
func (s *ScoreService) ClanScores(ctx context.Context, clanTag string) ([]domain.AceScore, error) {
	clanTag = domain.NormalizeTag(clanTag)

	if scores, ok := s.cache.Get(clanTag); ok {
		s.logger.Debug().Str("clan_tag", clanTag).Msg("returning cached ace scores")
		return scores, nil
	}

	snap, err := s.snapshots.Latest(ctx, clanTag)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("no snapshot history for clan %s", clanTag)
	}

	inputs, err := s.buildInputs(ctx, clanTag, snap)
	if err != nil {
		return nil, err
	}

	scores := derive.ScoreAce(inputs)
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Ace != scores[j].Ace {
			return scores[i].Ace > scores[j].Ace
		}
		return scores[i].Tag < scores[j].Tag
	})

	s.cache.Set(clanTag, scores)
	s.logger.Info().Str("clan_tag", clanTag).Int("scored", len(scores)).Msg("ace scores computed")
	return scores, nil
}

// InvalidateClan drops the cached scores so the next read recomputes from
// fresh derived rows.
func (s *ScoreService) InvalidateClan(clanTag string) {
	s.cache.Delete(domain.NormalizeTag(clanTag))
}

// buildInputs maps the lookback window of derived rows to the five ACE
// sub-metrics per roster member. Offense and defense are centered on the
// roster mean ("above expectation"); availability is the fraction of window
// days the member has a derived row.
func (s *ScoreService) buildInputs(ctx context.Context, clanTag string, snap *domain.Snapshot) ([]domain.AceInput, error) {
	if len(snap.Members) == 0 {
		return nil, nil
	}

	to := snap.Date
	from := to.AddDate(0, 0, -(constants.AceLookbackDays - 1))

	rows, err := s.days.Range(ctx, clanTag, from, to)
	if err != nil {
		return nil, err
	}
	byTag := make(map[string][]domain.PlayerDay)
	for _, row := range rows {
		tag := domain.NormalizeTag(row.Member.Tag)
		byTag[tag] = append(byTag[tag], row)
	}

	type accum struct {
		offense, defense, participation, capital, donation, availability float64
	}

	inputs := make([]domain.AceInput, 0, len(snap.Members))
	var offenseSum, defenseSum float64

	accums := make([]accum, len(snap.Members))
	for i, m := range snap.Members {
		history := byTag[domain.NormalizeTag(m.Tag)]

		var a accum
		active := 0
		for _, row := range history {
			a.offense += positive(row.Deltas[domain.FieldWarStars])
			a.defense += float64(row.Deltas[domain.FieldTrophies])
			a.capital += positive(row.Deltas[domain.FieldCapitalContributions])
			a.donation += positive(row.Deltas[domain.FieldDonations]) + 0.5*positive(row.Deltas[domain.FieldDonationsReceived])
			if len(row.Deltas) > 0 || len(row.Events) > 0 {
				active++
			}
		}
		if len(history) > 0 {
			a.participation = float64(active) / float64(len(history))
		}
		a.availability = float64(len(history)) / float64(constants.AceLookbackDays)
		if a.availability > 1 {
			a.availability = 1
		}

		accums[i] = a
		offenseSum += a.offense
		defenseSum += a.defense
	}

	n := float64(len(snap.Members))
	for i, m := range snap.Members {
		a := accums[i]
		inputs = append(inputs, domain.AceInput{
			Tag:           domain.NormalizeTag(m.Tag),
			Name:          m.Name,
			Offense:       a.offense - offenseSum/n,
			Defense:       a.defense - defenseSum/n,
			Participation: a.participation,
			Capital:       a.capital,
			Donation:      a.donation,
			Availability:  a.availability,
		})
	}
	return inputs, nil
}

func positive(d int) float64 {
	if d > 0 {
		return float64(d)
	}
	return 0
}
