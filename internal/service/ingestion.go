package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clash-intelligence/internal/api"
	"clash-intelligence/internal/constants"
	"clash-intelligence/internal/derive"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// IngestionService runs one derivation pass: fetch the clan, canonicalize
// the roster, detect changes against the previous snapshot, persist the new
// snapshot, derive per-member day rows and seed tenure gaps. Passes for
// different clans share no mutable state and may run concurrently.
type IngestionService struct {
	coc       *api.CoCClient
	snapshots *repository.SnapshotRepository
	days      *repository.PlayerDayRepository
	tenure    *TenureService
	scores    *ScoreService
	pool      pond.Pool
	logger    zerolog.Logger
}

func NewIngestionService(
	coc *api.CoCClient,
	snapshots *repository.SnapshotRepository,
	days *repository.PlayerDayRepository,
	tenure *TenureService,
	scores *ScoreService,
	logger zerolog.Logger,
) *IngestionService {
	return &IngestionService{
		coc:       coc,
		snapshots: snapshots,
		days:      days,
		tenure:    tenure,
		scores:    scores,
		pool:      pond.NewPool(constants.MemberFetchWorkers),
		logger:    logger,
	}
}

// RunPass executes the full pipeline for one clan for today's UTC calendar
// day. All writes are idempotent, so a failed pass is safe to retry from
// scratch.
func (s *IngestionService) RunPass(ctx context.Context, clanTag string) error {
	clanTag = domain.NormalizeTag(clanTag)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := time.Now()

	s.logger.Info().Str("clan_tag", clanTag).Str("day", today.Format(time.DateOnly)).Msg("ingestion pass started")

	snap, err := s.fetchSnapshot(ctx, clanTag, today)
	if err != nil {
		return fmt.Errorf("upstream fetch failed: %w", err)
	}

	prev, err := s.snapshots.LatestBefore(ctx, clanTag, today)
	if err != nil {
		return err
	}
	if prev != nil {
		s.logChanges(prev, snap)
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return err
	}

	written, skipped := 0, 0
	tags := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		prevRow, err := s.days.LatestBefore(ctx, domain.NormalizeTag(m.Tag), today)
		if err != nil {
			return err
		}
		row, err := derive.DeriveDay(prevRow, m, clanTag, today)
		if errors.Is(err, derive.ErrMissingIdentity) {
			// Fatal for this record only, never for the batch.
			s.logger.Warn().Err(err).Str("name", m.Name).Msg("skipping member without identity")
			continue
		}
		if err != nil {
			return err
		}
		wrote, err := s.days.Upsert(ctx, row)
		if err != nil {
			return err
		}
		if wrote {
			written++
		} else {
			skipped++
		}
		tags = append(tags, row.Member.Tag)
	}

	if err := s.tenure.SeedMissing(ctx, clanTag, tags, today); err != nil {
		return err
	}

	s.scores.InvalidateClan(clanTag)

	s.logger.Info().
		Str("clan_tag", clanTag).
		Int("members", len(snap.Members)).
		Int("rows_written", written).
		Int("rows_unchanged", skipped).
		Dur("duration", time.Since(start)).
		Msg("ingestion pass completed")
	return nil
}

// fetchSnapshot pulls the clan roster and fans out the per-member detail
// fetches over a small worker pool to respect upstream rate limits. A
// failed member fetch degrades to the roster's abbreviated shape instead of
// failing the pass.
func (s *IngestionService) fetchSnapshot(ctx context.Context, clanTag string, today time.Time) (*domain.Snapshot, error) {
	clanCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	clan, err := s.coc.GetClan(clanCtx, clanTag)
	if err != nil {
		return nil, err
	}

	members := make([]domain.Member, len(clan.MemberList))
	group := s.pool.NewGroupContext(ctx)
	for i, cm := range clan.MemberList {
		group.Submit(func() {
			memberCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
			defer cancel()

			player, err := s.coc.GetPlayer(memberCtx, domain.NormalizeTag(cm.Tag))
			if err != nil {
				s.logger.Warn().Err(err).Str("tag", cm.Tag).Msg("player fetch failed, using roster fields only")
				members[i] = api.CanonicalMemberFromRoster(cm)
				return
			}
			members[i] = api.CanonicalMember(player, cm)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &domain.Snapshot{
		ClanTag:   domain.NormalizeTag(clan.Tag),
		ClanName:  clan.Name,
		Date:      today,
		FetchedAt: time.Now().UTC(),
		Members:   members,
	}, nil
}

// logChanges reports the diff against the previous snapshot and flags
// decreases on monotonic-upgrade fields, which the upstream source should
// never produce.
func (s *IngestionService) logChanges(prev, curr *domain.Snapshot) {
	for _, ev := range derive.DetectChanges(prev, curr) {
		s.logger.Info().
			Str("type", string(ev.Type)).
			Str("tag", ev.Tag).
			Str("name", ev.Name).
			Str("field", ev.Field).
			Int("from", ev.From).
			Int("to", ev.To).
			Msg("roster change detected")
	}

	prevByTag := make(map[string]domain.Member, len(prev.Members))
	for _, m := range prev.Members {
		prevByTag[domain.NormalizeTag(m.Tag)] = m
	}
	for _, m := range curr.Members {
		before, ok := prevByTag[domain.NormalizeTag(m.Tag)]
		if !ok {
			continue
		}
		for name, level := range m.Heroes {
			if old, ok := before.Heroes[name]; ok && level < old {
				s.logger.Warn().
					Str("tag", domain.NormalizeTag(m.Tag)).
					Str("hero", name).
					Int("from", old).
					Int("to", level).
					Msg("data anomaly: hero level decreased")
			}
		}
	}
}
