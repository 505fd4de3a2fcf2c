package service

import (
	"context"
	"fmt"
	"time"

	"clash-intelligence/internal/derive"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"

	"github.com/rs/zerolog"
)

// TenureService maintains the append-only tenure ledger: explicit base
// recordings, projected reads, and gap-filling seeding from snapshot
// history.
type TenureService struct {
	ledger    *repository.TenureRepository
	snapshots *repository.SnapshotRepository
	logger    zerolog.Logger
}

func NewTenureService(ledger *repository.TenureRepository, snapshots *repository.SnapshotRepository, logger zerolog.Logger) *TenureService {
	return &TenureService{ledger: ledger, snapshots: snapshots, logger: logger}
}

// RecordBase appends a ledger entry stating the member had base days of
// tenure as of the given date.
func (s *TenureService) RecordBase(ctx context.Context, tag string, base int, asOf time.Time) error {
	return s.ledger.Append(ctx, &domain.TenureLedgerEntry{
		Tag:  domain.NormalizeTag(tag),
		Base: base,
		AsOf: asOf,
	})
}

// CurrentTenure returns the member's continuous tenure in days as of today,
// projected from the most recently written ledger entry. 0 when the tag has
// no ledger history.
func (s *TenureService) CurrentTenure(ctx context.Context, tag string, today time.Time) (int, error) {
	entry, err := s.ledger.Latest(ctx, tag)
	if err != nil {
		return 0, err
	}
	return derive.CurrentTenure(entry, today), nil
}

// SeedMissing fills ledger gaps: every given tag with no prior entry gets a
// base seeded from its first sighting in snapshot history, falling back to
// the clan's earliest snapshot, then to a nominal single day. Tags that
// already have an entry are never overwritten.
func (s *TenureService) SeedMissing(ctx context.Context, clanTag string, tags []string, today time.Time) error {
	var earliestClan *time.Time
	if d, ok, err := s.snapshots.EarliestDate(ctx, clanTag); err != nil {
		return fmt.Errorf("failed to resolve earliest clan snapshot: %w", err)
	} else if ok {
		earliestClan = &d
	}

	seeded := 0
	for _, raw := range tags {
		tag := domain.NormalizeTag(raw)
		entry, err := s.ledger.Latest(ctx, tag)
		if err != nil {
			return err
		}
		if entry != nil {
			continue
		}

		var firstSeen *time.Time
		if d, ok, err := s.snapshots.FirstSeen(ctx, tag); err != nil {
			return err
		} else if ok {
			firstSeen = &d
		}

		base := derive.SeedBase(firstSeen, earliestClan, today)
		if err := s.RecordBase(ctx, tag, base, today); err != nil {
			return err
		}
		seeded++
	}

	if seeded > 0 {
		s.logger.Info().Str("clan_tag", clanTag).Int("seeded", seeded).Msg("tenure ledger seeded")
	}
	return nil
}
