package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"clash-intelligence/internal/domain"

	"github.com/rs/zerolog"
)

type SnapshotRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSnapshotRepository(sqlDB *sql.DB, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: sqlDB, logger: logger}
}

// Save persists a snapshot and its member rows. Re-saving the same
// (clan, date) replaces that day's rows, so a corrected re-fetch of the
// same day converges instead of accumulating.
func (r *SnapshotRepository) Save(ctx context.Context, s *domain.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	clanTag := domain.NormalizeTag(s.ClanTag)
	day := s.Date.UTC().Format(time.DateOnly)
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (clan_tag, snapshot_date, clan_name, member_count, fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (clan_tag, snapshot_date) DO UPDATE SET
			clan_name = excluded.clan_name,
			member_count = excluded.member_count,
			fetched_at = excluded.fetched_at`,
		clanTag, day, s.ClanName, len(s.Members), s.FetchedAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_members WHERE clan_tag = ? AND snapshot_date = ?`,
		clanTag, day); err != nil {
		return fmt.Errorf("failed to clear snapshot members: %w", err)
	}

	for i, m := range s.Members {
		heroes, err := json.Marshal(m.Heroes)
		if err != nil {
			return fmt.Errorf("failed to marshal hero levels: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshot_members (
				clan_tag, snapshot_date, tag, name, role, position,
				town_hall_level, exp_level, trophies, donations, donations_received,
				war_stars, capital_contributions, hero_levels, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			clanTag, day, domain.NormalizeTag(m.Tag), m.Name, m.Role, i,
			nullableInt(m.TownHallLevel), nullableInt(m.ExpLevel), nullableInt(m.Trophies),
			nullableInt(m.Donations), nullableInt(m.DonationsReceived),
			nullableInt(m.WarStars), nullableInt(m.CapitalContributions),
			string(heroes), now)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot member %s: %w", m.Tag, err)
		}
	}

	return tx.Commit()
}

// LatestBefore returns the most recent snapshot strictly older than the
// given date, or nil when no earlier snapshot exists.
func (r *SnapshotRepository) LatestBefore(ctx context.Context, clanTag string, date time.Time) (*domain.Snapshot, error) {
	return r.queryOne(ctx, clanTag, `
		SELECT clan_tag, snapshot_date, clan_name, fetched_at
		FROM snapshots
		WHERE clan_tag = ? AND snapshot_date < ?
		ORDER BY snapshot_date DESC
		LIMIT 1`,
		domain.NormalizeTag(clanTag), date.UTC().Format(time.DateOnly))
}

// Latest returns the most recent snapshot for the clan, or nil.
func (r *SnapshotRepository) Latest(ctx context.Context, clanTag string) (*domain.Snapshot, error) {
	return r.queryOne(ctx, clanTag, `
		SELECT clan_tag, snapshot_date, clan_name, fetched_at
		FROM snapshots
		WHERE clan_tag = ?
		ORDER BY snapshot_date DESC
		LIMIT 1`,
		domain.NormalizeTag(clanTag))
}

func (r *SnapshotRepository) queryOne(ctx context.Context, clanTag, query string, args ...any) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var day string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&s.ClanTag, &day, &s.ClanName, &s.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	s.Date, err = time.Parse(time.DateOnly, day)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot date %q: %w", day, err)
	}

	s.Members, err = r.members(ctx, s.ClanTag, day)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SnapshotRepository) members(ctx context.Context, clanTag, day string) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag, name, role, town_hall_level, exp_level, trophies,
		       donations, donations_received, war_stars, capital_contributions, hero_levels
		FROM snapshot_members
		WHERE clan_tag = ? AND snapshot_date = ?
		ORDER BY position`,
		clanTag, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot members: %w", err)
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// FirstSeen returns the earliest snapshot date in which the member tag
// appears, across all clans. The second return is false when the tag has no
// snapshot history.
func (r *SnapshotRepository) FirstSeen(ctx context.Context, memberTag string) (time.Time, bool, error) {
	var day sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(snapshot_date) FROM snapshot_members WHERE tag = ?`,
		domain.NormalizeTag(memberTag)).Scan(&day)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query first sighting: %w", err)
	}
	if !day.Valid {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(time.DateOnly, day.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse first sighting %q: %w", day.String, err)
	}
	return d, true, nil
}

// EarliestDate returns the clan's oldest snapshot date, false when the clan
// has no history yet.
func (r *SnapshotRepository) EarliestDate(ctx context.Context, clanTag string) (time.Time, bool, error) {
	var day sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(snapshot_date) FROM snapshots WHERE clan_tag = ?`,
		domain.NormalizeTag(clanTag)).Scan(&day)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query earliest snapshot: %w", err)
	}
	if !day.Valid {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(time.DateOnly, day.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse earliest snapshot %q: %w", day.String, err)
	}
	return d, true, nil
}

type memberScanner interface {
	Scan(dest ...any) error
}

func scanMember(row memberScanner) (domain.Member, error) {
	var m domain.Member
	var th, exp, tr, don, rec, ws, capc sql.NullInt64
	var heroes string
	if err := row.Scan(&m.Tag, &m.Name, &m.Role, &th, &exp, &tr, &don, &rec, &ws, &capc, &heroes); err != nil {
		return m, fmt.Errorf("failed to scan member: %w", err)
	}
	m.TownHallLevel = intPtr(th)
	m.ExpLevel = intPtr(exp)
	m.Trophies = intPtr(tr)
	m.Donations = intPtr(don)
	m.DonationsReceived = intPtr(rec)
	m.WarStars = intPtr(ws)
	m.CapitalContributions = intPtr(capc)
	if heroes != "" && heroes != "{}" {
		if err := json.Unmarshal([]byte(heroes), &m.Heroes); err != nil {
			return m, fmt.Errorf("failed to unmarshal hero levels: %w", err)
		}
	}
	return m, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
