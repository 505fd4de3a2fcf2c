package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"clash-intelligence/internal/database"
	"clash-intelligence/internal/derive"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, zerolog.Nop()))
	return db
}

func intp(v int) *int { return &v }

func day(date string) time.Time {
	d, _ := time.Parse(time.DateOnly, date)
	return d
}

func seedSnapshot(t *testing.T, repo *repository.SnapshotRepository, date string, members ...domain.Member) {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), &domain.Snapshot{
		ClanTag:   "#2PR8R8V8P",
		ClanName:  "Test Clan",
		Date:      day(date),
		FetchedAt: time.Now().UTC(),
		Members:   members,
	}))
}

func TestTenureServiceSeedScenario(t *testing.T) {
	db := testDB(t)
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	ledger := repository.NewTenureRepository(db, zerolog.Nop())
	svc := NewTenureService(ledger, snapshots, zerolog.Nop())
	ctx := context.Background()

	// Tag first appears in the snapshot dated 2025-01-01.
	seedSnapshot(t, snapshots, "2025-01-01", domain.Member{Tag: "#X1", Name: "X"})

	today := day("2025-01-11")
	require.NoError(t, svc.SeedMissing(ctx, "#2PR8R8V8P", []string{"#X1"}, today))

	tenure, err := svc.CurrentTenure(ctx, "#X1", today)
	require.NoError(t, err)
	assert.Equal(t, 10, tenure)
}

func TestTenureServiceSeedDoesNotOverwrite(t *testing.T) {
	db := testDB(t)
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	ledger := repository.NewTenureRepository(db, zerolog.Nop())
	svc := NewTenureService(ledger, snapshots, zerolog.Nop())
	ctx := context.Background()

	today := day("2025-01-11")
	require.NoError(t, svc.RecordBase(ctx, "#X1", 100, today))

	seedSnapshot(t, snapshots, "2025-01-01", domain.Member{Tag: "#X1", Name: "X"})
	require.NoError(t, svc.SeedMissing(ctx, "#2PR8R8V8P", []string{"#X1"}, today))

	tenure, err := svc.CurrentTenure(ctx, "#X1", today)
	require.NoError(t, err)
	assert.Equal(t, 100, tenure, "seeding only fills gaps")
}

func TestTenureServiceSeedFallbacks(t *testing.T) {
	db := testDB(t)
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	ledger := repository.NewTenureRepository(db, zerolog.Nop())
	svc := NewTenureService(ledger, snapshots, zerolog.Nop())
	ctx := context.Background()

	// #GHOST never appears in member history but the clan has snapshots.
	seedSnapshot(t, snapshots, "2025-01-06", domain.Member{Tag: "#X1", Name: "X"})

	today := day("2025-01-11")
	require.NoError(t, svc.SeedMissing(ctx, "#2PR8R8V8P", []string{"#GHOST"}, today))
	tenure, err := svc.CurrentTenure(ctx, "#GHOST", today)
	require.NoError(t, err)
	assert.Equal(t, 5, tenure, "clan earliest-snapshot fallback")

	// No history at all: nominal single day.
	require.NoError(t, svc.SeedMissing(ctx, "#EMPTYCLAN", []string{"#NOONE"}, today))
	tenure, err = svc.CurrentTenure(ctx, "#NOONE", today)
	require.NoError(t, err)
	assert.Equal(t, 1, tenure)
}

func TestTenureMonotonicAcrossDays(t *testing.T) {
	db := testDB(t)
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	ledger := repository.NewTenureRepository(db, zerolog.Nop())
	svc := NewTenureService(ledger, snapshots, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.RecordBase(ctx, "#X1", 5, day("2025-01-01")))

	t1, err := svc.CurrentTenure(ctx, "#X1", day("2025-01-10"))
	require.NoError(t, err)
	t2, err := svc.CurrentTenure(ctx, "#X1", day("2025-02-10"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, t2, t1)
}

func scoreFixture(t *testing.T, db *sql.DB) (*ScoreService, *repository.SnapshotRepository) {
	t.Helper()
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	days := repository.NewPlayerDayRepository(db, zerolog.Nop())
	svc := NewScoreService(days, snapshots, zerolog.Nop())
	ctx := context.Background()

	members := []domain.Member{
		{Tag: "#A1", Name: "Alpha", Trophies: intp(2400), WarStars: intp(500), Donations: intp(100), DonationsReceived: intp(50), CapitalContributions: intp(10000)},
		{Tag: "#B2", Name: "Bravo", Trophies: intp(2000), WarStars: intp(300), Donations: intp(40), DonationsReceived: intp(80), CapitalContributions: intp(4000)},
		{Tag: "#C3", Name: "Charlie", Trophies: intp(1800), WarStars: intp(100), Donations: intp(0), DonationsReceived: intp(0), CapitalContributions: intp(500)},
	}
	seedSnapshot(t, snapshots, "2025-06-01", members...)

	// Three days of history with different activity profiles.
	grow := func(m domain.Member, dTrophies, dStars, dDon int) domain.Member {
		out := m
		out.Trophies = intp(*m.Trophies + dTrophies)
		out.WarStars = intp(*m.WarStars + dStars)
		out.Donations = intp(*m.Donations + dDon)
		return out
	}
	for i, date := range []string{"2025-06-01", "2025-06-02", "2025-06-03"} {
		for mi, m := range members {
			state := grow(m, i*20*(3-mi), i*mi, i*10)
			prev, err := days.LatestBefore(ctx, state.Tag, day(date))
			require.NoError(t, err)
			row, err := derive.DeriveDay(prev, state, "#2PR8R8V8P", day(date))
			require.NoError(t, err)
			_, err = days.Upsert(ctx, row)
			require.NoError(t, err)
		}
	}
	seedSnapshot(t, snapshots, "2025-06-03", members...)
	return svc, snapshots
}

func TestScoreServiceClanScores(t *testing.T) {
	db := testDB(t)
	svc, _ := scoreFixture(t, db)
	ctx := context.Background()

	scores, err := svc.ClanScores(ctx, "#2pr8r8v8p")
	require.NoError(t, err)
	require.Len(t, scores, 3)

	for _, s := range scores {
		for _, v := range []float64{s.Offense, s.Defense, s.Participation, s.Capital, s.Donation, s.Ace} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
	// Sorted by composite descending.
	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Ace, scores[i].Ace)
	}

	// Second read hits the cache and is identical.
	cached, err := svc.ClanScores(ctx, "#2PR8R8V8P")
	require.NoError(t, err)
	assert.Equal(t, scores, cached)

	// Invalidation forces a recompute with the same deterministic result.
	svc.InvalidateClan("#2PR8R8V8P")
	recomputed, err := svc.ClanScores(ctx, "#2PR8R8V8P")
	require.NoError(t, err)
	assert.Equal(t, scores, recomputed)
}

func TestScoreServiceNoHistory(t *testing.T) {
	db := testDB(t)
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	days := repository.NewPlayerDayRepository(db, zerolog.Nop())
	svc := NewScoreService(days, snapshots, zerolog.Nop())

	_, err := svc.ClanScores(context.Background(), "#NOHISTORY")
	require.Error(t, err)
}

func TestJobQueueEnqueueDedupAndStatus(t *testing.T) {
	db := testDB(t)
	jobs := repository.NewJobRepository(db, zerolog.Nop())
	q := NewJobQueue(jobs, nil, zerolog.Nop())
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "#2PR8R8V8P")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)

	dup, err := q.Enqueue(ctx, "#2PR8R8V8P")
	require.NoError(t, err)
	assert.Equal(t, job.ID, dup.ID, "duplicate enqueue returns the existing job")

	got, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = q.Status(ctx, "missing")
	require.Error(t, err)
}
