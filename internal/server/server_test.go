package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clash-intelligence/internal/config"
	"clash-intelligence/internal/database"
	"clash-intelligence/internal/derive"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"
	"clash-intelligence/internal/service"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	srv       *Server
	db        *sql.DB
	snapshots *repository.SnapshotRepository
	days      *repository.PlayerDayRepository
	tenure    *service.TenureService
}

func setupTestServer(t *testing.T) serverFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, zerolog.Nop()))

	logger := zerolog.Nop()
	cfg := &config.Config{CoCAPIKey: "test-key", HomeClanTag: "#2PR8R8V8P"}
	snapshots := repository.NewSnapshotRepository(db, logger)
	days := repository.NewPlayerDayRepository(db, logger)
	ledger := repository.NewTenureRepository(db, logger)
	jobs := repository.NewJobRepository(db, logger)

	tenure := service.NewTenureService(ledger, snapshots, logger)
	scores := service.NewScoreService(days, snapshots, logger)
	queue := service.NewJobQueue(jobs, nil, logger)

	return serverFixture{
		srv:       NewServer(cfg, queue, scores, tenure, snapshots, days, logger),
		db:        db,
		snapshots: snapshots,
		days:      days,
		tenure:    tenure,
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleHealth(t *testing.T) {
	fx := setupTestServer(t)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["hasCoC"])
	assert.Equal(t, "#2PR8R8V8P", data["homeClanTag"])
}

func TestHandleIngestAndJobStatus(t *testing.T) {
	fx := setupTestServer(t)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	jobID := data["id"].(string)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "#2PR8R8V8P", data["clanTag"])

	// Duplicate trigger returns the same job.
	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, jobID, decode(t, rec)["data"].(map[string]any)["id"])

	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["data"].(map[string]any)["status"])

	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestHandleRoster(t *testing.T) {
	fx := setupTestServer(t)
	ctx := context.Background()

	trophies := 2400
	require.NoError(t, fx.snapshots.Save(ctx, &domain.Snapshot{
		ClanTag:   "#2PR8R8V8P",
		ClanName:  "Test Clan",
		Date:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		FetchedAt: time.Now().UTC(),
		Members:   []domain.Member{{Tag: "#ABC123", Name: "Alpha", Role: "leader", Trophies: &trophies}},
	}))
	require.NoError(t, fx.tenure.RecordBase(ctx, "#ABC123", 30, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roster", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	clan := data["clan"].(map[string]any)
	assert.Equal(t, "Test Clan", clan["name"])

	members := data["members"].([]any)
	require.Len(t, members, 1)
	member := members[0].(map[string]any)
	assert.Equal(t, "#ABC123", member["tag"])
	assert.Equal(t, float64(30), member["tenureDays"])
}

func TestHandleRosterDegradesOnBadDerivedRow(t *testing.T) {
	fx := setupTestServer(t)
	ctx := context.Background()

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fx.snapshots.Save(ctx, &domain.Snapshot{
		ClanTag:   "#2PR8R8V8P",
		ClanName:  "Test Clan",
		Date:      day,
		FetchedAt: time.Now().UTC(),
		Members:   []domain.Member{{Tag: "#ABC123", Name: "Alpha", Role: "leader"}},
	}))

	// Derived row with unparseable deltas; the roster read must fall back
	// to the bare snapshot fields instead of failing.
	now := time.Now().UTC()
	_, err := fx.db.ExecContext(ctx, `
		INSERT INTO player_days (tag, day, clan_tag, name, deltas, snapshot_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"#ABC123", day.Format(time.DateOnly), "#2PR8R8V8P", "Alpha", "not-json", "h", now, now)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roster", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	members := decode(t, rec)["data"].(map[string]any)["members"].([]any)
	require.Len(t, members, 1)
	member := members[0].(map[string]any)
	assert.Equal(t, "#ABC123", member["tag"])
	assert.Equal(t, float64(0), member["notability"])
}

func TestHandleRosterNoHistory(t *testing.T) {
	fx := setupTestServer(t)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roster?clanTag=%23NOPE", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestHandlePlayerHistory(t *testing.T) {
	fx := setupTestServer(t)
	ctx := context.Background()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	trophies1, trophies2 := 2400, 2450
	first := domain.Member{
		Tag: "#ABC123", Name: "Alpha", Role: "member",
		Trophies: &trophies1,
		Heroes:   map[string]int{"Barbarian King": 50},
	}
	second := domain.Member{
		Tag: "#ABC123", Name: "Alpha", Role: "member",
		Trophies: &trophies2,
		Heroes:   map[string]int{"Barbarian King": 51},
	}

	row1, err := derive.DeriveDay(nil, first, "#2PR8R8V8P", yesterday)
	require.NoError(t, err)
	_, err = fx.days.Upsert(ctx, row1)
	require.NoError(t, err)

	row2, err := derive.DeriveDay(row1, second, "#2PR8R8V8P", today)
	require.NoError(t, err)
	_, err = fx.days.Upsert(ctx, row2)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/player/%23ABC123/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "#ABC123", data["tag"])
	assert.Equal(t, "Alpha", data["name"])
	assert.Equal(t, float64(30), data["days"])

	history := data["history"].([]any)
	require.Len(t, history, 2)

	oldest := history[0].(map[string]any)
	assert.Equal(t, yesterday.Format(time.DateOnly), oldest["day"])
	assert.Contains(t, oldest["events"], "joined")

	latest := history[1].(map[string]any)
	assert.Equal(t, today.Format(time.DateOnly), latest["day"])
	assert.Equal(t, float64(50), latest["deltas"].(map[string]any)["trophies"])
	assert.Contains(t, latest["events"], "hero_upgrade")
	assert.Greater(t, latest["notability"].(float64), 0.0)

	// Window narrower than the stored history trims the older rows.
	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/player/%23ABC123/history?days=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["days"])
	require.Len(t, data["history"].([]any), 1)
	assert.Equal(t, today.Format(time.DateOnly), data["history"].([]any)[0].(map[string]any)["day"])
}

func TestHandlePlayerHistoryValidation(t *testing.T) {
	fx := setupTestServer(t)

	rec := httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/player/%23ABC123/history?days=zero", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/player/%23ABC123/history?days=-3", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	fx.srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/player/%23NOBODY/history", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}
