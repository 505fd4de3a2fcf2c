package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"clash-intelligence/internal/config"
	"clash-intelligence/internal/constants"
	"clash-intelligence/internal/domain"
	"clash-intelligence/internal/repository"
	"clash-intelligence/internal/service"

	"github.com/rs/zerolog"
)

// Server exposes the pipeline over a thin JSON surface: trigger a pass,
// poll its job, read the roster and the ACE scores. The derivation logic
// itself lives behind the services; handlers only translate HTTP.
type Server struct {
	cfg       *config.Config
	queue     *service.JobQueue
	scores    *service.ScoreService
	tenure    *service.TenureService
	snapshots *repository.SnapshotRepository
	days      *repository.PlayerDayRepository
	logger    zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	queue *service.JobQueue,
	scores *service.ScoreService,
	tenure *service.TenureService,
	snapshots *repository.SnapshotRepository,
	days *repository.PlayerDayRepository,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		queue:     queue,
		scores:    scores,
		tenure:    tenure,
		snapshots: snapshots,
		days:      days,
		logger:    logger,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /api/roster", s.handleRoster)
	mux.HandleFunc("GET /api/ace", s.handleAce)
	mux.HandleFunc("GET /api/player/{tag}/history", s.handlePlayerHistory)
	return mux
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()}); encErr != nil {
		s.logger.Error().Err(encErr).Msg("failed to encode error response")
	}
}

// clanTag resolves the clan from the query string, defaulting to the
// configured home clan.
func (s *Server) clanTag(r *http.Request) string {
	if tag := r.URL.Query().Get("clanTag"); tag != "" {
		return domain.NormalizeTag(tag)
	}
	return s.cfg.HomeClanTag
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"hasCoC":      s.cfg.CoCAPIKey != "",
		"homeClanTag": s.cfg.HomeClanTag,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Enqueue(r.Context(), s.clanTag(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusAccepted, jobView(job))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respond(w, http.StatusOK, jobView(job))
}

type rosterMember struct {
	Tag                  string         `json:"tag"`
	Name                 string         `json:"name"`
	Role                 string         `json:"role"`
	TownHallLevel        *int           `json:"townHallLevel,omitempty"`
	Trophies             *int           `json:"trophies,omitempty"`
	Donations            *int           `json:"donations,omitempty"`
	DonationsReceived    *int           `json:"donationsReceived,omitempty"`
	WarStars             *int           `json:"warStars,omitempty"`
	CapitalContributions *int           `json:"capitalContributions,omitempty"`
	Heroes               map[string]int `json:"heroes,omitempty"`
	TenureDays           int            `json:"tenureDays"`
	Notability           float64        `json:"notability"`
	Events               []string       `json:"events,omitempty"`
	Deltas               map[string]int `json:"deltas,omitempty"`
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clanTag := s.clanTag(r)

	snap, err := s.snapshots.Latest(ctx, clanTag)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		s.respondError(w, http.StatusNotFound, errNoSnapshot(clanTag))
		return
	}

	members := make([]rosterMember, 0, len(snap.Members))
	for _, m := range snap.Members {
		rm := rosterMember{
			Tag:                  m.Tag,
			Name:                 m.Name,
			Role:                 m.Role,
			TownHallLevel:        m.TownHallLevel,
			Trophies:             m.Trophies,
			Donations:            m.Donations,
			DonationsReceived:    m.DonationsReceived,
			WarStars:             m.WarStars,
			CapitalContributions: m.CapitalContributions,
			Heroes:               m.Heroes,
		}

		tenure, err := s.tenure.CurrentTenure(ctx, m.Tag, snap.Date)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		rm.TenureDays = tenure

		row, err := s.days.Get(ctx, m.Tag, snap.Date)
		if err != nil {
			// Degrade to the bare snapshot fields, but leave a trace so a
			// scan failure is distinguishable from "no derived row yet".
			s.logger.Warn().Err(err).Str("tag", m.Tag).Msg("failed to load derived row for roster member")
		} else if row != nil {
			rm.Notability = row.Notability
			rm.Events = row.Events
			rm.Deltas = row.Deltas
		}

		members = append(members, rm)
	}

	s.respond(w, http.StatusOK, map[string]any{
		"clan": map[string]any{
			"tag":  snap.ClanTag,
			"name": snap.ClanName,
		},
		"snapshot": map[string]any{
			"date":      snap.Date.Format(time.DateOnly),
			"fetchedAt": snap.FetchedAt.Format(time.RFC3339),
		},
		"members": members,
	})
}

func (s *Server) handleAce(w http.ResponseWriter, r *http.Request) {
	scores, err := s.scores.ClanScores(r.Context(), s.clanTag(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	type scoreView struct {
		Tag           string  `json:"tag"`
		Name          string  `json:"name"`
		Offense       float64 `json:"offense"`
		Defense       float64 `json:"defense"`
		Participation float64 `json:"participation"`
		Capital       float64 `json:"capital"`
		Donation      float64 `json:"donation"`
		Ace           float64 `json:"ace"`
		Core          float64 `json:"core"`
	}
	views := make([]scoreView, len(scores))
	for i, sc := range scores {
		views[i] = scoreView(sc)
	}
	s.respond(w, http.StatusOK, map[string]any{"scores": views})
}

type historyDay struct {
	Day                  string         `json:"day"`
	Role                 string         `json:"role,omitempty"`
	TownHallLevel        *int           `json:"townHallLevel,omitempty"`
	Trophies             *int           `json:"trophies,omitempty"`
	Donations            *int           `json:"donations,omitempty"`
	DonationsReceived    *int           `json:"donationsReceived,omitempty"`
	WarStars             *int           `json:"warStars,omitempty"`
	CapitalContributions *int           `json:"capitalContributions,omitempty"`
	Heroes               map[string]int `json:"heroes,omitempty"`
	Deltas               map[string]int `json:"deltas,omitempty"`
	Events               []string       `json:"events,omitempty"`
	Notability           float64        `json:"notability"`
}

// handlePlayerHistory returns one member's derived-day rows over the last
// `days` calendar days (default 30, capped at 365), oldest first.
func (s *Server) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	tag := domain.NormalizeTag(r.PathValue("tag"))
	if tag == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid player tag"))
		return
	}

	days := constants.PlayerHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid days parameter %q", raw))
			return
		}
		days = min(v, constants.PlayerHistoryMaxDays)
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -(days - 1))

	rows, err := s.days.History(r.Context(), tag, from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if len(rows) == 0 {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("no derived history for player %s", tag))
		return
	}

	views := make([]historyDay, len(rows))
	for i, row := range rows {
		views[i] = historyDay{
			Day:                  row.Day.Format(time.DateOnly),
			Role:                 row.Member.Role,
			TownHallLevel:        row.Member.TownHallLevel,
			Trophies:             row.Member.Trophies,
			Donations:            row.Member.Donations,
			DonationsReceived:    row.Member.DonationsReceived,
			WarStars:             row.Member.WarStars,
			CapitalContributions: row.Member.CapitalContributions,
			Heroes:               row.Member.Heroes,
			Deltas:               row.Deltas,
			Events:               row.Events,
			Notability:           row.Notability,
		}
	}

	latest := rows[len(rows)-1]
	s.respond(w, http.StatusOK, map[string]any{
		"tag":     tag,
		"name":    latest.Member.Name,
		"days":    days,
		"history": views,
	})
}

type jobResponse struct {
	ID          string  `json:"id"`
	ClanTag     string  `json:"clanTag"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	StartedAt   *string `json:"startedAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

func jobView(job *domain.IngestJob) jobResponse {
	view := jobResponse{
		ID:        job.ID,
		ClanTag:   job.ClanTag,
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		v := job.StartedAt.UTC().Format(time.RFC3339)
		view.StartedAt = &v
	}
	if job.CompletedAt != nil {
		v := job.CompletedAt.UTC().Format(time.RFC3339)
		view.CompletedAt = &v
	}
	return view
}

type errNoSnapshot string

func (e errNoSnapshot) Error() string {
	return "no snapshot history for clan " + string(e)
}
