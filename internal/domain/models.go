package domain

import (
	"time"
)

// Member is the canonical per-member record, mapped once from the raw
// upstream payload. Optional numeric stats are pointers: a nil value means
// the upstream response did not carry the field, which is distinct from a
// real zero.
type Member struct {
	Tag                  string
	Name                 string
	Role                 string
	TownHallLevel        *int
	ExpLevel             *int
	Trophies             *int
	Donations            *int
	DonationsReceived    *int
	WarStars             *int
	CapitalContributions *int
	Heroes               map[string]int
}

// Stat field keys shared by delta maps, change events and notability
// weighting.
const (
	FieldTownHallLevel        = "town_hall_level"
	FieldExpLevel             = "exp_level"
	FieldTrophies             = "trophies"
	FieldDonations            = "donations"
	FieldDonationsReceived    = "donations_received"
	FieldWarStars             = "war_stars"
	FieldCapitalContributions = "capital_contributions"

	HeroFieldPrefix = "hero_"
)

// Stats flattens the member's known numeric fields into a single map keyed
// by the Field* constants. Unknown (nil) fields are omitted.
func (m Member) Stats() map[string]int {
	stats := make(map[string]int, 7+len(m.Heroes))
	put := func(field string, v *int) {
		if v != nil {
			stats[field] = *v
		}
	}
	put(FieldTownHallLevel, m.TownHallLevel)
	put(FieldExpLevel, m.ExpLevel)
	put(FieldTrophies, m.Trophies)
	put(FieldDonations, m.Donations)
	put(FieldDonationsReceived, m.DonationsReceived)
	put(FieldWarStars, m.WarStars)
	put(FieldCapitalContributions, m.CapitalContributions)
	for name, level := range m.Heroes {
		stats[HeroField(name)] = level
	}
	return stats
}

// Snapshot is an immutable point-in-time capture of a clan's membership.
// Identity key: (ClanTag, Date). Members keep the upstream roster order.
type Snapshot struct {
	ClanTag   string
	ClanName  string
	Date      time.Time // calendar day, UTC midnight
	FetchedAt time.Time
	Members   []Member
}

// PlayerDay is one derived fact row per (member tag, calendar day). Deltas
// are signed changes versus the member's immediately preceding row; Events
// are semantic tags such as "hero_upgrade"; SnapshotHash fingerprints the
// comparable fields so re-runs can skip identical writes.
type PlayerDay struct {
	Member       Member
	ClanTag      string
	Day          time.Time // UTC midnight
	Deltas       map[string]int
	Events       []string
	Notability   float64
	SnapshotHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Semantic event tags carried on PlayerDay rows.
const (
	EventJoined          = "joined"
	EventLeft            = "left"
	EventHeroUpgrade     = "hero_upgrade"
	EventTownHallUpgrade = "town_hall_upgrade"
)

type ChangeType string

const (
	ChangeLeftMember      ChangeType = "left_member"
	ChangeNewMember       ChangeType = "new_member"
	ChangeHeroUpgrade     ChangeType = "hero_upgrade"
	ChangeTownHallUpgrade ChangeType = "town_hall_upgrade"
)

// ChangeEvent is one typed difference between two adjacent snapshots.
// Field/From/To are set only for attribute events.
type ChangeEvent struct {
	Type  ChangeType
	Tag   string
	Name  string
	Field string
	From  int
	To    int
}

// TenureLedgerEntry is one append-only tenure record: the member had Base
// days of continuous membership as of AsOf. Reads use the latest entry per
// tag (by CreatedAt, then ID).
type TenureLedgerEntry struct {
	ID        string // nanoid
	Tag       string
	Base      int
	AsOf      time.Time
	CreatedAt time.Time
}

// AceInput carries the five raw sub-metrics plus the availability fraction
// in (0, 1]. Ephemeral: rebuilt from roster history on every scoring pass.
type AceInput struct {
	Tag           string
	Name          string
	Offense       float64
	Defense       float64
	Participation float64
	Capital       float64
	Donation      float64
	Availability  float64
}

// AceScore holds the shrunk sub-components (each in [0, 100]), their
// weighted sum and the inverse-logit core value.
type AceScore struct {
	Tag           string
	Name          string
	Offense       float64
	Defense       float64
	Participation float64
	Capital       float64
	Donation      float64
	Ace           float64
	Core          float64
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IngestJob is one queued derivation pass for a clan. The state machine is
// pending -> running -> completed|failed, never backward.
type IngestJob struct {
	ID          string // nanoid
	ClanTag     string
	Status      JobStatus
	Attempts    int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}
