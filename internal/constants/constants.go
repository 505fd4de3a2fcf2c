package constants

import "time"

const (
	AceCacheTTL    = 10 * time.Minute
	RosterCacheTTL = 5 * time.Minute
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	IngestPassTimeout  = 5 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

// MemberFetchWorkers bounds the per-member detail fetch fan-out inside one
// ingestion pass. Kept small to respect upstream rate limits.
const MemberFetchWorkers = 4

const (
	ShutdownTimeout = 5 * time.Second
)

// AceLookbackDays is the derived-history window the score service reads
// when building ACE inputs.
const AceLookbackDays = 30

// Player-history window defaults for the read API.
const (
	PlayerHistoryDays    = 30
	PlayerHistoryMaxDays = 365
)
