package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clash-intelligence/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type TenureRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTenureRepository(sqlDB *sql.DB, logger zerolog.Logger) *TenureRepository {
	return &TenureRepository{db: sqlDB, logger: logger}
}

// Append writes a new ledger entry. Entries are never edited; a new entry
// supersedes old ones at read time.
func (r *TenureRepository) Append(ctx context.Context, entry *domain.TenureLedgerEntry) error {
	if entry.Base < 0 {
		return fmt.Errorf("ledger base must be non-negative, got %d", entry.Base)
	}

	id := entry.ID
	if id == "" {
		var err error
		id, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenure_ledger (id, tag, base, as_of, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, domain.NormalizeTag(entry.Tag), entry.Base,
		entry.AsOf.UTC().Format(time.DateOnly), createdAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	r.logger.Debug().
		Str("tag", domain.NormalizeTag(entry.Tag)).
		Int("base", entry.Base).
		Str("as_of", entry.AsOf.UTC().Format(time.DateOnly)).
		Msg("tenure ledger entry appended")
	return nil
}

// Latest returns the most recently written entry for a tag, or nil when the
// tag has no ledger history. Latest-write-wins is an explicit ordering by
// write timestamp (rowid breaks exact ties), never map iteration order.
func (r *TenureRepository) Latest(ctx context.Context, tag string) (*domain.TenureLedgerEntry, error) {
	var entry domain.TenureLedgerEntry
	var asOf string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tag, base, as_of, created_at
		FROM tenure_ledger
		WHERE tag = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		domain.NormalizeTag(tag)).Scan(&entry.ID, &entry.Tag, &entry.Base, &asOf, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entry: %w", err)
	}
	entry.AsOf, err = time.Parse(time.DateOnly, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse as_of %q: %w", asOf, err)
	}
	return &entry, nil
}
