package derive

import "errors"

var (
	// ErrMissingIdentity marks a member record without the minimal key
	// fields needed to derive a row. Fatal for that record only, never for
	// the batch.
	ErrMissingIdentity = errors.New("member record missing identity tag")

	// ErrInvalidDateOrdering marks a derivation attempt against a previous
	// row that is not strictly older. Callers sort snapshots by date before
	// deriving; hitting this means the sort was skipped.
	ErrInvalidDateOrdering = errors.New("derived day is not after previous row")
)
