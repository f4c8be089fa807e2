package registry

import "context"

// Store persists repository records. Implementations must
// be safe for concurrent use; the workflow re-reads the
// record through the store before every operation.
type Store interface {
	// Get returns the record for (userID, fullName) or
	// an errs.KindNotFound error.
	Get(
		ctx context.Context,
		userID string,
		fullName string,
	) (*Record, error)

	// Create inserts a new record.
	Create(ctx context.Context, rec *Record) error

	// Update overwrites the stored record by ID and
	// bumps UpdatedAt.
	Update(ctx context.Context, rec *Record) error

	// ListByUser returns every record of one user.
	ListByUser(
		ctx context.Context,
		userID string,
	) ([]*Record, error)

	// Delete removes the record by ID. Deleting an
	// absent record is an errs.KindNotFound error.
	Delete(ctx context.Context, id string) error
}
