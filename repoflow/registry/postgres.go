package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/byte4ever/promptops/repoflow/errs"
)

// Schema creates the repo_records table. Applied by
// EnsureSchema; deployments with managed migrations can
// run it themselves instead.
const Schema = `
CREATE TABLE IF NOT EXISTS repo_records (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	remote_url          TEXT NOT NULL,
	full_name           TEXT NOT NULL,
	status              TEXT NOT NULL,
	branch              TEXT NOT NULL,
	local_path          TEXT NOT NULL DEFAULT '',
	last_clone_attempt  TIMESTAMPTZ,
	clone_error_message TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, full_name)
)`

// recordColumns is the column list shared by every scan.
const recordColumns = `id, user_id, remote_url,
	full_name, status, branch, local_path,
	last_clone_attempt, clone_error_message,
	created_at, updated_at`

// PostgresStore is the durable Store used in organization
// hosting mode.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies
// connectivity.
func NewPostgresStore(
	ctx context.Context,
	databaseURL string,
) (*PostgresStore, error) {
	const errCtx = "creating postgres store"

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: open: %w", errCtx, err,
		)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf(
			"%s: ping: %w", errCtx, err,
		)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema applies the table definition.
func (s *PostgresStore) EnsureSchema(
	ctx context.Context,
) error {
	const errCtx = "ensuring schema"

	if _, err := s.db.ExecContext(
		ctx, Schema,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *PostgresStore) Get(
	ctx context.Context,
	userID string,
	fullName string,
) (*Record, error) {
	const errCtx = "getting record"

	query := `SELECT ` + recordColumns +
		` FROM repo_records
		WHERE user_id = $1 AND full_name = $2`

	rec, err := scanRecord(s.db.QueryRowContext(
		ctx, query, userID, fullName,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Ef(
				errs.KindNotFound,
				"record for %s/%s",
				userID, fullName,
			)
		}

		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return rec, nil
}

// Create implements Store.
func (s *PostgresStore) Create(
	ctx context.Context,
	rec *Record,
) error {
	const errCtx = "creating record"

	query := `INSERT INTO repo_records
		(id, user_id, remote_url, full_name, status,
		 branch, local_path, last_clone_attempt,
		 clone_error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		        $10, $11)`

	if _, err := s.db.ExecContext(
		ctx, query,
		rec.ID, rec.UserID, rec.RemoteURL,
		rec.FullName, string(rec.Status), rec.Branch,
		rec.LocalPath,
		nullTime(rec.LastCloneAttempt),
		rec.CloneErrorMessage,
		rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Update implements Store.
func (s *PostgresStore) Update(
	ctx context.Context,
	rec *Record,
) error {
	const errCtx = "updating record"

	query := `UPDATE repo_records SET
		remote_url = $2,
		status = $3,
		branch = $4,
		local_path = $5,
		last_clone_attempt = $6,
		clone_error_message = $7,
		updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(
		ctx, query,
		rec.ID, rec.RemoteURL, string(rec.Status),
		rec.Branch, rec.LocalPath,
		nullTime(rec.LastCloneAttempt),
		rec.CloneErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf(
			"%s: rows affected: %w", errCtx, err,
		)
	}

	if n == 0 {
		return errs.Ef(
			errs.KindNotFound, "record %s", rec.ID,
		)
	}

	return nil
}

// ListByUser implements Store.
func (s *PostgresStore) ListByUser(
	ctx context.Context,
	userID string,
) ([]*Record, error) {
	const errCtx = "listing records"

	query := `SELECT ` + recordColumns +
		` FROM repo_records
		WHERE user_id = $1
		ORDER BY full_name`

	rows, err := s.db.QueryContext(
		ctx, query, userID,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	defer rows.Close() //nolint:errcheck

	var out []*Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: scan: %w", errCtx, err,
			)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(
			"%s: rows: %w", errCtx, err,
		)
	}

	return out, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(
	ctx context.Context,
	id string,
) error {
	const errCtx = "deleting record"

	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM repo_records WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf(
			"%s: rows affected: %w", errCtx, err,
		)
	}

	if n == 0 {
		return errs.Ef(
			errs.KindNotFound, "record %s", id,
		)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one record from a row.
func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		status  string
		attempt sql.NullTime
	)

	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.RemoteURL,
		&rec.FullName, &status, &rec.Branch,
		&rec.LocalPath, &attempt,
		&rec.CloneErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(status)

	if attempt.Valid {
		rec.LastCloneAttempt = attempt.Time
	}

	return &rec, nil
}

// nullTime maps a zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
