// Package registry holds the durable per-user repository
// records and the clone status state machine that guards
// them. Records are mutated exclusively through the
// workflow; the state machine fails loudly on transitions
// the workflow must never attempt.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the clone lifecycle state of a repository
// record.
type Status string

const (
	// StatusPending marks a registered repository that
	// was never cloned.
	StatusPending Status = "PENDING"
	// StatusCloning marks a clone or fetch in flight.
	StatusCloning Status = "CLONING"
	// StatusCloned marks a present, current working
	// tree.
	StatusCloned Status = "CLONED"
	// StatusFailed marks a failed last attempt.
	StatusFailed Status = "FAILED"
	// StatusOutdated marks a working tree the remote has
	// moved ahead of. Entered only by explicit caller
	// action, never by a timer.
	StatusOutdated Status = "OUTDATED"
)

// ErrInvalidTransition reports a status transition the
// state machine forbids. Hitting it is a programming
// error in the caller.
var ErrInvalidTransition = errors.New(
	"invalid status transition",
)

// Record is one user x repository pairing with its clone
// state. LocalPath is set iff Status is CLONED or
// OUTDATED; CloneErrorMessage is set iff Status is FAILED.
type Record struct {
	// ID is the record identifier.
	ID string
	// UserID identifies the owning user.
	UserID string
	// RemoteURL is the clone URL.
	RemoteURL string
	// FullName is the "owner/name" repository name.
	FullName string
	// Status is the clone lifecycle state.
	Status Status
	// Branch is the target branch, default "main".
	Branch string
	// LocalPath is the working tree location once
	// cloned.
	LocalPath string
	// LastCloneAttempt is stamped on every transition
	// into CLONING.
	LastCloneAttempt time.Time
	// CloneErrorMessage holds the last failure, only in
	// FAILED.
	CloneErrorMessage string
	// CreatedAt is the registration time.
	CreatedAt time.Time
	// UpdatedAt is bumped by the store on every write.
	UpdatedAt time.Time
}

// NewRecord registers a repository for a user in PENDING.
// branch defaults to "main" when empty.
func NewRecord(
	userID string,
	fullName string,
	remoteURL string,
	branch string,
) *Record {
	if branch == "" {
		branch = "main"
	}

	now := time.Now().UTC()

	return &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		FullName:  fullName,
		RemoteURL: remoteURL,
		Status:    StatusPending,
		Branch:    branch,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkCloning transitions into CLONING, stamps the
// attempt time, and clears the error message. Valid from
// any state; the single-flight guard lives in the
// workflow's per-record lock, not here.
func (r *Record) MarkCloning() {
	r.Status = StatusCloning
	r.LastCloneAttempt = time.Now().UTC()
	r.CloneErrorMessage = ""
}

// MarkCloned transitions CLONING -> CLONED and records the
// working tree location.
func (r *Record) MarkCloned(localPath string) error {
	if r.Status != StatusCloning {
		return fmt.Errorf(
			"marking cloned from %s: %w",
			r.Status, ErrInvalidTransition,
		)
	}

	r.Status = StatusCloned
	r.LocalPath = localPath
	r.CloneErrorMessage = ""

	return nil
}

// MarkFailed transitions CLONING -> FAILED and records the
// failure message. LocalPath keeps its previous value: a
// stale tree from an earlier success still exists.
func (r *Record) MarkFailed(message string) error {
	if r.Status != StatusCloning {
		return fmt.Errorf(
			"marking failed from %s: %w",
			r.Status, ErrInvalidTransition,
		)
	}

	r.Status = StatusFailed
	r.CloneErrorMessage = message

	return nil
}

// MarkOutdated transitions CLONED -> OUTDATED. LocalPath
// is retained; the stale copy still exists.
func (r *Record) MarkOutdated() error {
	if r.Status != StatusCloned {
		return fmt.Errorf(
			"marking outdated from %s: %w",
			r.Status, ErrInvalidTransition,
		)
	}

	r.Status = StatusOutdated

	return nil
}

// IsClonePending reports a record that was registered but
// never successfully cloned.
func (r *Record) IsClonePending() bool {
	return r.Status == StatusPending
}

// IsClonedSuccessfully reports a present, current working
// tree.
func (r *Record) IsClonedSuccessfully() bool {
	return r.Status == StatusCloned
}

// IsCloneFailed reports a failed last attempt.
func (r *Record) IsCloneFailed() bool {
	return r.Status == StatusFailed
}

// HasWorkingTree reports whether a working tree exists on
// disk for this record, current or stale.
func (r *Record) HasWorkingTree() bool {
	return r.LocalPath != "" &&
		(r.Status == StatusCloned ||
			r.Status == StatusOutdated)
}
