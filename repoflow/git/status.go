package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/byte4ever/promptops/repoflow/exec"
)

// CommitInfo describes the last commit on the current
// branch.
type CommitInfo struct {
	// ID is the full commit hash.
	ID string
	// Message is the commit subject line.
	Message string
	// AuthorName is the commit author's name.
	AuthorName string
	// AuthorEmail is the commit author's email.
	AuthorEmail string
	// Timestamp is the author date.
	Timestamp time.Time
}

// StatusSnapshot is a read-only view of the working tree
// state at one point in time.
type StatusSnapshot struct {
	// Branch is the checked-out branch name.
	Branch string
	// Dirty reports any uncommitted change, staged or
	// not, including untracked files.
	Dirty bool
	// Untracked lists files unknown to git.
	Untracked []string
	// Modified lists tracked files with unstaged
	// changes.
	Modified []string
	// Staged lists files with staged changes.
	Staged []string
	// CommitsAhead counts local commits not on the
	// remote-tracking branch. Zero when no tracking ref
	// exists.
	CommitsAhead int
	// LastCommit describes the tip commit. Nil on an
	// unborn branch.
	LastCommit *CommitInfo
}

// Status returns a snapshot of the working tree. Never
// mutates the tree.
func (e *Engine) Status(
	ctx context.Context,
) (*StatusSnapshot, error) {
	const errCtx = "reading repository status"

	branch, err := e.currentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	snap := &StatusSnapshot{Branch: branch}

	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "status", "--porcelain",
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: porcelain: %w", errCtx, err,
		)
	}

	parsePorcelain(out, snap)

	snap.Dirty = len(snap.Untracked) > 0 ||
		len(snap.Modified) > 0 ||
		len(snap.Staged) > 0

	snap.CommitsAhead = e.commitsAhead(ctx, branch)

	last, err := e.lastCommit(ctx)
	if err == nil {
		snap.LastCommit = last
	}

	return snap, nil
}

// parsePorcelain splits `git status --porcelain` output
// into untracked, modified, and staged file lists. A file
// may appear in both staged and modified when it has
// changes in the index and the worktree.
func parsePorcelain(out string, snap *StatusSnapshot) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}

		idx, tree := line[0], line[1]
		name := strings.TrimSpace(line[3:])

		if idx == '?' && tree == '?' {
			snap.Untracked = append(
				snap.Untracked, name,
			)

			continue
		}

		if idx != ' ' {
			snap.Staged = append(snap.Staged, name)
		}

		if tree != ' ' {
			snap.Modified = append(
				snap.Modified, name,
			)
		}
	}
}

// commitsAhead counts commits on HEAD not reachable from
// the remote-tracking branch. Returns zero when the
// tracking ref is missing.
func (e *Engine) commitsAhead(
	ctx context.Context,
	branch string,
) int {
	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "rev-list", "--count",
		fmt.Sprintf(
			"%s/%s..HEAD", remoteName, branch,
		),
	)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}

	return n
}

// lastCommit reads the tip commit metadata.
func (e *Engine) lastCommit(
	ctx context.Context,
) (*CommitInfo, error) {
	const errCtx = "reading last commit"

	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "log", "-1",
		"--pretty=format:%H%n%an%n%ae%n%aI%n%s",
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	parts := strings.SplitN(out, "\n", 5)
	if len(parts) < 5 {
		return nil, fmt.Errorf(
			"%s: unexpected log output", errCtx,
		)
	}

	ts, err := time.Parse(
		time.RFC3339, strings.TrimSpace(parts[3]),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: parse timestamp: %w", errCtx, err,
		)
	}

	return &CommitInfo{
		ID:          strings.TrimSpace(parts[0]),
		AuthorName:  strings.TrimSpace(parts[1]),
		AuthorEmail: strings.TrimSpace(parts[2]),
		Timestamp:   ts,
		Message:     strings.TrimSpace(parts[4]),
	}, nil
}
