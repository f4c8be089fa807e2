// Package provider defines the capability interface every
// git hosting platform adapter implements: list accessible
// repositories, list branches, and create pull requests.
//
// Pattern: Strategy -- swap git platform without changing
// workflow logic. The set of variants is closed (github,
// gitlab, bitbucket); adding a platform means adding a
// variant behind New, not modifying callers.
package provider

import (
	"context"
	"time"
)

// Platform identifiers accepted by New and recorded on
// repository records.
const (
	NameGitHub    = "github"
	NameGitLab    = "gitlab"
	NameBitbucket = "bitbucket"
)

// RepoInfo describes one repository accessible to a
// token's principal.
type RepoInfo struct {
	// Name is the repository name without owner.
	Name string
	// FullName is the canonical "owner/name" form.
	FullName string
	// CloneURL is the HTTPS clone URL.
	CloneURL string
	// DefaultBranch is the repository default branch.
	DefaultBranch string
	// Owner is the owning user or organisation.
	Owner string
	// Private reports restricted visibility.
	Private bool
	// SizeKB is the repository size in kilobytes, zero
	// when the platform does not report it.
	SizeKB int
	// UpdatedAt is the last update timestamp, zero when
	// the platform does not report it.
	UpdatedAt time.Time
}

// BranchInfo is one branch in a listing.
type BranchInfo struct {
	// Name is the branch name.
	Name string
	// Default marks the repository default branch.
	Default bool
}

// BranchesResponse is an ordered branch listing. Order is
// as returned by the platform; no re-sorting.
type BranchesResponse struct {
	// Branches in platform order.
	Branches []BranchInfo
	// Default is the default branch name.
	Default string
}

// PullRequestSpec describes the pull request to open.
type PullRequestSpec struct {
	// RepoFullName is the "owner/name" repository.
	RepoFullName string
	// HeadBranch is the branch holding the change.
	HeadBranch string
	// BaseBranch is the branch to merge into.
	BaseBranch string
	// Title is the pull request title.
	Title string
	// Draft opens the PR as a draft where supported.
	Draft bool
}

// PullRequestResult reports the outcome of a pull request
// creation. When an open PR already exists for the same
// head/base pair it is returned with Created=false, so
// creation is idempotent from the caller's perspective.
type PullRequestResult struct {
	// Created is false when an existing PR was reused.
	Created bool
	// Number is the user-facing PR number.
	Number int
	// ID is the platform-internal PR id.
	ID int64
	// URL is the web URL of the PR.
	URL string
}

// Factory builds the adapter for a platform identifier.
// Pattern: Factory -- selects platform implementation at
// runtime.
type Factory func(name string) (Provider, error)

// Provider is the capability set of one hosting platform.
// The OAuth token is accepted per call and never cached by
// the adapter. Adapters classify failures via errs kinds
// and never retry internally.
type Provider interface {
	// Name returns the platform identifier.
	Name() string

	// ListRepositories returns every repository the
	// token's principal can access, deduplicated by
	// canonical full name.
	ListRepositories(
		ctx context.Context,
		token string,
	) (map[string]RepoInfo, error)

	// ListBranches returns the ordered branch list of
	// the repository plus which branch is default.
	ListBranches(
		ctx context.Context,
		token string,
		repoFullName string,
	) (*BranchesResponse, error)

	// CreatePullRequest opens a PR from head to base, or
	// returns the existing open PR for that pair.
	CreatePullRequest(
		ctx context.Context,
		token string,
		spec PullRequestSpec,
	) (*PullRequestResult, error)
}
