// Package github implements the provider capability set
// for GitHub and GitHub Enterprise.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/provider"
)

// listPageSize is the page size used for all listing
// calls.
const listPageSize = 100

// Config holds the settings needed to create a GitHub
// provider.
type Config struct {
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
}

// Provider talks to GitHub.
//
// Pattern: Strategy -- implements provider.Provider.
type Provider struct {
	enterpriseHost string
}

// NewProvider returns a Provider ready to serve calls.
// Tokens are passed per call, not here.
func NewProvider(cfg Config) *Provider {
	return &Provider{
		enterpriseHost: cfg.EnterpriseHost,
	}
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return provider.NameGitHub
}

// client builds an authenticated client for one call.
// Clients are cheap and tokens must never outlive a call.
func (p *Provider) client(
	token string,
) (*gh.Client, error) {
	const errCtx = "creating github client"

	if token == "" {
		return nil, errs.Ef(
			errs.KindAuth,
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).WithAuthToken(token)

	if p.enterpriseHost != "" {
		baseURL := "https://" +
			p.enterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			p.enterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return client, nil
}

// ListRepositories returns every repository the token's
// principal can access, deduplicated by full name.
func (p *Provider) ListRepositories(
	ctx context.Context,
	token string,
) (map[string]provider.RepoInfo, error) {
	const errCtx = "listing github repositories"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	repos := make(map[string]provider.RepoInfo)

	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		ListOptions: gh.ListOptions{
			PerPage: listPageSize,
		},
	}

	for {
		page, resp, err :=
			client.Repositories.ListByAuthenticatedUser(
				ctx, opts,
			)
		if err != nil {
			return nil, classify(resp, err, errCtx)
		}

		for _, r := range page {
			info := repoInfo(r)
			repos[info.FullName] = info
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	slog.Debug(
		"listed github repositories",
		"count", len(repos),
	)

	return repos, nil
}

// ListBranches returns the ordered branch list plus the
// default branch of the repository.
func (p *Provider) ListBranches(
	ctx context.Context,
	token string,
	repoFullName string,
) (*provider.BranchesResponse, error) {
	const errCtx = "listing github branches"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	owner, name, err := splitFullName(repoFullName)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	repo, resp, err := client.Repositories.Get(
		ctx, owner, name,
	)
	if err != nil {
		return nil, classify(resp, err, errCtx)
	}

	defaultBranch := repo.GetDefaultBranch()

	out := &provider.BranchesResponse{
		Default: defaultBranch,
	}

	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{
			PerPage: listPageSize,
		},
	}

	for {
		page, resp, err :=
			client.Repositories.ListBranches(
				ctx, owner, name, opts,
			)
		if err != nil {
			return nil, classify(resp, err, errCtx)
		}

		for _, br := range page {
			out.Branches = append(
				out.Branches,
				provider.BranchInfo{
					Name: br.GetName(),
					Default: br.GetName() ==
						defaultBranch,
				},
			)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return out, nil
}

// CreatePullRequest opens a pull request from head into
// base. If one already exists for that pair (HTTP 422) the
// existing PR is looked up and returned.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	token string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "creating github pull request"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	owner, name, err := splitFullName(
		spec.RepoFullName,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	pr := &gh.NewPullRequest{
		Title: gh.Ptr(spec.Title),
		Head:  gh.Ptr(spec.HeadBranch),
		Base:  gh.Ptr(spec.BaseBranch),
		Draft: gh.Ptr(spec.Draft),
	}

	created, resp, err := client.PullRequests.Create(
		ctx, owner, name, pr,
	)
	if err == nil {
		slog.Info(
			"created pull request",
			"url", created.GetHTMLURL(),
		)

		return &provider.PullRequestResult{
			Created: true,
			Number:  created.GetNumber(),
			ID:      created.GetID(),
			URL:     created.GetHTMLURL(),
		}, nil
	}

	// HTTP 422: a PR already exists for this head/base
	// pair. Look it up and reuse it.
	if resp != nil &&
		resp.StatusCode ==
			http.StatusUnprocessableEntity {
		return p.findExisting(
			ctx, client, owner, name, spec,
		)
	}

	return nil, classify(resp, err, errCtx)
}

// findExisting locates the open PR for the head/base pair.
// A pair that triggered 422 but has no reusable open PR is
// a conflict (e.g. the PR was closed).
func (p *Provider) findExisting(
	ctx context.Context,
	client *gh.Client,
	owner string,
	name string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "looking up existing pull request"

	list, resp, err := client.PullRequests.List(
		ctx, owner, name,
		&gh.PullRequestListOptions{
			State: "open",
			Head:  owner + ":" + spec.HeadBranch,
			Base:  spec.BaseBranch,
		},
	)
	if err != nil {
		return nil, classify(resp, err, errCtx)
	}

	if len(list) == 0 {
		return nil, errs.Ef(
			errs.KindConflict,
			"%s: %s -> %s exists but is not open",
			errCtx,
			spec.HeadBranch,
			spec.BaseBranch,
		)
	}

	existing := list[0]

	slog.Info(
		"reusing existing pull request",
		"url", existing.GetHTMLURL(),
	)

	return &provider.PullRequestResult{
		Created: false,
		Number:  existing.GetNumber(),
		ID:      existing.GetID(),
		URL:     existing.GetHTMLURL(),
	}, nil
}

// repoInfo maps a GitHub repository to the provider value
// type.
func repoInfo(r *gh.Repository) provider.RepoInfo {
	var updated time.Time
	if ts := r.GetUpdatedAt(); !ts.IsZero() {
		updated = ts.Time
	}

	return provider.RepoInfo{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Owner:         r.GetOwner().GetLogin(),
		Private:       r.GetPrivate(),
		SizeKB:        r.GetSize(),
		UpdatedAt:     updated,
	}
}

// classify maps a go-github failure to a stable error
// kind.
func classify(
	resp *gh.Response,
	err error,
	errCtx string,
) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return errs.E(
			errs.KindProvider,
			errCtx,
			&provider.RateLimitError{
				RetryAfter: time.Until(
					rateErr.Rate.Reset.Time,
				),
				Err: err,
			},
		)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := time.Duration(0)
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}

		return errs.E(
			errs.KindProvider,
			errCtx,
			&provider.RateLimitError{
				RetryAfter: retryAfter,
				Err:        err,
			},
		)
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errs.E(
				errs.KindAuth, errCtx, err,
			)
		case http.StatusNotFound:
			return errs.E(
				errs.KindNotFound, errCtx, err,
			)
		}
	}

	return errs.E(errs.KindProvider, errCtx, err)
}

// splitFullName splits "owner/name" into its parts.
func splitFullName(
	fullName string,
) (string, string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", errs.Ef(
			errs.KindInvalidArgument,
			"repository name %q is not owner/name",
			fullName,
		)
	}

	return owner, name, nil
}
