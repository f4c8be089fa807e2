// Package gitlab implements the provider capability set
// for GitLab (gitlab.com or self-hosted).
package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/provider"
)

// listPageSize is the page size used for all listing
// calls.
const listPageSize = 100

// Config holds the settings needed to create a GitLab
// provider.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com"). Empty defaults to
	// gitlab.com.
	Host string
}

// Provider talks to GitLab. Merge requests are surfaced
// through the pull request vocabulary of the capability
// interface.
//
// Pattern: Strategy -- implements provider.Provider.
type Provider struct {
	host string
}

// NewProvider returns a Provider ready to serve calls.
// Tokens are passed per call, not here.
func NewProvider(cfg Config) *Provider {
	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	return &Provider{host: host}
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return provider.NameGitLab
}

// client builds an authenticated client for one call.
func (p *Provider) client(
	token string,
) (*gl.Client, error) {
	const errCtx = "creating gitlab client"

	if token == "" {
		return nil, errs.Ef(
			errs.KindAuth,
			"%s: access token must be set", errCtx,
		)
	}

	client, err := gl.NewClient(
		token, gl.WithBaseURL(p.host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return client, nil
}

// ListRepositories returns every project the token's
// principal is a member of, deduplicated by full path.
func (p *Provider) ListRepositories(
	ctx context.Context,
	token string,
) (map[string]provider.RepoInfo, error) {
	const errCtx = "listing gitlab projects"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	repos := make(map[string]provider.RepoInfo)

	opts := &gl.ListProjectsOptions{
		Membership: gl.Ptr(true),
		Statistics: gl.Ptr(true),
		ListOptions: gl.ListOptions{
			PerPage: listPageSize,
		},
	}

	for {
		page, resp, err := client.Projects.ListProjects(
			opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, classify(resp, err, errCtx)
		}

		for _, pr := range page {
			info := repoInfo(pr)
			repos[info.FullName] = info
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	slog.Debug(
		"listed gitlab projects",
		"count", len(repos),
	)

	return repos, nil
}

// ListBranches returns the ordered branch list plus the
// default branch of the project.
func (p *Provider) ListBranches(
	ctx context.Context,
	token string,
	repoFullName string,
) (*provider.BranchesResponse, error) {
	const errCtx = "listing gitlab branches"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	out := &provider.BranchesResponse{}

	opts := &gl.ListBranchesOptions{
		ListOptions: gl.ListOptions{
			PerPage: listPageSize,
		},
	}

	for {
		page, resp, err := client.Branches.ListBranches(
			repoFullName, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, classify(resp, err, errCtx)
		}

		for _, br := range page {
			out.Branches = append(
				out.Branches,
				provider.BranchInfo{
					Name:    br.Name,
					Default: br.Default,
				},
			)

			if br.Default {
				out.Default = br.Name
			}
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return out, nil
}

// CreatePullRequest opens a merge request from head into
// base. If one already exists (HTTP 409) the existing open
// MR is looked up and returned.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	token string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "creating gitlab merge request"

	client, err := p.client(token)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	title := spec.Title
	if spec.Draft {
		// GitLab marks drafts via the title prefix.
		title = "Draft: " + title
	}

	opts := &gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(title),
		SourceBranch: gl.Ptr(spec.HeadBranch),
		TargetBranch: gl.Ptr(spec.BaseBranch),
	}

	created, resp, err :=
		client.MergeRequests.CreateMergeRequest(
			spec.RepoFullName,
			opts,
			gl.WithContext(ctx),
		)
	if err == nil {
		slog.Info(
			"created merge request",
			"url", created.WebURL,
		)

		return &provider.PullRequestResult{
			Created: true,
			Number:  int(created.IID),
			ID:      int64(created.ID),
			URL:     created.WebURL,
		}, nil
	}

	// HTTP 409: a MR already exists for this source
	// branch. Look it up and reuse it.
	if resp != nil &&
		resp.StatusCode == http.StatusConflict {
		return p.findExisting(ctx, client, spec)
	}

	return nil, classify(resp, err, errCtx)
}

// findExisting locates the open MR for the head/base
// pair. A pair that triggered 409 but has no reusable open
// MR is a conflict.
func (p *Provider) findExisting(
	ctx context.Context,
	client *gl.Client,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "looking up existing merge request"

	list, resp, err :=
		client.MergeRequests.ListProjectMergeRequests(
			spec.RepoFullName,
			&gl.ListProjectMergeRequestsOptions{
				SourceBranch: gl.Ptr(spec.HeadBranch),
				TargetBranch: gl.Ptr(spec.BaseBranch),
				State:        gl.Ptr("opened"),
			},
			gl.WithContext(ctx),
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
		"reusing existing merge request",
		"url", existing.WebURL,
	)

	return &provider.PullRequestResult{
		Created: false,
		Number:  int(existing.IID),
		ID:      int64(existing.ID),
		URL:     existing.WebURL,
	}, nil
}

// repoInfo maps a GitLab project to the provider value
// type.
func repoInfo(pr *gl.Project) provider.RepoInfo {
	var updated time.Time
	if pr.LastActivityAt != nil {
		updated = *pr.LastActivityAt
	}

	var sizeKB int
	if pr.Statistics != nil {
		sizeKB = int(
			pr.Statistics.RepositorySize / 1024,
		)
	}

	owner := ""
	if pr.Namespace != nil {
		owner = pr.Namespace.FullPath
	}

	return provider.RepoInfo{
		Name:          pr.Path,
		FullName:      pr.PathWithNamespace,
		CloneURL:      pr.HTTPURLToRepo,
		DefaultBranch: pr.DefaultBranch,
		Owner:         owner,
		Private: pr.Visibility !=
			gl.PublicVisibility,
		SizeKB:    sizeKB,
		UpdatedAt: updated,
	}
}

// classify maps a gitlab client failure to a stable error
// kind.
func classify(
	resp *gl.Response,
	err error,
	errCtx string,
) error {
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
		case http.StatusTooManyRequests:
			return errs.E(
				errs.KindProvider,
				errCtx,
				&provider.RateLimitError{Err: err},
			)
		}
	}

	return errs.E(errs.KindProvider, errCtx, err)
}
