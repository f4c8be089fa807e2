// Package bitbucket implements the provider capability
// set for Bitbucket Server over its REST API.
package bitbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/provider"
)

// listPageSize is the page size used for all listing
// calls.
const listPageSize = 100

// Config holds the settings needed to create a Bitbucket
// Server provider.
type Config struct {
	// BaseURL is the REST API root, e.g.
	// "https://bb.example.com/rest/api/1.0".
	BaseURL string
	// Username is the Bitbucket API username paired with
	// the per-call token (password or personal access
	// token).
	Username string
}

// Provider talks to Bitbucket Server.
//
// Pattern: Strategy -- implements provider.Provider.
type Provider struct {
	baseURL  string
	username string
	client   *http.Client
}

// NewProvider validates cfg and returns a Provider ready
// to serve calls. Tokens are passed per call, not here.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating bitbucket provider"

	if cfg.BaseURL == "" {
		return nil, errs.Ef(
			errs.KindInvalidArgument,
			"%s: base url must be set", errCtx,
		)
	}

	if cfg.Username == "" {
		return nil, errs.Ef(
			errs.KindInvalidArgument,
			"%s: username must be set", errCtx,
		)
	}

	return &Provider{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		client:   http.DefaultClient,
	}, nil
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return provider.NameBitbucket
}

// Wire types for the Bitbucket Server REST payloads.

type pagedResponse struct {
	Values        json.RawMessage `json:"values"`
	IsLastPage    bool            `json:"isLastPage"`
	NextPageStart int             `json:"nextPageStart"`
}

type repoResponse struct {
	Slug    string      `json:"slug"`
	Name    string      `json:"name"`
	Public  bool        `json:"public"`
	Project projectRef  `json:"project"`
	Links   linksObject `json:"links"`
}

type projectRef struct {
	Key string `json:"key,omitempty"`
}

type linksObject struct {
	Clone []cloneLink `json:"clone"`
	Self  []selfLink  `json:"self"`
}

type cloneLink struct {
	Href string `json:"href"`
	Name string `json:"name"`
}

type selfLink struct {
	Href string `json:"href"`
}

type branchResponse struct {
	DisplayID string `json:"displayId"`
	IsDefault bool   `json:"isDefault"`
}

type repositoryRef struct {
	Slug    string     `json:"slug,omitempty"`
	Project projectRef `json:"project"`
}

type pullRequestRef struct {
	ID         string        `json:"id,omitempty"`
	Repository repositoryRef `json:"repository,omitempty"`
}

type pullRequestBody struct {
	Title   string          `json:"title,omitempty"`
	State   string          `json:"state,omitempty"`
	Open    bool            `json:"open"`
	Closed  bool            `json:"closed"`
	FromRef *pullRequestRef `json:"fromRef,omitempty"`
	ToRef   *pullRequestRef `json:"toRef,omitempty"`
	Locked  bool            `json:"locked"`
}

type pullRequestResponse struct {
	ID      int64           `json:"id"`
	State   string          `json:"state"`
	FromRef *pullRequestRef `json:"fromRef"`
	ToRef   *pullRequestRef `json:"toRef"`
	Links   linksObject     `json:"links"`
}

// ListRepositories returns every repository the token's
// principal can read, deduplicated by "PROJECT/slug" full
// name.
func (p *Provider) ListRepositories(
	ctx context.Context,
	token string,
) (map[string]provider.RepoInfo, error) {
	const errCtx = "listing bitbucket repositories"

	repos := make(map[string]provider.RepoInfo)

	start := 0

	for {
		url := fmt.Sprintf(
			"%s/repos?permission=REPO_READ"+
				"&limit=%d&start=%d",
			p.baseURL, listPageSize, start,
		)

		var page pagedResponse

		if err := p.doJSON(
			ctx, token,
			http.MethodGet, url, nil, &page,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		var values []repoResponse

		if err := json.Unmarshal(
			page.Values, &values,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: parse values: %w", errCtx, err,
			)
		}

		for _, r := range values {
			info := p.repoInfo(ctx, token, r)
			repos[info.FullName] = info
		}

		if page.IsLastPage {
			break
		}

		start = page.NextPageStart
	}

	slog.Debug(
		"listed bitbucket repositories",
		"count", len(repos),
	)

	return repos, nil
}

// repoInfo maps a repository payload to the provider value
// type. The default branch costs one extra call; a failure
// there leaves the field empty rather than failing the
// whole listing.
func (p *Provider) repoInfo(
	ctx context.Context,
	token string,
	r repoResponse,
) provider.RepoInfo {
	cloneURL := ""

	for _, cl := range r.Links.Clone {
		if cl.Name == "http" || cl.Name == "https" {
			cloneURL = cl.Href

			break
		}
	}

	defaultBranch := ""

	var br branchResponse

	url := fmt.Sprintf(
		"%s/projects/%s/repos/%s/default-branch",
		p.baseURL, r.Project.Key, r.Slug,
	)

	if err := p.doJSON(
		ctx, token, http.MethodGet, url, nil, &br,
	); err == nil {
		defaultBranch = br.DisplayID
	}

	return provider.RepoInfo{
		Name: r.Slug,
		FullName: r.Project.Key +
			"/" + r.Slug,
		CloneURL:      cloneURL,
		DefaultBranch: defaultBranch,
		Owner:         r.Project.Key,
		Private:       !r.Public,
	}
}

// ListBranches returns the ordered branch list plus the
// default branch of the repository.
func (p *Provider) ListBranches(
	ctx context.Context,
	token string,
	repoFullName string,
) (*provider.BranchesResponse, error) {
	const errCtx = "listing bitbucket branches"

	project, slug, err := splitFullName(repoFullName)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	out := &provider.BranchesResponse{}

	start := 0

	for {
		url := fmt.Sprintf(
			"%s/projects/%s/repos/%s/branches"+
				"?limit=%d&start=%d",
			p.baseURL, project, slug,
			listPageSize, start,
		)

		var page pagedResponse

		if err := p.doJSON(
			ctx, token,
			http.MethodGet, url, nil, &page,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		var values []branchResponse

		if err := json.Unmarshal(
			page.Values, &values,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: parse values: %w", errCtx, err,
			)
		}

		for _, br := range values {
			out.Branches = append(
				out.Branches,
				provider.BranchInfo{
					Name:    br.DisplayID,
					Default: br.IsDefault,
				},
			)

			if br.IsDefault {
				out.Default = br.DisplayID
			}
		}

		if page.IsLastPage {
			break
		}

		start = page.NextPageStart
	}

	return out, nil
}

// CreatePullRequest opens a pull request from head into
// base. If one already exists (HTTP 409) the existing open
// PR is looked up and returned. Bitbucket Server has no
// draft state; the flag is ignored.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	token string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "creating bitbucket pull request"

	project, slug, err := splitFullName(
		spec.RepoFullName,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	repoRef := repositoryRef{
		Slug:    slug,
		Project: projectRef{Key: project},
	}

	body := pullRequestBody{
		Title:  spec.Title,
		State:  "OPEN",
		Open:   true,
		Closed: false,
		FromRef: &pullRequestRef{
			ID: "refs/heads/" + spec.HeadBranch,
			Repository: repoRef,
		},
		ToRef: &pullRequestRef{
			ID: "refs/heads/" + spec.BaseBranch,
			Repository: repoRef,
		},
		Locked: false,
	}

	url := fmt.Sprintf(
		"%s/projects/%s/repos/%s/pull-requests",
		p.baseURL, project, slug,
	)

	var created pullRequestResponse

	err = p.doJSON(
		ctx, token,
		http.MethodPost, url, &body, &created,
	)
	if err == nil {
		webURL := ""
		if len(created.Links.Self) > 0 {
			webURL = created.Links.Self[0].Href
		}

		slog.Info(
			"created pull request",
			"url", webURL,
		)

		return &provider.PullRequestResult{
			Created: true,
			Number:  int(created.ID),
			ID:      created.ID,
			URL:     webURL,
		}, nil
	}

	// HTTP 409: a PR already exists for this head/base
	// pair. Look it up and reuse it.
	if errs.KindOf(err) == errs.KindConflict {
		return p.findExisting(
			ctx, token, project, slug, spec,
		)
	}

	return nil, fmt.Errorf("%s: %w", errCtx, err)
}

// findExisting locates the open PR for the head/base
// pair. A pair that triggered 409 but has no reusable open
// PR is a conflict.
func (p *Provider) findExisting(
	ctx context.Context,
	token string,
	project string,
	slug string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	const errCtx = "looking up existing pull request"

	url := fmt.Sprintf(
		"%s/projects/%s/repos/%s/pull-requests"+
			"?state=OPEN&direction=OUTGOING"+
			"&at=refs/heads/%s",
		p.baseURL, project, slug, spec.HeadBranch,
	)

	var page pagedResponse

	if err := p.doJSON(
		ctx, token, http.MethodGet, url, nil, &page,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var values []pullRequestResponse

	if err := json.Unmarshal(
		page.Values, &values,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: parse values: %w", errCtx, err,
		)
	}

	target := "refs/heads/" + spec.BaseBranch

	for _, pr := range values {
		if pr.ToRef == nil || pr.ToRef.ID != target {
			continue
		}

		webURL := ""
		if len(pr.Links.Self) > 0 {
			webURL = pr.Links.Self[0].Href
		}

		slog.Info(
			"reusing existing pull request",
			"url", webURL,
		)

		return &provider.PullRequestResult{
			Created: false,
			Number:  int(pr.ID),
			ID:      pr.ID,
			URL:     webURL,
		}, nil
	}

	return nil, errs.Ef(
		errs.KindConflict,
		"%s: %s -> %s exists but is not open",
		errCtx, spec.HeadBranch, spec.BaseBranch,
	)
}

// doJSON performs one authenticated REST call, decoding a
// 2xx response into out. Non-2xx statuses map to stable
// error kinds.
func (p *Provider) doJSON(
	ctx context.Context,
	token string,
	method string,
	url string,
	in any,
	out any,
) error {
	const errCtx = "calling bitbucket api"

	if token == "" {
		return errs.Ef(
			errs.KindAuth,
			"%s: access token must be set", errCtx,
		)
	}

	var reqBody io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf(
				"%s: marshal request: %w",
				errCtx, err,
			)
		}

		reqBody = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, url, reqBody,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)
	req.SetBasicAuth(p.username, token)

	resp, err := p.client.Do(req)
	if err != nil {
		return errs.E(
			errs.KindProvider,
			errCtx+": send request",
			err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf(
			"%s: read response: %w", errCtx, err,
		)
	}

	switch {
	case resp.StatusCode >= 200 &&
		resp.StatusCode < 300:
		if out == nil || len(rb) == 0 {
			return nil
		}

		if err := json.Unmarshal(rb, out); err != nil {
			return fmt.Errorf(
				"%s: parse response: %w",
				errCtx, err,
			)
		}

		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		return errs.Ef(
			errs.KindAuth,
			"%s: status %d", errCtx, resp.StatusCode,
		)

	case resp.StatusCode == http.StatusNotFound:
		return errs.Ef(
			errs.KindNotFound,
			"%s: status %d", errCtx, resp.StatusCode,
		)

	case resp.StatusCode == http.StatusConflict:
		return errs.Ef(
			errs.KindConflict,
			"%s: status %d", errCtx, resp.StatusCode,
		)

	case resp.StatusCode ==
		http.StatusTooManyRequests:
		return errs.E(
			errs.KindProvider,
			errCtx,
			&provider.RateLimitError{
				Err: fmt.Errorf(
					"status %d", resp.StatusCode,
				),
			},
		)

	default:
		slog.Warn(
			"bitbucket error response",
			"status", resp.Status,
			"body", string(rb),
		)

		return errs.Ef(
			errs.KindProvider,
			"%s: unexpected status %d",
			errCtx, resp.StatusCode,
		)
	}
}

// splitFullName splits "PROJECT/slug" into its parts.
func splitFullName(
	fullName string,
) (string, string, error) {
	project, slug, ok := strings.Cut(fullName, "/")
	if !ok || project == "" || slug == "" {
		return "", "", errs.Ef(
			errs.KindInvalidArgument,
			"repository name %q is not PROJECT/slug",
			fullName,
		)
	}

	return project, slug, nil
}
