package gitlab_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/provider"
	glprov "github.com/byte4ever/promptops/repoflow/provider/gitlab"
)

// newFakeGitLab serves the given handler and returns a
// provider pointed at it.
func newFakeGitLab(
	tb testing.TB,
	handler http.HandlerFunc,
) *glprov.Provider {
	tb.Helper()

	srv := httptest.NewServer(handler)
	tb.Cleanup(srv.Close)

	return glprov.NewProvider(glprov.Config{
		Host: srv.URL,
	})
}

func TestNewProvider_name(t *testing.T) {
	t.Parallel()

	pv := glprov.NewProvider(glprov.Config{})

	assert.Equal(t, provider.NameGitLab, pv.Name())
}

func TestNewProvider_custom_host(t *testing.T) {
	t.Parallel()

	pv := glprov.NewProvider(glprov.Config{
		Host: "https://gl.corp.example.com",
	})

	assert.NotNil(t, pv)
}

func TestListRepositories_missing_token(t *testing.T) {
	t.Parallel()

	pv := glprov.NewProvider(glprov.Config{})

	_, err := pv.ListRepositories(
		context.Background(), "",
	)

	require.Error(t, err)
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}

func TestListBranches_missing_token(t *testing.T) {
	t.Parallel()

	pv := glprov.NewProvider(glprov.Config{})

	_, err := pv.ListBranches(
		context.Background(), "", "org/project",
	)

	require.Error(t, err)
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}

func TestCreatePullRequest_created(t *testing.T) {
	t.Parallel()

	pv := newFakeGitLab(
		t,
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)

			w.Header().Set(
				"Content-Type", "application/json",
			)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{
				"id": 4210,
				"iid": 7,
				"web_url": "https://gl/mr/7"
			}`))
		},
	)

	res, err := pv.CreatePullRequest(
		context.Background(),
		"tok",
		provider.PullRequestSpec{
			RepoFullName: "org/project",
			HeadBranch:   "feature/x",
			BaseBranch:   "main",
			Title:        "t",
		},
	)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 7, res.Number)
	assert.Equal(t, int64(4210), res.ID)
	assert.Equal(t, "https://gl/mr/7", res.URL)
}

func TestCreatePullRequest_reuses_existing(
	t *testing.T,
) {
	t.Parallel()

	pv := newFakeGitLab(
		t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(
				"Content-Type", "application/json",
			)

			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write(
					[]byte(`{"message":"exists"}`),
				)

				return
			}

			// Lookup of the open MR for the pair.
			assert.Equal(
				t,
				"feature/x",
				r.URL.Query().Get("source_branch"),
			)

			_, _ = w.Write([]byte(`[{
				"id": 4211,
				"iid": 9,
				"web_url": "https://gl/mr/9"
			}]`))
		},
	)

	res, err := pv.CreatePullRequest(
		context.Background(),
		"tok",
		provider.PullRequestSpec{
			RepoFullName: "org/project",
			HeadBranch:   "feature/x",
			BaseBranch:   "main",
			Title:        "t",
		},
	)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 9, res.Number)
	assert.Equal(t, int64(4211), res.ID)
}

func TestCreatePullRequest_conflict_not_open(
	t *testing.T,
) {
	t.Parallel()

	pv := newFakeGitLab(
		t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(
				"Content-Type", "application/json",
			)

			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write(
					[]byte(`{"message":"exists"}`),
				)

				return
			}

			_, _ = w.Write([]byte(`[]`))
		},
	)

	_, err := pv.CreatePullRequest(
		context.Background(),
		"tok",
		provider.PullRequestSpec{
			RepoFullName: "org/project",
			HeadBranch:   "feature/x",
			BaseBranch:   "main",
			Title:        "t",
		},
	)

	require.Error(t, err)
	assert.Equal(
		t, errs.KindConflict, errs.KindOf(err),
	)
}

func TestCreatePullRequest_missing_token(
	t *testing.T,
) {
	t.Parallel()

	pv := glprov.NewProvider(glprov.Config{})

	_, err := pv.CreatePullRequest(
		context.Background(),
		"",
		provider.PullRequestSpec{
			RepoFullName: "org/project",
			HeadBranch:   "feature/x",
			BaseBranch:   "main",
			Title:        "t",
		},
	)

	require.Error(t, err)
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}
