package workflow_test

import (
	"context"
	"errors"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/byte4ever/promptops/repoflow/locator"
	"github.com/byte4ever/promptops/repoflow/provider"
	"github.com/byte4ever/promptops/repoflow/registry"
	"github.com/byte4ever/promptops/repoflow/workflow"
)

// fakeProvider records pull request calls and serves canned
// listings.
type fakeProvider struct {
	repos map[string]provider.RepoInfo

	prSpecs  []provider.PullRequestSpec
	prResult *provider.PullRequestResult
	prErr    error
}

func (f *fakeProvider) Name() string {
	return "fake"
}

func (f *fakeProvider) ListRepositories(
	_ context.Context,
	_ string,
) (map[string]provider.RepoInfo, error) {
	return f.repos, nil
}

func (f *fakeProvider) ListBranches(
	_ context.Context,
	_ string,
	_ string,
) (*provider.BranchesResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) CreatePullRequest(
	_ context.Context,
	_ string,
	spec provider.PullRequestSpec,
) (*provider.PullRequestResult, error) {
	f.prSpecs = append(f.prSpecs, spec)

	if f.prErr != nil {
		return nil, f.prErr
	}

	if f.prResult != nil {
		return f.prResult, nil
	}

	return &provider.PullRequestResult{
		Created: true,
		Number:  1,
		URL:     "https://example.com/pr/1",
	}, nil
}

// fixture wires a service in organization mode against a
// local bare remote.
type fixture struct {
	svc    *workflow.Service
	store  *registry.MemoryStore
	prov   *fakeProvider
	remote string
	root   string
}

func newFixture(
	tb testing.TB,
	mutate func(*workflow.Config),
) *fixture {
	tb.Helper()

	remote := newBareRemote(tb)
	store := registry.NewMemoryStore()

	prov := &fakeProvider{
		repos: map[string]provider.RepoInfo{
			"acme/widgets": {
				Name:          "widgets",
				FullName:      "acme/widgets",
				CloneURL:      remote,
				DefaultBranch: "main",
			},
		},
	}

	loc, err := locator.New(locator.Config{
		Mode: locator.ModeOrganization,
		NewProvider: func(string) (
			provider.Provider, error,
		) {
			return prov, nil
		},
	})
	if err != nil {
		tb.Fatalf("locator: %v", err)
	}

	root := tb.TempDir()

	cfg := workflow.Config{
		Store:   store,
		Locator: loc,
		NewProvider: func(string) (
			provider.Provider, error,
		) {
			return prov, nil
		},
		ReposRoot: root,
	}

	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := workflow.New(cfg)
	if err != nil {
		tb.Fatalf("workflow: %v", err)
	}

	return &fixture{
		svc:    svc,
		store:  store,
		prov:   prov,
		remote: remote,
		root:   root,
	}
}

func principal() locator.Principal {
	return locator.Principal{
		UserID:        "u1",
		Username:      "alice",
		OAuthProvider: "fake",
		OAuthToken:    "tok",
	}
}

func saveRequest() workflow.SaveRequest {
	return workflow.SaveRequest{
		Principal:     principal(),
		RepoName:      "acme/widgets",
		RelativePath:  "prompts/greeting.yaml",
		Content:       []byte("text: hello\n"),
		CommitMessage: "add greeting prompt",
		AuthorName:    "Alice",
		AuthorEmail:   "alice@example.com",
	}
}

// remoteFileContent reads a file from the tip of a branch
// in the bare remote.
func remoteFileContent(
	tb testing.TB,
	remote string,
	branch string,
	path string,
) string {
	tb.Helper()

	return gitOut(
		tb, remote,
		"show", branch+":"+path,
	)
}

// remoteHasBranch reports whether the bare remote carries
// the branch.
func remoteHasBranch(
	tb testing.TB,
	remote string,
	branch string,
) bool {
	tb.Helper()

	out := gitOut(
		tb, remote,
		"branch", "--list", branch,
	)

	return strings.TrimSpace(out) != ""
}

// newBareRemote creates a bare repository seeded with one
// commit on main containing README.md, and returns its
// path. The bare repo stands in for the hosted remote.
func newBareRemote(tb testing.TB) string {
	tb.Helper()

	seed := filepath.Join(tb.TempDir(), "seed")
	bare := filepath.Join(tb.TempDir(), "remote.git")

	if err := os.MkdirAll(seed, 0o750); err != nil {
		tb.Fatalf("mkdir seed: %v", err)
	}

	initGitRepo(tb, seed)

	if err := os.WriteFile(
		filepath.Join(seed, "README.md"),
		[]byte("hello\n"), 0o600,
	); err != nil {
		tb.Fatalf("write seed file: %v", err)
	}

	gitCmd(tb, seed, "add", "README.md")
	gitCmd(tb, seed, "commit", "-m", "seed readme")
	gitCmd(tb, seed, "clone", "--bare", ".", bare)

	return bare
}

// pushCommitToRemote advances the remote's main branch by
// one commit adding the given file, using a throwaway
// clone.
func pushCommitToRemote(
	tb testing.TB,
	remote string,
	name string,
	content string,
) {
	tb.Helper()

	work := filepath.Join(tb.TempDir(), "pusher")

	gitCmd(tb, "", "clone", remote, work)
	configGitUser(tb, work)

	if err := os.WriteFile(
		filepath.Join(work, name),
		[]byte(content), 0o600,
	); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}

	gitCmd(tb, work, "add", name)
	gitCmd(tb, work, "commit", "-m", "advance "+name)
	gitCmd(tb, work, "push", "origin", "main")
}

// initGitRepo creates a git repository with one initial
// commit. Git hooks are disabled to avoid interference
// from pre-commit hooks.
func initGitRepo(tb testing.TB, dir string) {
	tb.Helper()

	gitCmd(tb, dir, "init", "-b", "main")
	configGitUser(tb, dir)
	gitCmd(
		tb, dir,
		"commit", "--allow-empty", "-m", "initial",
	)
}

// configGitUser sets a commit identity and disables hooks
// in the repository at dir.
func configGitUser(tb testing.TB, dir string) {
	tb.Helper()

	cmds := [][]string{
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test"},
		// Disable hooks so pre-commit scanners do not
		// interfere with tests.
		{"config", "core.hooksPath", "/dev/null"},
	}

	for _, args := range cmds {
		gitCmd(tb, dir, args...)
	}
}

// gitCmd runs a git command in the given directory.
func gitCmd(
	tb testing.TB,
	dir string,
	args ...string,
) {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}
}

// gitOut runs a git command and returns its output.
func gitOut(
	tb testing.TB,
	dir string,
	args ...string,
) string {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}

	return string(out)
}
