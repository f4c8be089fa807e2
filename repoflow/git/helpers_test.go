package git_test

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"testing"
)

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

// writeTreeFile writes content under the working tree,
// creating parent directories as needed.
func writeTreeFile(
	tb testing.TB,
	dir string,
	rel string,
	content string,
) {
	tb.Helper()

	full := filepath.Join(dir, rel)

	if err := os.MkdirAll(
		filepath.Dir(full), 0o750,
	); err != nil {
		tb.Fatalf("mkdir for %s: %v", rel, err)
	}

	if err := os.WriteFile(
		full, []byte(content), 0o600,
	); err != nil {
		tb.Fatalf("write %s: %v", rel, err)
	}
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
