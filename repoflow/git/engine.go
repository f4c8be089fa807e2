package git

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/exec"
)

// remoteName is the single upstream remote every working
// tree tracks.
const remoteName = "origin"

// Credentials authenticate one remote operation. They are
// accepted per call and never persisted, since tokens may
// be rotated or belong to different users sharing a
// workflow instance.
type Credentials struct {
	// Username is the remote account name. Empty falls
	// back to "oauth2", which the hosted providers accept
	// for token auth over HTTPS.
	Username string
	// Token is the OAuth access token or password.
	Token string
}

// Engine mutates exactly one working tree. Side effects
// are confined to Dir and its git metadata.
type Engine struct {
	// Dir is the filesystem location of the working tree.
	Dir string
	// RemoteURL is the plain (credential-free) clone URL.
	// Empty for pre-existing local trees; remote
	// operations then go through the tree's configured
	// origin remote.
	RemoteURL string
}

// NewEngine returns an engine scoped to the working tree
// at dir with the given remote URL.
func NewEngine(dir string, remoteURL string) *Engine {
	return &Engine{Dir: dir, RemoteURL: remoteURL}
}

// Clone materializes the remote repository at dir, checked
// out exactly at the tip of branch. The clone's recorded
// remote URL is rewritten to the credential-free form so
// the token never lands on disk.
func (e *Engine) Clone(
	ctx context.Context,
	branch string,
	creds Credentials,
) error {
	const errCtx = "cloning repository"

	if branch == "" {
		return errs.Ef(
			errs.KindInvalidArgument,
			"%s: branch must be set", errCtx,
		)
	}

	if e.RemoteURL == "" {
		return errs.Ef(
			errs.KindInvalidArgument,
			"%s: remote url must be set", errCtx,
		)
	}

	if err := os.RemoveAll(e.Dir); err != nil {
		return fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	authURL, err := authenticatedURL(
		e.RemoteURL, creds,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info(
		"cloning repository",
		"url", e.RemoteURL,
		"branch", branch,
		"dir", e.Dir,
	)

	out, err := exec.Ex(
		ctx, "",
		"git", "clone",
		"--single-branch",
		"--branch", branch,
		"--no-tags",
		"--origin", remoteName,
		authURL, e.Dir,
	)
	if err != nil {
		kind := classifyRemoteFailure(
			out, errs.KindClone,
		)

		return errs.E(
			kind,
			fmt.Sprintf(
				"%s %s at %s",
				errCtx, e.RemoteURL, branch,
			),
			err,
		)
	}

	// Strip credentials from the recorded remote.
	if _, err := exec.Ex(
		ctx, e.Dir,
		"git", "remote", "set-url",
		remoteName, e.RemoteURL,
	); err != nil {
		return fmt.Errorf(
			"%s: reset remote url: %w", errCtx, err,
		)
	}

	return nil
}

// FetchAndResetToRemote discards all local modifications
// and untracked files, fetches branch, and hard-resets the
// working tree to the remote tip. Safe to call repeatedly:
// the end state is always the remote tip of branch.
func (e *Engine) FetchAndResetToRemote(
	ctx context.Context,
	branch string,
	creds Credentials,
) error {
	const errCtx = "resetting to remote"

	target, err := e.remoteTarget(creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	refspec := fmt.Sprintf(
		"+refs/heads/%s:refs/remotes/%s/%s",
		branch, remoteName, branch,
	)

	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "fetch", "--no-tags",
		target, refspec,
	)
	if err != nil {
		kind := classifyRemoteFailure(
			out, errs.KindClone,
		)

		return errs.E(
			kind,
			fmt.Sprintf("%s: fetch %s", errCtx, branch),
			err,
		)
	}

	steps := [][]string{
		{"checkout", "-f", branch},
		{
			"reset", "--hard",
			remoteName + "/" + branch,
		},
		{"clean", "-fd"},
	}

	for _, args := range steps {
		if _, err := exec.Ex(
			ctx, e.Dir, "git", args...,
		); err != nil {
			return fmt.Errorf(
				"%s: git %s: %w",
				errCtx,
				strings.Join(args, " "),
				err,
			)
		}
	}

	return nil
}

// CommitAndPush stages exactly the given paths, commits
// them with the given identity, and pushes the current
// branch to the remote. Returns ErrNothingToCommit
// (wrapped, KindCommit) when staging produced no change
// and a PushError on push failure.
func (e *Engine) CommitAndPush(
	ctx context.Context,
	paths []string,
	message string,
	authorName string,
	authorEmail string,
	creds Credentials,
) error {
	const errCtx = "committing and pushing"

	if len(paths) == 0 {
		return errs.Ef(
			errs.KindInvalidArgument,
			"%s: no paths given", errCtx,
		)
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := exec.Ex(
		ctx, e.Dir, "git", addArgs...,
	); err != nil {
		return errs.E(
			errs.KindCommit,
			errCtx+": stage paths",
			err,
		)
	}

	// diff --cached --quiet exits zero when the index
	// matches HEAD, i.e. there is nothing to commit.
	if _, err := exec.Ex(
		ctx, e.Dir,
		"git", "diff", "--cached", "--quiet",
	); err == nil {
		return errs.E(
			errs.KindCommit,
			errCtx,
			ErrNothingToCommit,
		)
	}

	author := fmt.Sprintf(
		"%s <%s>", authorName, authorEmail,
	)

	if _, err := exec.Ex(
		ctx, e.Dir,
		"git",
		"-c", "user.name="+authorName,
		"-c", "user.email="+authorEmail,
		"commit",
		"-m", message,
		"--author", author,
	); err != nil {
		return errs.E(errs.KindCommit, errCtx, err)
	}

	branch, err := e.currentBranch(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return e.push(ctx, branch, creds)
}

// push pushes the local branch tip to the same-named
// remote branch. Never forces.
func (e *Engine) push(
	ctx context.Context,
	branch string,
	creds Credentials,
) error {
	const errCtx = "pushing branch"

	target, err := e.remoteTarget(creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "push",
		target,
		"HEAD:refs/heads/"+branch,
	)
	if err == nil {
		// Keep the remote-tracking ref in step so ahead
		// counts stay accurate.
		_, _ = exec.Ex( //nolint:errcheck // best effort
			ctx, e.Dir,
			"git", "update-ref",
			fmt.Sprintf(
				"refs/remotes/%s/%s",
				remoteName, branch,
			),
			"HEAD",
		)

		return nil
	}

	if isNonFastForwardOutput(out) {
		return errs.E(
			errs.KindPush,
			errCtx+" "+branch,
			&PushError{
				NonFastForward: true,
				Output:         out,
				Err:            err,
			},
		)
	}

	kind := classifyRemoteFailure(out, errs.KindPush)

	return errs.E(
		kind,
		errCtx+" "+branch,
		&PushError{Output: out, Err: err},
	)
}

// SwitchToBranch switches to branch, creating it from base
// if it does not exist locally. Returns true when the
// branch was newly created.
func (e *Engine) SwitchToBranch(
	ctx context.Context,
	branch string,
	base string,
) (bool, error) {
	const errCtx = "switching branch"

	if _, err := exec.Ex(
		ctx, e.Dir, "git", "checkout", branch,
	); err == nil {
		return false, nil
	}

	if _, err := exec.Ex(
		ctx, e.Dir, "git", "branch", branch, base,
	); err != nil {
		return false, fmt.Errorf(
			"%s: create %s: %w", errCtx, branch, err,
		)
	}

	if _, err := exec.Ex(
		ctx, e.Dir, "git", "checkout", branch,
	); err != nil {
		return false, fmt.Errorf(
			"%s: checkout %s: %w", errCtx, branch, err,
		)
	}

	return true, nil
}

// Clean removes the working tree directory.
func (e *Engine) Clean() error {
	const errCtx = "cleaning working tree"

	if err := os.RemoveAll(e.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// currentBranch returns the checked-out branch name.
func (e *Engine) currentBranch(
	ctx context.Context,
) (string, error) {
	const errCtx = "resolving current branch"

	out, err := exec.Ex(
		ctx, e.Dir,
		"git", "rev-parse", "--abbrev-ref", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return strings.TrimSpace(out), nil
}

// remoteTarget resolves the fetch/push target: the remote
// URL with per-call credentials embedded, or the configured
// origin remote when no URL is recorded.
func (e *Engine) remoteTarget(
	creds Credentials,
) (string, error) {
	if e.RemoteURL == "" {
		return remoteName, nil
	}

	return authenticatedURL(e.RemoteURL, creds)
}

// authenticatedURL embeds creds into an http(s) remote
// URL for one invocation. Non-HTTP remotes (ssh, local
// paths) pass through unchanged, as do empty credentials.
func authenticatedURL(
	remote string,
	creds Credentials,
) (string, error) {
	const errCtx = "building remote url"

	if creds.Token == "" {
		return remote, nil
	}

	parsed, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if parsed.Scheme != "http" &&
		parsed.Scheme != "https" {
		return remote, nil
	}

	user := creds.Username
	if user == "" {
		user = "oauth2"
	}

	parsed.User = url.UserPassword(user, creds.Token)

	return parsed.String(), nil
}
