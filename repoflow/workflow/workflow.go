package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/byte4ever/promptops/repoflow/branchname"
	"github.com/byte4ever/promptops/repoflow/commitmsg"
	"github.com/byte4ever/promptops/repoflow/digester"
	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/git"
	"github.com/byte4ever/promptops/repoflow/locator"
	"github.com/byte4ever/promptops/repoflow/provider"
	"github.com/byte4ever/promptops/repoflow/registry"
)

// Config parametrizes a Service.
type Config struct {
	// Store is the repository record registry.
	Store registry.Store
	// Locator discovers usable repositories.
	Locator *locator.Locator
	// NewProvider builds platform adapters for pull
	// request delivery. May be nil when PRs are never
	// requested.
	NewProvider provider.Factory
	// ReposRoot is where cloned working trees live.
	ReposRoot string
	// BranchTemplate renders working branch names for PR
	// delivery. Empty uses branchname.DefaultTemplate.
	BranchTemplate string
	// DefaultBranch is the branch recorded for new
	// repository records. Empty defaults to "main".
	DefaultBranch string
	// BusyWait bounds how long a caller waits for a held
	// record lock. Zero fails fast.
	BusyWait time.Duration
	// CloneTimeout bounds a single clone or fetch-reset.
	// Zero means no bound beyond the caller's context.
	CloneTimeout time.Duration
}

// Service drives artifact saves end to end.
type Service struct {
	store          registry.Store
	loc            *locator.Locator
	newProvider    provider.Factory
	reposRoot      string
	branchTemplate string
	defaultBranch  string
	busyWait       time.Duration
	cloneTimeout   time.Duration
	locks          *lockTable
}

// New validates the configuration and returns a Service.
func New(cfg Config) (*Service, error) {
	const errCtx = "creating workflow service"

	if cfg.Store == nil {
		return nil, fmt.Errorf(
			"%s: store is required", errCtx,
		)
	}

	if cfg.Locator == nil {
		return nil, fmt.Errorf(
			"%s: locator is required", errCtx,
		)
	}

	if cfg.Locator.Mode() == locator.ModeOrganization &&
		cfg.ReposRoot == "" {
		return nil, fmt.Errorf(
			"%s: repos root is required in "+
				"organization mode", errCtx,
		)
	}

	defaultBranch := cfg.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	return &Service{
		store:          cfg.Store,
		loc:            cfg.Locator,
		newProvider:    cfg.NewProvider,
		reposRoot:      cfg.ReposRoot,
		branchTemplate: cfg.BranchTemplate,
		defaultBranch:  defaultBranch,
		busyWait:       cfg.BusyWait,
		cloneTimeout:   cfg.CloneTimeout,
		locks:          newLockTable(),
	}, nil
}

// Result reports a simple success/failure outcome with a
// human-readable message.
type Result struct {
	// Success reports whether the operation succeeded.
	Success bool
	// Message describes the outcome.
	Message string
}

// SaveRequest describes one artifact save.
type SaveRequest struct {
	// Principal identifies and authenticates the caller.
	Principal locator.Principal
	// RepoName is the repository full name, or the bare
	// directory name in individual mode.
	RepoName string
	// RelativePath is the artifact location inside the
	// working tree.
	RelativePath string
	// Content is the serialized artifact.
	Content []byte
	// CommitMessage is the commit subject line.
	CommitMessage string
	// AuthorName attributes the commit.
	AuthorName string
	// AuthorEmail attributes the commit.
	AuthorEmail string
	// WantPullRequest delivers the change on a working
	// branch and opens a pull request instead of pushing
	// to the record's branch.
	WantPullRequest bool
	// PRTitle is the pull request title. Empty falls back
	// to the commit message.
	PRTitle string
	// Draft opens the pull request as a draft.
	Draft bool
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	// ArtifactSaved reports whether the commit landed on
	// the remote.
	ArtifactSaved bool
	// CommitBranch is the branch the commit was pushed
	// to.
	CommitBranch string
	// PullRequest holds the PR outcome when one was
	// requested and created or reused.
	PullRequest *provider.PullRequestResult
	// PullRequestError is set when the commit succeeded
	// but PR creation failed. The save is then a partial
	// success, never rolled back.
	PullRequestError error
}

// GetAvailableRepositories returns the sorted names of the
// repositories the principal can use.
func (s *Service) GetAvailableRepositories(
	ctx context.Context,
	p locator.Principal,
) ([]string, error) {
	repos, err := s.loc.Available(ctx, p)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(repos))
	for name := range repos {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// EnsureLatest discards local modifications and resets the
// working tree to the remote tip, materializing the
// repository first if needed.
func (s *Service) EnsureLatest(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) (*Result, error) {
	rec, err := s.getOrCreateRecord(ctx, p, repoName)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.acquire(
		ctx, rec.ID, s.busyWait,
	)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err = s.reload(ctx, p, repoName)
	if err != nil {
		return nil, err
	}

	// Same policy as ensureCloned: a CLONING record under
	// our own lock belongs to a crashed run or an external
	// writer, so report busy instead of stacking a second
	// clone over it.
	if rec.Status == registry.StatusCloning {
		return nil, errs.Ef(
			errs.KindBusy,
			"repository %s is being cloned",
			rec.FullName,
		)
	}

	if err := s.refresh(ctx, rec, p); err != nil {
		return nil, err
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf(
			"%s is at the remote tip of %s",
			repoName, rec.Branch,
		),
	}, nil
}

// SaveArtifact writes the artifact into the repository,
// commits it, pushes, and optionally opens a pull request.
func (s *Service) SaveArtifact(
	ctx context.Context,
	req SaveRequest,
) (*SaveResult, error) {
	const errCtx = "saving artifact"

	relPath, err := cleanRelativePath(req.RelativePath)
	if err != nil {
		return nil, err
	}

	rec, err := s.getOrCreateRecord(
		ctx, req.Principal, req.RepoName,
	)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.acquire(
		ctx, rec.ID, s.busyWait,
	)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock: another process may have
	// advanced or invalidated the record meanwhile.
	rec, err = s.reload(
		ctx, req.Principal, req.RepoName,
	)
	if err != nil {
		return nil, err
	}

	if err := s.ensureCloned(
		ctx, rec, req.Principal,
	); err != nil {
		return nil, err
	}

	engine := git.NewEngine(
		rec.LocalPath, rec.RemoteURL,
	)

	commitBranch := rec.Branch

	if req.WantPullRequest {
		commitBranch, err = s.workingBranch(
			req.Principal, rec, relPath,
		)
		if err != nil {
			return nil, err
		}
	}

	// Always pin HEAD to the target branch first: a
	// previous pull-request save leaves the tree checked
	// out on its working branch, and the push targets
	// whatever branch is current.
	if _, err := engine.SwitchToBranch(
		ctx, commitBranch, rec.Branch,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if err := s.writeAndPush(
		ctx, engine, rec, req, relPath, commitBranch,
	); err != nil {
		return nil, err
	}

	result := &SaveResult{
		ArtifactSaved: true,
		CommitBranch:  commitBranch,
	}

	if !req.WantPullRequest {
		return result, nil
	}

	pr, err := s.openPullRequest(
		ctx, req, rec, commitBranch,
	)
	if err != nil {
		// The commit is already on the remote; report
		// the PR failure without rolling back.
		slog.Warn(
			"pull request creation failed",
			"repo", rec.FullName,
			"branch", commitBranch,
			"error", err,
		)

		result.PullRequestError = err

		return result, nil
	}

	result.PullRequest = pr

	return result, nil
}

// GetRepoGitStatus returns the working tree status of a
// materialized repository.
func (s *Service) GetRepoGitStatus(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) (*git.StatusSnapshot, error) {
	rec, err := s.store.Get(ctx, p.UserID, repoName)
	if err != nil {
		return nil, err
	}

	if !rec.HasWorkingTree() {
		return nil, errs.Ef(
			errs.KindNotFound,
			"%s has no working tree (status %s)",
			repoName, rec.Status,
		)
	}

	engine := git.NewEngine(
		rec.LocalPath, rec.RemoteURL,
	)

	return engine.Status(ctx)
}

// DeleteRepository removes the record and its working tree.
func (s *Service) DeleteRepository(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) error {
	rec, err := s.store.Get(ctx, p.UserID, repoName)
	if err != nil {
		return err
	}

	release, err := s.locks.acquire(
		ctx, rec.ID, s.busyWait,
	)
	if err != nil {
		return err
	}
	defer release()

	if rec.LocalPath != "" {
		engine := git.NewEngine(
			rec.LocalPath, rec.RemoteURL,
		)
		if err := engine.Clean(); err != nil {
			return err
		}
	}

	return s.store.Delete(ctx, rec.ID)
}

// getOrCreateRecord returns the record for the repository,
// creating a PENDING one on first use. The remote location
// is resolved through the locator.
func (s *Service) getOrCreateRecord(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) (*registry.Record, error) {
	rec, err := s.store.Get(ctx, p.UserID, repoName)
	if err == nil {
		return rec, nil
	}

	if !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}

	location, err := s.resolveLocation(ctx, p, repoName)
	if err != nil {
		return nil, err
	}

	if s.loc.Mode() == locator.ModeIndividual {
		// The tree already exists on disk; no remote URL
		// is recorded and remote operations go through
		// its configured origin.
		rec = registry.NewRecord(
			p.UserID, repoName, "", s.defaultBranch,
		)
		rec.MarkCloning()

		if err := rec.MarkCloned(location); err != nil {
			return nil, err
		}
	} else {
		rec = registry.NewRecord(
			p.UserID, repoName, location,
			s.defaultBranch,
		)
	}

	if err := s.store.Create(ctx, rec); err != nil {
		// A concurrent caller may have created it first.
		if errs.IsKind(err, errs.KindConflict) {
			return s.store.Get(
				ctx, p.UserID, repoName,
			)
		}

		return nil, err
	}

	return rec, nil
}

// resolveLocation maps a repository name to its location
// through the locator.
func (s *Service) resolveLocation(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) (string, error) {
	repos, err := s.loc.Available(ctx, p)
	if err != nil {
		return "", err
	}

	location, ok := repos[repoName]
	if !ok {
		return "", errs.Ef(
			errs.KindNotFound,
			"repository %s is not available to %s",
			repoName, p.UserID,
		)
	}

	return location, nil
}

// reload re-reads the record from the store.
func (s *Service) reload(
	ctx context.Context,
	p locator.Principal,
	repoName string,
) (*registry.Record, error) {
	return s.store.Get(ctx, p.UserID, repoName)
}

// ensureCloned brings the record to CLONED, cloning or
// resetting as its status demands. Caller holds the record
// lock.
func (s *Service) ensureCloned(
	ctx context.Context,
	rec *registry.Record,
	p locator.Principal,
) error {
	switch rec.Status {
	case registry.StatusCloned:
		return nil
	case registry.StatusCloning:
		// The lock is held by us, so a CLONING status
		// here is a leftover from a crashed run or an
		// external writer. Treat as busy rather than
		// stacking a second clone.
		return errs.Ef(
			errs.KindBusy,
			"repository %s is being cloned",
			rec.FullName,
		)
	case registry.StatusPending,
		registry.StatusFailed,
		registry.StatusOutdated:
		return s.refresh(ctx, rec, p)
	default:
		return errs.Ef(
			errs.KindUnknown,
			"repository %s has unknown status %s",
			rec.FullName, rec.Status,
		)
	}
}

// refresh drives one CLONING cycle: clone for records that
// never materialized, fetch-reset for existing trees. The
// record always leaves CLONING, as CLONED on success or
// FAILED with the cause otherwise.
func (s *Service) refresh(
	ctx context.Context,
	rec *registry.Record,
	p locator.Principal,
) error {
	hadTree := rec.LocalPath != ""

	localPath := rec.LocalPath
	if localPath == "" {
		localPath = s.treePath(rec)
	}

	rec.MarkCloning()

	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}

	opCtx := ctx

	if s.cloneTimeout > 0 {
		var cancel context.CancelFunc

		opCtx, cancel = context.WithTimeout(
			ctx, s.cloneTimeout,
		)
		defer cancel()
	}

	engine := git.NewEngine(localPath, rec.RemoteURL)
	creds := credentials(p)

	var opErr error

	if hadTree {
		opErr = engine.FetchAndResetToRemote(
			opCtx, rec.Branch, creds,
		)
	} else {
		opErr = engine.Clone(opCtx, rec.Branch, creds)
	}

	// Terminal transitions are persisted on a context
	// detached from the caller's: a canceled or timed-out
	// clone must still leave the durable record in FAILED,
	// never stuck in CLONING.
	persistCtx := context.WithoutCancel(ctx)

	if opErr != nil {
		if err := rec.MarkFailed(
			opErr.Error(),
		); err != nil {
			return err
		}

		if err := s.store.Update(
			persistCtx, rec,
		); err != nil {
			return err
		}

		return opErr
	}

	if err := rec.MarkCloned(localPath); err != nil {
		return err
	}

	return s.store.Update(persistCtx, rec)
}

// writeAndPush writes the artifact and commits/pushes it.
// One fetch-reset-retry cycle runs on a non-fast-forward
// rejection; a second rejection surfaces as a conflict.
func (s *Service) writeAndPush(
	ctx context.Context,
	engine *git.Engine,
	rec *registry.Record,
	req SaveRequest,
	relPath string,
	commitBranch string,
) error {
	fullPath := filepath.Join(rec.LocalPath, relPath)

	same, err := digester.Matches(fullPath, req.Content)
	if err != nil {
		return err
	}

	if same {
		return errs.E(
			errs.KindCommit,
			"saving "+relPath,
			git.ErrNothingToCommit,
		)
	}

	if err := writeArtifact(
		fullPath, req.Content,
	); err != nil {
		return err
	}

	message := commitmsg.Generate(
		req.CommitMessage, []string{relPath},
	)

	creds := credentials(req.Principal)

	err = engine.CommitAndPush(
		ctx, []string{relPath}, message,
		req.AuthorName, req.AuthorEmail, creds,
	)
	if err == nil {
		return nil
	}

	if !git.IsNonFastForward(err) {
		return err
	}

	slog.Info(
		"push rejected, retrying after reset",
		"repo", rec.FullName,
		"branch", commitBranch,
	)

	if err := engine.FetchAndResetToRemote(
		ctx, rec.Branch, creds,
	); err != nil {
		return err
	}

	if req.WantPullRequest {
		if _, err := engine.SwitchToBranch(
			ctx, commitBranch, rec.Branch,
		); err != nil {
			return err
		}
	}

	if err := writeArtifact(
		fullPath, req.Content,
	); err != nil {
		return err
	}

	err = engine.CommitAndPush(
		ctx, []string{relPath}, message,
		req.AuthorName, req.AuthorEmail, creds,
	)
	if err == nil {
		return nil
	}

	if git.IsNonFastForward(err) {
		return errs.E(
			errs.KindConflict,
			"pushing "+relPath+" after retry",
			err,
		)
	}

	return err
}

// openPullRequest opens (or reuses) the pull request for
// the pushed working branch.
func (s *Service) openPullRequest(
	ctx context.Context,
	req SaveRequest,
	rec *registry.Record,
	commitBranch string,
) (*provider.PullRequestResult, error) {
	if s.newProvider == nil {
		return nil, errs.Ef(
			errs.KindInvalidArgument,
			"pull request delivery is not configured",
		)
	}

	prov, err := s.newProvider(
		req.Principal.OAuthProvider,
	)
	if err != nil {
		return nil, err
	}

	title := req.PRTitle
	if title == "" {
		title = req.CommitMessage
	}

	return prov.CreatePullRequest(
		ctx,
		req.Principal.OAuthToken,
		provider.PullRequestSpec{
			RepoFullName: rec.FullName,
			HeadBranch:   commitBranch,
			BaseBranch:   rec.Branch,
			Title:        title,
			Draft:        req.Draft,
		},
	)
}

// workingBranch renders the branch name for pull-request
// delivery.
func (s *Service) workingBranch(
	p locator.Principal,
	rec *registry.Record,
	relPath string,
) (string, error) {
	user := p.Username
	if user == "" {
		user = p.UserID
	}

	return branchname.Render(s.branchTemplate,
		map[string]string{
			"user":   user,
			"slug":   branchname.Slug(relPath),
			"repo":   rec.FullName,
			"branch": rec.Branch,
		})
}

// treePath is where a record's working tree is cloned.
func (s *Service) treePath(
	rec *registry.Record,
) string {
	return filepath.Join(
		s.reposRoot, rec.UserID,
		filepath.FromSlash(rec.FullName),
	)
}

// cleanRelativePath validates and normalizes the artifact
// path. Absolute paths and parent traversal are rejected so
// a save can never write outside the working tree.
func cleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", errs.Ef(
			errs.KindInvalidArgument,
			"artifact path must be set",
		)
	}

	if filepath.IsAbs(p) {
		return "", errs.Ef(
			errs.KindInvalidArgument,
			"artifact path %q must be relative", p,
		)
	}

	cleaned := filepath.Clean(filepath.FromSlash(p))

	if cleaned == ".." ||
		strings.HasPrefix(
			cleaned, ".."+string(filepath.Separator),
		) {
		return "", errs.Ef(
			errs.KindInvalidArgument,
			"artifact path %q escapes the "+
				"working tree", p,
		)
	}

	return cleaned, nil
}

// writeArtifact writes content at path, creating parent
// directories as needed.
func writeArtifact(path string, content []byte) error {
	const errCtx = "writing artifact"

	if err := os.MkdirAll(
		filepath.Dir(path), 0o750,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := os.WriteFile(
		path, content, 0o600,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// credentials maps the principal's token to git
// credentials.
func credentials(p locator.Principal) git.Credentials {
	return git.Credentials{
		Username: p.Username,
		Token:    p.OAuthToken,
	}
}
