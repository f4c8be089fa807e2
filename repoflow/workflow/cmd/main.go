// Command promptops_repoflow drives the repository
// workflow from the command line: list available
// repositories, sync one to the remote tip, inspect its
// git status, or save an artifact with an optional pull
// request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/byte4ever/promptops/config"
	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/locator"
	"github.com/byte4ever/promptops/repoflow/provider"
	"github.com/byte4ever/promptops/repoflow/provider/bitbucket"
	"github.com/byte4ever/promptops/repoflow/provider/github"
	"github.com/byte4ever/promptops/repoflow/provider/gitlab"
	"github.com/byte4ever/promptops/repoflow/registry"
	"github.com/byte4ever/promptops/repoflow/workflow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running promptops_repoflow"

	// Tokens usually arrive through the environment; a
	// .env file is a convenience for local runs.
	_ = godotenv.Load() //nolint:errcheck // optional file

	configPath := flag.String(
		"config", "promptops.yaml",
		"Path to the deployment configuration file",
	)
	action := flag.String(
		"action", "",
		"Action: list, ensure-latest, status, or save",
	)

	// Principal flags.
	userID := flag.String(
		"user", "",
		"User identifier owning the repository record",
	)
	username := flag.String(
		"username", "",
		"Account name for branch naming and git auth",
	)

	// Repository flags.
	repo := flag.String(
		"repo", "",
		"Repository name (owner/name form in "+
			"organization mode)",
	)

	// Save flags.
	artifactPath := flag.String(
		"artifact_path", "",
		"Artifact location inside the working tree",
	)
	artifactFile := flag.String(
		"artifact_file", "",
		"Local file holding the artifact content",
	)
	message := flag.String(
		"message", "Update artifact",
		"Commit subject line",
	)
	authorName := flag.String(
		"author_name", "",
		"Commit author name",
	)
	authorEmail := flag.String(
		"author_email", "",
		"Commit author email",
	)

	// PR flags.
	wantPR := flag.Bool(
		"pr", false,
		"Deliver the change as a pull request",
	)
	prTitle := flag.String(
		"pr_title", "",
		"Pull request title (defaults to the "+
			"commit message)",
	)
	draft := flag.Bool(
		"draft", false,
		"Open the pull request as a draft",
	)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	svc, err := newService(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	p := locator.Principal{
		UserID:        *userID,
		Username:      *username,
		OAuthProvider: cfg.Provider,
		OAuthToken:    os.Getenv("PROMPTOPS_TOKEN"),
	}

	ctx := context.Background()

	switch *action {
	case "list":
		return runList(ctx, svc, p)

	case "ensure-latest":
		return runEnsureLatest(ctx, svc, p, *repo)

	case "status":
		return runStatus(ctx, svc, p, *repo)

	case "save":
		content, err := readArtifact(*artifactFile)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return runSave(ctx, svc, workflow.SaveRequest{
			Principal:       p,
			RepoName:        *repo,
			RelativePath:    *artifactPath,
			Content:         content,
			CommitMessage:   *message,
			AuthorName:      *authorName,
			AuthorEmail:     *authorEmail,
			WantPullRequest: *wantPR,
			PRTitle:         *prTitle,
			Draft:           *draft,
		})

	default:
		return fmt.Errorf(
			"%s: unknown action %q", errCtx, *action,
		)
	}
}

// newService assembles the workflow service from the
// deployment configuration.
func newService(
	cfg *config.Config,
) (*workflow.Service, error) {
	const errCtx = "assembling workflow service"

	factory := newProviderFactory(cfg)

	locCfg := locator.Config{
		NewProvider: factory,
	}

	if cfg.HostingMode == "individual" {
		locCfg.Mode = locator.ModeIndividual
		locCfg.Root = cfg.ReposRoot
	} else {
		locCfg.Mode = locator.ModeOrganization
	}

	loc, err := locator.New(locCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	svc, err := workflow.New(workflow.Config{
		Store:          store,
		Locator:        loc,
		NewProvider:    factory,
		ReposRoot:      cfg.ReposRoot,
		BranchTemplate: cfg.BranchTemplate,
		DefaultBranch:  cfg.DefaultBranch,
		BusyWait:       cfg.BusyWait(),
		CloneTimeout:   cfg.CloneTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return svc, nil
}

// newStore selects the registry backend: postgres when a
// database URL is configured, in-memory otherwise.
func newStore(
	cfg *config.Config,
) (registry.Store, error) {
	const errCtx = "creating registry store"

	if cfg.DatabaseURL == "" {
		return registry.NewMemoryStore(), nil
	}

	ctx := context.Background()

	store, err := registry.NewPostgresStore(
		ctx, cfg.DatabaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return store, nil
}

// newProviderFactory builds platform adapters from the
// configuration. Pattern: Factory -- selects platform
// implementation at runtime.
func newProviderFactory(
	cfg *config.Config,
) provider.Factory {
	return func(name string) (provider.Provider, error) {
		const errCtx = "creating platform adapter"

		switch name {
		case provider.NameGitHub:
			return github.NewProvider(github.Config{
				EnterpriseHost: cfg.GithubEnterpriseHost,
			}), nil

		case provider.NameGitLab:
			return gitlab.NewProvider(gitlab.Config{
				Host: cfg.GitlabHost,
			}), nil

		case provider.NameBitbucket:
			p, err := bitbucket.NewProvider(
				bitbucket.Config{
					BaseURL:  cfg.BitbucketBaseURL,
					Username: cfg.BitbucketUsername,
				},
			)
			if err != nil {
				return nil, fmt.Errorf(
					"%s: %w", errCtx, err,
				)
			}

			return p, nil

		default:
			return nil, errs.Ef(
				errs.KindInvalidArgument,
				"%s: unknown platform %q",
				errCtx, name,
			)
		}
	}
}

// readArtifact reads the artifact bytes from a file, or
// from stdin when no file is given.
func readArtifact(path string) ([]byte, error) {
	const errCtx = "reading artifact content"

	if path == "" {
		content, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return nil, fmt.Errorf(
				"%s: stdin: %w", errCtx, err,
			)
		}

		return content, nil
	}

	content, err := os.ReadFile(path) //nolint:gosec // operator-chosen path
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return content, nil
}

func runList(
	ctx context.Context,
	svc *workflow.Service,
	p locator.Principal,
) error {
	names, err := svc.GetAvailableRepositories(ctx, p)
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

func runEnsureLatest(
	ctx context.Context,
	svc *workflow.Service,
	p locator.Principal,
	repo string,
) error {
	res, err := svc.EnsureLatest(ctx, p, repo)
	if err != nil {
		return err
	}

	slog.Info(
		"repository synced",
		"repo", repo,
		"message", res.Message,
	)

	return nil
}

func runStatus(
	ctx context.Context,
	svc *workflow.Service,
	p locator.Principal,
	repo string,
) error {
	snap, err := svc.GetRepoGitStatus(ctx, p, repo)
	if err != nil {
		return err
	}

	fmt.Printf("branch:    %s\n", snap.Branch)
	fmt.Printf("dirty:     %t\n", snap.Dirty)
	fmt.Printf("ahead:     %d\n", snap.CommitsAhead)
	fmt.Printf("untracked: %d\n", len(snap.Untracked))
	fmt.Printf("modified:  %d\n", len(snap.Modified))
	fmt.Printf("staged:    %d\n", len(snap.Staged))

	if snap.LastCommit != nil {
		fmt.Printf(
			"last:      %s %s\n",
			snap.LastCommit.ID,
			snap.LastCommit.Message,
		)
	}

	return nil
}

func runSave(
	ctx context.Context,
	svc *workflow.Service,
	req workflow.SaveRequest,
) error {
	res, err := svc.SaveArtifact(ctx, req)
	if err != nil {
		return err
	}

	slog.Info(
		"artifact saved",
		"repo", req.RepoName,
		"path", req.RelativePath,
		"branch", res.CommitBranch,
	)

	if res.PullRequest != nil {
		slog.Info(
			"pull request ready",
			"created", res.PullRequest.Created,
			"number", res.PullRequest.Number,
			"url", res.PullRequest.URL,
		)
	}

	if res.PullRequestError != nil {
		slog.Warn(
			"pull request creation failed",
			"error", res.PullRequestError,
		)
	}

	return nil
}
