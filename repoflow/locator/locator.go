// Package locator answers "which repositories can this
// principal use right now". Two mutually exclusive modes
// exist per deployment: individual mode scans a local root
// directory, organization mode lists repositories through
// the hosting platform adapter.
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/provider"
)

// Organization mode rejects anonymous principals.
var (
	ErrMissingProvider = errors.New(
		"oauth provider is required",
	)
	ErrMissingToken = errors.New(
		"oauth token is required",
	)
)

// Mode selects the discovery strategy. Set once from
// configuration, never per call.
type Mode string

// Hosting modes.
const (
	ModeIndividual   Mode = "individual"
	ModeOrganization Mode = "organization"
)

// Config parametrizes a Locator.
type Config struct {
	// Mode is the hosting mode.
	Mode Mode
	// Root is the directory scanned in individual mode.
	Root string
	// NewProvider builds platform adapters in
	// organization mode.
	NewProvider provider.Factory
}

// Locator discovers usable repositories.
type Locator struct {
	mode        Mode
	root        string
	newProvider provider.Factory
}

// New validates the configuration and returns a Locator.
func New(cfg Config) (*Locator, error) {
	const errCtx = "creating locator"

	switch cfg.Mode {
	case ModeIndividual:
		if cfg.Root == "" {
			return nil, fmt.Errorf(
				"%s: root directory is required in "+
					"individual mode", errCtx,
			)
		}
	case ModeOrganization:
		if cfg.NewProvider == nil {
			return nil, fmt.Errorf(
				"%s: provider factory is required in "+
					"organization mode", errCtx,
			)
		}
	default:
		return nil, fmt.Errorf(
			"%s: unknown mode %q", errCtx, cfg.Mode,
		)
	}

	return &Locator{
		mode:        cfg.Mode,
		root:        cfg.Root,
		newProvider: cfg.NewProvider,
	}, nil
}

// Mode returns the configured hosting mode.
func (l *Locator) Mode() Mode {
	return l.mode
}

// Principal identifies the caller in organization mode.
// Individual mode ignores it.
type Principal struct {
	// UserID identifies the user.
	UserID string
	// Username is the human-readable account name, used
	// for commit attribution and branch naming.
	Username string
	// OAuthProvider is the platform identifier.
	OAuthProvider string
	// OAuthToken is the access token.
	OAuthToken string
}

// Available returns the name to location map of usable
// repositories. In individual mode the location is a local
// path; in organization mode it is the HTTPS clone URL.
func (l *Locator) Available(
	ctx context.Context,
	p Principal,
) (map[string]string, error) {
	if l.mode == ModeIndividual {
		return l.scanRoot()
	}

	return l.listRemote(ctx, p)
}

// scanRoot walks the root directory. A child directory is
// a repository iff it carries a .git metadata directory.
func (l *Locator) scanRoot() (map[string]string, error) {
	const errCtx = "scanning repository root"

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	out := make(map[string]string)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(l.root, entry.Name())

		meta, err := os.Stat(
			filepath.Join(path, ".git"),
		)
		if err != nil || !meta.IsDir() {
			continue
		}

		out[entry.Name()] = path
	}

	return out, nil
}

// listRemote delegates to the platform adapter. Adapter
// errors surface unchanged.
func (l *Locator) listRemote(
	ctx context.Context,
	p Principal,
) (map[string]string, error) {
	if p.OAuthProvider == "" {
		return nil, errs.E(
			errs.KindInvalidArgument,
			"listing remote repositories",
			ErrMissingProvider,
		)
	}

	if p.OAuthToken == "" {
		return nil, errs.E(
			errs.KindInvalidArgument,
			"listing remote repositories",
			ErrMissingToken,
		)
	}

	prov, err := l.newProvider(p.OAuthProvider)
	if err != nil {
		return nil, err
	}

	repos, err := prov.ListRepositories(
		ctx, p.OAuthToken,
	)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(repos))

	for fullName, info := range repos {
		out[fullName] = info.CloneURL
	}

	return out, nil
}
