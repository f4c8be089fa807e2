// Package config loads and validates the deployment
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Defaults applied by Load when the file leaves a field
// unset.
const (
	DefaultBranch        = "main"
	DefaultBusyWait      = 0
	DefaultCloneTimeout  = 120 * time.Second
	DefaultOAuthStateTTL = 10 * time.Minute
)

// Config is the deployment configuration. Hosting mode is
// chosen once per deployment; the two modes are mutually
// exclusive.
type Config struct {
	// HostingMode is "individual" or "organization".
	HostingMode string `yaml:"hosting_mode"`

	// ReposRoot is the directory scanned for existing
	// repositories in individual mode, and the parent of
	// cloned working trees in organization mode.
	ReposRoot string `yaml:"repos_root"`

	// Provider is the hosting platform identifier used
	// in organization mode: github, gitlab, or bitbucket.
	Provider string `yaml:"provider"`

	// DefaultBranch is recorded on new repository
	// records.
	DefaultBranch string `yaml:"default_branch"`

	// BranchTemplate renders working branch names for
	// pull-request delivery.
	BranchTemplate string `yaml:"branch_template"`

	// BusyWaitSeconds bounds how long a caller waits for
	// a busy repository record. Zero fails fast.
	BusyWaitSeconds int `yaml:"busy_wait_seconds"`

	// CloneTimeoutSeconds bounds one clone or
	// fetch-reset.
	CloneTimeoutSeconds int `yaml:"clone_timeout_seconds"`

	// OAuthStateTTLSeconds bounds how long an issued
	// OAuth state value stays redeemable.
	OAuthStateTTLSeconds int `yaml:"oauth_state_ttl_seconds"`

	// DatabaseURL selects the durable registry. Empty
	// keeps records in memory.
	DatabaseURL string `yaml:"database_url"`

	// GithubEnterpriseHost targets a GitHub Enterprise
	// instance instead of github.com.
	GithubEnterpriseHost string `yaml:"github_enterprise_host"`

	// GitlabHost targets a self-managed GitLab instance.
	GitlabHost string `yaml:"gitlab_host"`

	// BitbucketBaseURL is the Bitbucket Server REST API
	// base URL.
	BitbucketBaseURL string `yaml:"bitbucket_base_url"`

	// BitbucketUsername authenticates Bitbucket REST
	// calls together with the per-call token.
	BitbucketUsername string `yaml:"bitbucket_username"`
}

// Load reads, decodes, and validates the configuration
// file at path.
func Load(path string) (*Config, error) {
	const errCtx = "loading configuration"

	data, err := os.ReadFile(path) //nolint:gosec // operator-chosen path
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var cfg Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf(
			"%s: decode %s: %w", errCtx, path, err,
		)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, path, err,
		)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultBranch == "" {
		c.DefaultBranch = DefaultBranch
	}

	if c.CloneTimeoutSeconds == 0 {
		c.CloneTimeoutSeconds = int(
			DefaultCloneTimeout / time.Second,
		)
	}

	if c.OAuthStateTTLSeconds == 0 {
		c.OAuthStateTTLSeconds = int(
			DefaultOAuthStateTTL / time.Second,
		)
	}
}

// Validate checks mode-dependent requirements.
func (c *Config) Validate() error {
	const errCtx = "validating configuration"

	switch c.HostingMode {
	case "individual":
		if c.ReposRoot == "" {
			return fmt.Errorf(
				"%s: repos_root is required in "+
					"individual mode", errCtx,
			)
		}
	case "organization":
		if c.Provider == "" {
			return fmt.Errorf(
				"%s: provider is required in "+
					"organization mode", errCtx,
			)
		}

		if c.ReposRoot == "" {
			return fmt.Errorf(
				"%s: repos_root is required in "+
					"organization mode", errCtx,
			)
		}
	default:
		return fmt.Errorf(
			"%s: unknown hosting_mode %q",
			errCtx, c.HostingMode,
		)
	}

	if c.BusyWaitSeconds < 0 {
		return fmt.Errorf(
			"%s: busy_wait_seconds must not be "+
				"negative", errCtx,
		)
	}

	if c.CloneTimeoutSeconds < 0 {
		return fmt.Errorf(
			"%s: clone_timeout_seconds must not be "+
				"negative", errCtx,
		)
	}

	return nil
}

// BusyWait returns the busy wait bound as a duration.
func (c *Config) BusyWait() time.Duration {
	return time.Duration(c.BusyWaitSeconds) * time.Second
}

// CloneTimeout returns the clone bound as a duration.
func (c *Config) CloneTimeout() time.Duration {
	return time.Duration(
		c.CloneTimeoutSeconds,
	) * time.Second
}

// OAuthStateTTL returns the OAuth state lifetime as a
// duration.
func (c *Config) OAuthStateTTL() time.Duration {
	return time.Duration(
		c.OAuthStateTTLSeconds,
	) * time.Second
}
