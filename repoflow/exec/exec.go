// Package exec provides shell command execution helpers.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Ex executes the named command in the given directory and
// returns combined stdout+stderr output. Pass empty dir to
// use the current working directory. The context cancels
// the command if it is still running.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Debug(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	by, err := cmd.CombinedOutput()

	if err != nil {
		return string(by), fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, strings.Join(arg, " "), err,
		)
	}

	return string(by), nil
}

// MustEx executes the command and panics on failure. Only
// intended for test fixtures and setup code where a failure
// means the environment is broken.
func MustEx(dir string, name string, arg ...string) {
	if _, err := Ex(
		context.Background(), dir, name, arg...,
	); err != nil {
		panic(fmt.Sprintf("command failed: %v", err))
	}
}
