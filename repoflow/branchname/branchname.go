// Package branchname renders working branch names for
// pull-request delivery from a configurable template.
package branchname

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// DefaultTemplate is the working branch template used when
// the deployment does not configure one. Single-brace tags
// match the stamping convention used elsewhere.
const DefaultTemplate = "promptops/{user}/{slug}"

// Render substitutes {var} placeholders in template using
// vars. Unknown variables are an error rather than being
// silently dropped, since a half-rendered branch name
// would collide across users.
func Render(
	template string,
	vars map[string]string,
) (string, error) {
	const errCtx = "rendering branch name"

	if template == "" {
		template = DefaultTemplate
	}

	tpl, err := fasttemplate.NewTemplate(
		template, "{", "}",
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	out, err := tpl.ExecuteFuncStringWithErr(
		func(w io.Writer, tag string) (int, error) {
			val, ok := vars[tag]
			if !ok {
				return 0, fmt.Errorf(
					"unknown variable %q", tag,
				)
			}

			return w.Write([]byte(Sanitize(val)))
		},
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if out == "" {
		return "", fmt.Errorf(
			"%s: empty result", errCtx,
		)
	}

	return out, nil
}

// Slug derives a branch-safe slug from an artifact file
// path: lower-cased, extension dropped, separators and
// non-alphanumerics collapsed to single dashes.
func Slug(relativePath string) string {
	base := relativePath

	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}

	return Sanitize(strings.ToLower(base))
}

// Sanitize replaces characters that are invalid in git
// ref names with dashes and collapses runs of dashes.
func Sanitize(s string) string {
	var sb strings.Builder

	lastDash := false

	for _, r := range s {
		ok := r == '/' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')

		if ok {
			sb.WriteRune(r)

			lastDash = false

			continue
		}

		if !lastDash {
			sb.WriteByte('-')

			lastDash = true
		}
	}

	return strings.Trim(sb.String(), "-/")
}
