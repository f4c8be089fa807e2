// Package commitmsg generates and parses artifact path
// lists embedded in git commit messages.
package commitmsg

import (
	"log/slog"
	"strings"
)

const (
	begin = "--- artifacts begin ---"
	end   = "--- artifacts end ---"
)

// ExtractPaths extracts the list of artifact file paths
// from a commit message delimited by begin/end markers.
func ExtractPaths(msg string) []string {
	var paths []string

	betweenMarkers := false

	for _, line := range strings.Split(msg, "\n") {
		switch line {
		case begin:
			betweenMarkers = true
		case end:
			betweenMarkers = false
		default:
			if betweenMarkers {
				paths = append(paths, line)
			}
		}
	}

	if betweenMarkers {
		slog.Warn(
			"unable to find end marker in commit message",
		)

		return nil
	}

	return paths
}

// Generate appends an artifact path section to the given
// subject, between begin/end markers.
func Generate(subject string, paths []string) string {
	var sb strings.Builder

	sb.WriteString(subject)
	sb.WriteByte('\n')
	sb.WriteByte('\n')
	sb.WriteString(begin)
	sb.WriteByte('\n')

	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}

	sb.WriteString(end)
	sb.WriteByte('\n')

	return sb.String()
}
