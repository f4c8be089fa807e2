// Package digester computes content digests used to detect
// no-op artifact saves before any git command runs.
package digester

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// DigestBytes computes the SHA256 hex digest of content.
func DigestBytes(content []byte) string {
	sum := sha256.Sum256(content)

	return hex.EncodeToString(sum[:])
}

// DigestFile computes the SHA256 hex digest of the file at
// path. Returns empty string with no error if the file
// does not exist.
func DigestFile(path string) (result string, retErr error) {
	const errCtx = "digesting file"

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	fi, err := os.Open(path) //nolint:gosec // path comes from the registry record
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, closeErr)
		}
	}()

	ha := sha256.New()

	if _, err := io.Copy(ha, fi); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return hex.EncodeToString(ha.Sum(nil)), nil
}

// Matches reports whether the file at path already holds
// exactly content. A missing file never matches.
func Matches(path string, content []byte) (bool, error) {
	const errCtx = "comparing digests"

	stored, err := DigestFile(path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	if stored == "" {
		return false, nil
	}

	return stored == DigestBytes(content), nil
}
