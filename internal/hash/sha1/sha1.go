// Package sha1 provides the SHA-1 digests used for workspace names and accountability hashes.
package sha1

import (
	"crypto/sha1" //nolint:gosec // names and tracker hashes, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hasher produces lowercase hex SHA-1 digests.
type Hasher struct{}

// New returns a SHA-1 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// HashString is Hash for strings; it cannot fail.
func (h *Hasher) HashString(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through SHA-1.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	digest := sha1.New() //nolint:gosec
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
