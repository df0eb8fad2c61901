package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// hashFile computes the hex SHA-256 digest of the file at path. The file is
// streamed so large artifacts never load fully into memory. An empty file
// yields the standard empty-input digest.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open for hashing: %v", ErrStorage, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read for hashing: %v", ErrStorage, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyFileChecksum hashes the file and compares against the expected hex
// digest, case-insensitively. Returns ErrHashMismatch with both digests on
// failure. Deleting the offending file is the caller's responsibility.
func verifyFileChecksum(path, expected string) error {
	got, err := hashFile(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expected) {
		return newError(ErrHashMismatch, "artifact digest does not match descriptor").
			withDetail("expected", expected).
			withDetail("actual", got).
			withSuggestion("re-download the model; the source file may have changed or the transfer was corrupted")
	}
	return nil
}
