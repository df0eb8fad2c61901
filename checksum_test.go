package models

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Known SHA-256 vectors.
const (
	helloWorldDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	emptyDigest      = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "artifact.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error = %v", err)
	}
	if got != helloWorldDigest {
		t.Errorf("hashFile() = %q, want %q", got, helloWorldDigest)
	}
}

func TestHashFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error = %v", err)
	}
	if got != emptyDigest {
		t.Errorf("hashFile() = %q, want %q", got, emptyDigest)
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := hashFile(filepath.Join(t.TempDir(), "absent.bin"))
	if !errors.Is(err, ErrStorage) {
		t.Errorf("hashFile() error = %v, want ErrStorage", err)
	}
}

func TestVerifyFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := verifyFileChecksum(path, helloWorldDigest); err != nil {
		t.Errorf("verifyFileChecksum() error = %v", err)
	}

	// Hex digests compare case-insensitively.
	if err := verifyFileChecksum(path, strings.ToUpper(helloWorldDigest)); err != nil {
		t.Errorf("verifyFileChecksum() with uppercase digest error = %v", err)
	}
}

func TestVerifyFileChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := verifyFileChecksum(path, emptyDigest)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("verifyFileChecksum() error = %v, want ErrHashMismatch", err)
	}

	var structured *Error
	if !errors.As(err, &structured) {
		t.Fatal("error is not a structured *Error")
	}
	if structured.Details["expected"] != emptyDigest {
		t.Errorf("expected detail = %v, want %q", structured.Details["expected"], emptyDigest)
	}
	if structured.Details["actual"] != helloWorldDigest {
		t.Errorf("actual detail = %v, want %q", structured.Details["actual"], helloWorldDigest)
	}
}
