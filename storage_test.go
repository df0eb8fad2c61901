package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		appName string
		want    string
	}{
		{"localai", "LOCALAI_MODELS_DIR"},
		{"myapp", "MYAPP_MODELS_DIR"},
		{"MyApp", "MYAPP_MODELS_DIR"},
		{"my-app", "MY-APP_MODELS_DIR"},
	}

	for _, tt := range tests {
		t.Run(tt.appName, func(t *testing.T) {
			got := envVarName(tt.appName)
			if got != tt.want {
				t.Errorf("envVarName(%q) = %q, want %q", tt.appName, got, tt.want)
			}
		})
	}
}

func TestNewStorageWithDataDir(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		AppName: "testapp",
		DataDir: tmpDir,
	}

	s, err := newStorage(cfg)
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	if s.baseDir != tmpDir {
		t.Errorf("baseDir = %q, want %q", s.baseDir, tmpDir)
	}
	if s.rootDir() != tmpDir {
		t.Errorf("rootDir() = %q, want %q", s.rootDir(), tmpDir)
	}
}

func TestNewStorageWithEnvVar(t *testing.T) {
	tmpDir := t.TempDir()

	// Env var takes priority over DataDir.
	t.Setenv(envVarName("testenvapp"), tmpDir)

	cfg := Config{
		AppName: "testenvapp",
		DataDir: filepath.Join(t.TempDir(), "ignored"),
	}

	s, err := newStorage(cfg)
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	if s.baseDir != tmpDir {
		t.Errorf("baseDir = %q, want %q (env var should win)", s.baseDir, tmpDir)
	}
}

func TestNewStorageCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "models")

	if _, err := newStorage(Config{AppName: "testapp", DataDir: dir}); err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !fi.IsDir() {
		t.Error("storage root is not a directory")
	}
}

func TestStoragePaths(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := newStorage(Config{AppName: "testapp", DataDir: tmpDir})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	wantFinal := filepath.Join(tmpDir, "llama-chat-1.0.0")
	if got := s.artifactPath("llama-chat-1.0.0"); got != wantFinal {
		t.Errorf("artifactPath() = %q, want %q", got, wantFinal)
	}
	if got := s.tempPath("llama-chat-1.0.0"); got != wantFinal+".tmp" {
		t.Errorf("tempPath() = %q, want %q", got, wantFinal+".tmp")
	}
	if got := s.transferLockPath("llama-chat-1.0.0"); got != wantFinal+".lock" {
		t.Errorf("transferLockPath() = %q, want %q", got, wantFinal+".lock")
	}
}

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := newStorage(Config{AppName: "testapp", DataDir: tmpDir})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	path := filepath.Join(tmpDir, "out.json")
	if err := s.atomicWrite(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("atomicWrite() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q, want %q", data, `{"a":1}`)
	}

	// The intermediate temp file must not survive.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file still exists after atomicWrite")
	}

	// Overwrite replaces content.
	if err := s.atomicWrite(path, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("atomicWrite() overwrite error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != `{"a":2}` {
		t.Errorf("content after overwrite = %q, want %q", data, `{"a":2}`)
	}
}

func TestLoadRegistryMissing(t *testing.T) {
	s, err := newStorage(Config{AppName: "testapp", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	reg, err := s.loadRegistry()
	if err != nil {
		t.Fatalf("loadRegistry() error = %v", err)
	}
	if len(reg) != 0 {
		t.Errorf("loadRegistry() = %d entries, want 0", len(reg))
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	s, err := newStorage(Config{AppName: "testapp", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	want := registryIndex{
		"llama-chat-1.0.0": {
			VersionedID: "llama-chat-1.0.0",
			BaseID:      "llama-chat",
			Type:        ArtifactTypeLLM,
			Version:     Version{Major: 1},
			SizeBytes:   2048,
			SourceURL:   "https://models.example.com/llama-chat.bin",
			Checksum:    "abc123",
		},
	}

	if err := s.saveRegistry(want); err != nil {
		t.Fatalf("saveRegistry() error = %v", err)
	}

	got, err := s.loadRegistry()
	if err != nil {
		t.Fatalf("loadRegistry() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loadRegistry() = %d entries, want 1", len(got))
	}
	d := got["llama-chat-1.0.0"]
	if d.BaseID != "llama-chat" || d.SizeBytes != 2048 || d.Version.Major != 1 {
		t.Errorf("round-tripped descriptor = %+v", d)
	}
}

func TestLoadRegistryCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := newStorage(Config{AppName: "testapp", DataDir: tmpDir})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, registryFileName), []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := s.loadRegistry(); err == nil {
		t.Error("loadRegistry() error = nil, want error for corrupt file")
	}
}

func TestPinsRoundTrip(t *testing.T) {
	s, err := newStorage(Config{AppName: "testapp", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	// Missing file yields an empty index.
	pins, err := s.loadPins()
	if err != nil {
		t.Fatalf("loadPins() error = %v", err)
	}
	if len(pins) != 0 {
		t.Fatalf("loadPins() = %d entries, want 0", len(pins))
	}

	want := pinIndex{"llama-chat": {Major: 1, Minor: 2, Patch: 3}}
	if err := s.savePins(want); err != nil {
		t.Fatalf("savePins() error = %v", err)
	}

	got, err := s.loadPins()
	if err != nil {
		t.Fatalf("loadPins() error = %v", err)
	}
	if got["llama-chat"] != (Version{Major: 1, Minor: 2, Patch: 3}) {
		t.Errorf("loadPins() = %+v, want %+v", got, want)
	}
}

func TestRemoveArtifact(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := newStorage(Config{AppName: "testapp", DataDir: tmpDir})
	if err != nil {
		t.Fatalf("newStorage() error = %v", err)
	}

	path := s.artifactPath("llama-chat-1.0.0")
	if err := os.WriteFile(path, []byte("model data"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := s.removeArtifact("llama-chat-1.0.0"); err != nil {
		t.Fatalf("removeArtifact() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("artifact file still exists after removeArtifact")
	}

	// Removing an absent artifact is not an error.
	if err := s.removeArtifact("llama-chat-1.0.0"); err != nil {
		t.Errorf("removeArtifact() on absent file error = %v", err)
	}
}

func TestGetDefaultDataDir(t *testing.T) {
	dir, err := getDefaultDataDir("testapp")
	if err != nil {
		t.Fatalf("getDefaultDataDir() error = %v", err)
	}
	if dir == "" {
		t.Fatal("getDefaultDataDir() returned empty path")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("getDefaultDataDir() = %q, want absolute path", dir)
	}
}

func TestFileLockTryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "transfer.lock")

	first, err := newFileLock(lockPath, time.Second)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	ok, err := first.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !ok {
		t.Fatal("first TryLock() = false, want true")
	}

	// A second handle on the same path must observe the conflict.
	second, err := newFileLock(lockPath, time.Second)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if ok {
		t.Fatal("second TryLock() = true, want false while held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	third, err := newFileLock(lockPath, time.Second)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	ok, err = third.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !ok {
		t.Error("TryLock() after Unlock = false, want true")
	}
	third.Unlock()
	second.Unlock()
}

func TestFileLockUnlockIdempotent(t *testing.T) {
	lock, err := newFileLock(filepath.Join(t.TempDir(), "x.lock"), time.Second)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Errorf("second Unlock() error = %v", err)
	}
}
