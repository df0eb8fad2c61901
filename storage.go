package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultLockTimeout is the default timeout for acquiring file locks.
const DefaultLockTimeout = 30 * time.Second

// Persisted file names under the storage root.
const (
	registryFileName = "registry.json"
	pinsFileName     = "pins.json"
)

// registryIndex is the contents of registry.json: versioned id → descriptor.
type registryIndex map[string]ArtifactDescriptor

// pinIndex is the contents of pins.json: base id → pinned version.
type pinIndex map[string]Version

// storageInterface defines operations for local filesystem management.
// Implemented by *storage for production and mock storage for tests.
// This interface enables test isolation without filesystem dependencies.
type storageInterface interface {
	// loadRegistry reads and parses registry.json. Missing file yields an
	// empty index.
	loadRegistry() (registryIndex, error)

	// saveRegistry atomically writes the index to registry.json.
	saveRegistry(reg registryIndex) error

	// loadPins reads and parses pins.json. Missing file yields an empty
	// index.
	loadPins() (pinIndex, error)

	// savePins atomically writes the index to pins.json.
	savePins(pins pinIndex) error

	// artifactPath returns the absolute final path for a versioned id.
	artifactPath(versionedID string) string

	// tempPath returns the in-flight transfer path for a versioned id.
	tempPath(versionedID string) string

	// transferLockPath returns the cross-process lock path for a
	// versioned id.
	transferLockPath(versionedID string) string

	// rootDir returns the storage root.
	rootDir() string

	// atomicWrite writes data to a file using write-then-rename.
	atomicWrite(path string, data []byte) error

	// removeArtifact deletes the artifact file for a versioned id.
	// Removing an absent file is not an error.
	removeArtifact(versionedID string) error
}

// storage handles all local filesystem operations under the storage root.
// Implements storageInterface.
type storage struct {
	// baseDir is the storage root for artifacts and index files.
	baseDir string

	// appName is the application name, used for env var resolution.
	appName string

	// lockTimeout is the maximum duration to wait for file lock acquisition.
	lockTimeout time.Duration

	// registryMu serializes in-process access to registry.json.
	registryMu sync.RWMutex

	// pinsMu serializes in-process access to pins.json.
	pinsMu sync.RWMutex
}

// Ensure storage implements storageInterface.
var _ storageInterface = (*storage)(nil)

// envVarName constructs an environment variable name from the app name.
// Example: envVarName("localai") returns "LOCALAI_MODELS_DIR".
func envVarName(appName string) string {
	return strings.ToUpper(appName) + "_MODELS_DIR"
}

// newStorage creates a new storage instance for the given configuration.
func newStorage(cfg Config) (*storage, error) {
	var baseDir string

	// Priority: env var > Config.DataDir > platform default
	if envDir := os.Getenv(envVarName(cfg.AppName)); envDir != "" {
		baseDir = envDir
	} else if cfg.DataDir != "" {
		baseDir = cfg.DataDir
	} else {
		defaultDir, err := getDefaultDataDir(cfg.AppName)
		if err != nil {
			return nil, fmt.Errorf("failed to get default data dir: %w", err)
		}
		baseDir = defaultDir
	}

	s := &storage{baseDir: baseDir, appName: cfg.AppName, lockTimeout: DefaultLockTimeout}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create storage directory: %v", ErrStorage, err)
	}

	return s, nil
}

// loadRegistry reads and parses registry.json.
// Returns an empty index if the file doesn't exist.
func (s *storage) loadRegistry() (registryIndex, error) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()

	path := filepath.Join(s.baseDir, registryFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(registryIndex), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var reg registryIndex
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrStorage, registryFileName, err)
	}

	return reg, nil
}

// saveRegistry atomically writes the index to registry.json.
// Uses cross-process file locking to prevent concurrent writes from
// multiple processes.
func (s *storage) saveRegistry(reg registryIndex) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	return s.saveIndexFile(registryFileName, reg)
}

// loadPins reads and parses pins.json.
// Returns an empty index if the file doesn't exist.
func (s *storage) loadPins() (pinIndex, error) {
	s.pinsMu.RLock()
	defer s.pinsMu.RUnlock()

	path := filepath.Join(s.baseDir, pinsFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(pinIndex), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var pins pinIndex
	if err := json.Unmarshal(data, &pins); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrStorage, pinsFileName, err)
	}

	return pins, nil
}

// savePins atomically writes the index to pins.json under the same locking
// discipline as the registry.
func (s *storage) savePins(pins pinIndex) error {
	s.pinsMu.Lock()
	defer s.pinsMu.Unlock()

	return s.saveIndexFile(pinsFileName, pins)
}

// saveIndexFile marshals and atomically writes one of the persisted index
// files, holding its cross-process lock for the duration.
func (s *storage) saveIndexFile(name string, v any) error {
	lockPath := filepath.Join(s.baseDir, name+".lock")
	lock, err := newFileLock(lockPath, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: failed to create lock: %v", ErrStorage, err)
	}
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: failed to acquire lock: %v", ErrStorage, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal %s: %v", ErrStorage, name, err)
	}

	return s.atomicWrite(filepath.Join(s.baseDir, name), data)
}

// atomicWrite writes data to a file using write-then-rename for atomicity.
// A crash mid-write leaves the previous file content intact.
func (s *storage) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrStorage, err)
	}

	// Write to temp file first
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorage, err)
	}

	// Atomic rename
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // cleanup on failure
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorage, err)
	}

	return nil
}

// artifactPath returns the absolute final path for a versioned id. Artifacts
// live flat under the storage root, one file per installed copy.
func (s *storage) artifactPath(versionedID string) string {
	return filepath.Join(s.baseDir, versionedID)
}

// tempPath returns the in-flight transfer path for a versioned id.
func (s *storage) tempPath(versionedID string) string {
	return s.artifactPath(versionedID) + ".tmp"
}

// transferLockPath returns the cross-process lock path for a versioned id.
func (s *storage) transferLockPath(versionedID string) string {
	return s.artifactPath(versionedID) + ".lock"
}

// rootDir returns the storage root.
func (s *storage) rootDir() string {
	return s.baseDir
}

// removeArtifact deletes the artifact file for a versioned id. An absent
// file is not an error so teardown paths stay idempotent.
func (s *storage) removeArtifact(versionedID string) error {
	err := os.Remove(s.artifactPath(versionedID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove artifact: %v", ErrStorage, err)
	}
	return nil
}
