package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// accountant derives storage occupancy and reclaims leftover transfer
// temp files. Used bytes always come from the registry snapshot, so a
// crash can never leave a stale usage figure behind.
type accountant struct {
	storage  storageInterface
	registry *registry
	logger   Logger

	// liveTempPaths reports the temp files owned by in-flight transfers,
	// keyed by absolute path. The incomplete sweep skips them. May be nil.
	liveTempPaths func() map[string]struct{}
}

func newAccountant(st storageInterface, reg *registry, live func() map[string]struct{}, logger Logger) *accountant {
	return &accountant{
		storage:       st,
		registry:      reg,
		liveTempPaths: live,
		logger:        logger,
	}
}

// info returns filesystem capacity and free space under the storage root
// plus the summed size of installed artifacts.
func (a *accountant) info() (StorageInfo, error) {
	total, avail, err := diskSpace(a.storage.rootDir())
	if err != nil {
		return StorageInfo{}, fmt.Errorf("%w: querying free space: %v", ErrStorage, err)
	}
	return StorageInfo{
		TotalBytes:        total,
		AvailableBytes:    avail,
		UsedByModelsBytes: a.registry.usedBytes(),
	}, nil
}

// checkSpaceFor fails when required bytes exceed the free space under the
// storage root. required covers what remains to fetch, so callers subtract
// any resumable prefix before asking.
func (a *accountant) checkSpaceFor(required int64) error {
	if required <= 0 {
		return nil
	}
	_, avail, err := diskSpace(a.storage.rootDir())
	if err != nil {
		return fmt.Errorf("%w: querying free space: %v", ErrStorage, err)
	}
	if required > avail {
		return insufficientStorageError(required, avail)
	}
	return nil
}

// cleanupIncomplete deletes orphaned transfer temp files under the storage
// root and reports the bytes reclaimed. Temp files owned by live transfers
// are spared, as are the transient temps the index writer creates next to
// registry.json and pins.json.
func (a *accountant) cleanupIncomplete() (int64, error) {
	root := a.storage.rootDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("%w: reading storage root: %v", ErrStorage, err)
	}

	var live map[string]struct{}
	if a.liveTempPaths != nil {
		live = a.liveTempPaths()
	}

	var reclaimed int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		if name == registryFileName+".tmp" || name == pinsFileName+".tmp" {
			continue
		}
		path := filepath.Join(root, name)
		if _, ok := live[path]; ok {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			// Gone since ReadDir.
			continue
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			if a.logger != nil {
				a.logger.Warn("failed to remove incomplete file", "path", path, "error", err)
			}
			continue
		}
		reclaimed += fi.Size()
		if a.logger != nil {
			a.logger.Debug("removed incomplete file", "path", path, "bytes", fi.Size())
		}
	}
	return reclaimed, nil
}
