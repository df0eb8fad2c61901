package models

import (
	"sync"
)

// resolver computes which installed version is current for a base id and
// owns the pinned-version index.
type resolver struct {
	registry *registry
	storage  storageInterface
	logger   Logger

	// mu guards pins. The map is replaced wholesale on mutation, after the
	// new index has been durably persisted.
	mu   sync.Mutex
	pins pinIndex
}

// newResolver loads pins.json once. Pin state survives restarts.
func newResolver(reg *registry, st storageInterface, logger Logger) (*resolver, error) {
	pins, err := st.loadPins()
	if err != nil {
		return nil, err
	}
	return &resolver{registry: reg, storage: st, logger: logger, pins: pins}, nil
}

// resolveByBaseID returns the pinned descriptor when the pin maps to an
// installed copy, otherwise the newest installed version under numeric
// ordering. A dangling pin (its version deleted after pinning) is skipped
// with a warning and resolution falls back to newest; the pin entry itself
// stays so reinstalling the version revives it.
func (r *resolver) resolveByBaseID(baseID string) (ArtifactDescriptor, error) {
	if baseID == "" {
		return ArtifactDescriptor{}, newError(ErrInvalidRef, "empty base id")
	}

	if v, ok := r.pinnedVersion(baseID); ok {
		if d, err := r.registry.get(VersionedID(baseID, v)); err == nil {
			return d, nil
		}
		if r.logger != nil {
			r.logger.Warn("pinned version not installed, falling back to newest",
				"base_id", baseID, "pinned", v.String())
		}
	}

	var best ArtifactDescriptor
	found := false
	for _, d := range r.registry.list() {
		if d.BaseID != baseID {
			continue
		}
		if !found || d.Version.Compare(best.Version) > 0 {
			best = d
			found = true
		}
	}
	if !found {
		return ArtifactDescriptor{}, newError(ErrNotInstalled, "no installed version").
			withDetail("base_id", baseID)
	}
	return best, nil
}

// pin records a pinned version for a base id. The id may be a bare base id
// or a versioned id (the base is extracted); the version string must parse
// and the (base, version) pair must be installed.
func (r *resolver) pin(id, versionStr string) error {
	baseID, _, _ := ParseArtifactID(id)
	if baseID == "" {
		return newError(ErrInvalidRef, "empty id")
	}

	v, err := ParseVersion(versionStr)
	if err != nil {
		return err
	}

	if _, err := r.registry.get(VersionedID(baseID, v)); err != nil {
		return newError(ErrNotInstalled, "cannot pin a version that is not installed").
			withDetail("base_id", baseID).
			withDetail("version", v.String()).
			withSuggestion("download the version before pinning it")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(pinIndex, len(r.pins)+1)
	for k, val := range r.pins {
		next[k] = val
	}
	next[baseID] = v
	if err := r.storage.savePins(next); err != nil {
		return err
	}
	r.pins = next
	return nil
}

// unpin clears the pin for a base id. Errors with ErrPinNotFound when no
// pin is set.
func (r *resolver) unpin(baseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pins[baseID]; !ok {
		return newError(ErrPinNotFound, "no pin set").withDetail("base_id", baseID)
	}

	next := make(pinIndex, len(r.pins))
	for k, val := range r.pins {
		next[k] = val
	}
	delete(next, baseID)
	if err := r.storage.savePins(next); err != nil {
		return err
	}
	r.pins = next
	return nil
}

// pinnedVersion returns the pin for a base id, if set.
func (r *resolver) pinnedVersion(baseID string) (Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.pins[baseID]
	return v, ok
}
