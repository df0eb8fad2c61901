package models

import (
	"sync"
	"sync/atomic"
)

// registry is the in-process view of the installed-artifact index. Reads
// serve the last durably committed snapshot without locking; mutations are
// serialized by a writer mutex and persist synchronously before the
// snapshot pointer advances, so a successful return implies the change
// survives a crash.
type registry struct {
	storage storageInterface
	logger  Logger

	// writeMu serializes mutations. Readers never take it.
	writeMu sync.Mutex

	// snapshot is the last committed index. Swapped wholesale, never
	// mutated in place.
	snapshot atomic.Pointer[registryIndex]
}

// newRegistry loads registry.json once and serves it as the first snapshot.
func newRegistry(st storageInterface, logger Logger) (*registry, error) {
	idx, err := st.loadRegistry()
	if err != nil {
		return nil, err
	}
	r := &registry{storage: st, logger: logger}
	r.snapshot.Store(&idx)
	return r, nil
}

// view returns the current committed snapshot. Callers must not mutate it.
func (r *registry) view() registryIndex {
	return *r.snapshot.Load()
}

// get returns the descriptor for a versioned id, or ErrNotInstalled.
func (r *registry) get(versionedID string) (ArtifactDescriptor, error) {
	d, ok := r.view()[versionedID]
	if !ok {
		return ArtifactDescriptor{}, newError(ErrNotInstalled, "not in registry").
			withDetail("versioned_id", versionedID)
	}
	return d, nil
}

// list returns all installed descriptors. Order is not significant.
func (r *registry) list() []ArtifactDescriptor {
	view := r.view()
	out := make([]ArtifactDescriptor, 0, len(view))
	for _, d := range view {
		out = append(out, d)
	}
	return out
}

// put upserts a descriptor and persists before returning.
func (r *registry) put(d ArtifactDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := r.cloneLocked()
	next[d.VersionedID] = d
	if err := r.storage.saveRegistry(next); err != nil {
		return err
	}
	r.snapshot.Store(&next)
	return nil
}

// remove drops a versioned id and deletes its backing file. The index is
// persisted before the file is unlinked, so a crash between the two leaves
// an orphan file rather than a registry entry without a file. A failed
// unlink is logged, not returned: the entry is already durably gone and
// absence from the registry is what "not installed" means.
func (r *registry) remove(versionedID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.view()
	if _, ok := cur[versionedID]; !ok {
		return newError(ErrNotInstalled, "not in registry").
			withDetail("versioned_id", versionedID)
	}

	next := r.cloneLocked()
	delete(next, versionedID)
	if err := r.storage.saveRegistry(next); err != nil {
		return err
	}
	r.snapshot.Store(&next)

	if err := r.storage.removeArtifact(versionedID); err != nil {
		if r.logger != nil {
			r.logger.Warn("artifact file removal failed",
				"versioned_id", versionedID, "error", err)
		}
	}
	return nil
}

// usedBytes sums installed artifact sizes from the current snapshot.
func (r *registry) usedBytes() int64 {
	var total int64
	for _, d := range r.view() {
		total += d.SizeBytes
	}
	return total
}

// cloneLocked copies the current snapshot for mutation. Caller holds
// writeMu.
func (r *registry) cloneLocked() registryIndex {
	cur := r.view()
	next := make(registryIndex, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}
