package models

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by lifecycle operations.
const tracerName = "github.com/Akshay-at-360/Local-Ai-App-sub002"

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the module configuration.
	cfg Config

	// httpClient is used for catalog fetches and artifact transfers.
	httpClient HTTPClient

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// tracer emits spans around the mutating lifecycle operations.
	tracer trace.Tracer

	// storage handles local filesystem layout and index persistence.
	storage storageInterface

	// registry is the crash-consistent index of installed artifacts.
	registry *registry

	// resolver maps base IDs to installed versions, honoring pins.
	resolver *resolver

	// catalog fetches and caches the remote artifact catalog.
	catalog *catalogClient

	// accountant derives storage occupancy and sweeps temp files.
	accountant *accountant

	// maxTransfers caps simultaneously live transfers.
	maxTransfers int

	// transfersMu guards transfers and closed.
	transfersMu sync.Mutex

	// transfers holds live transfers keyed by versioned ID. Entries are
	// reaped when their transfer reaches a terminal state.
	transfers map[string]*Transfer

	closed bool
}

// checkClosed returns ErrClosed once Close has begun.
func (m *manager) checkClosed() error {
	m.transfersMu.Lock()
	defer m.transfersMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// ListAvailable returns catalog artifacts compatible with the device.
func (m *manager) ListAvailable(ctx context.Context, device DeviceCapabilities, artifactType ArtifactType) ([]ArtifactDescriptor, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	entries, err := m.catalog.fetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	matches := filterArtifacts(entries, artifactType, device)
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].BaseID != matches[j].BaseID {
			return matches[i].BaseID < matches[j].BaseID
		}
		return matches[i].Version.Compare(matches[j].Version) > 0
	})
	return matches, nil
}

// Recommend returns compatible artifacts ranked best-first for the device.
func (m *manager) Recommend(ctx context.Context, device DeviceCapabilities, artifactType ArtifactType) ([]ArtifactDescriptor, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	entries, err := m.catalog.fetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return recommendArtifacts(entries, artifactType, device), nil
}

// ListInstalled returns all locally installed artifacts, sorted by
// versioned ID.
func (m *manager) ListInstalled(ctx context.Context) ([]ArtifactDescriptor, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	installed := m.registry.list()
	sort.Slice(installed, func(i, j int) bool {
		return installed[i].VersionedID < installed[j].VersionedID
	})
	return installed, nil
}

// GetInfo returns the installed artifact with the given versioned ID.
func (m *manager) GetInfo(ctx context.Context, versionedID string) (ArtifactDescriptor, error) {
	if err := m.checkClosed(); err != nil {
		return ArtifactDescriptor{}, err
	}
	if versionedID == "" {
		return ArtifactDescriptor{}, newError(ErrInvalidRef, "empty artifact id")
	}
	return m.registry.get(versionedID)
}

// GetInfoByBaseID resolves a base ID to one installed artifact.
func (m *manager) GetInfoByBaseID(ctx context.Context, baseID string) (ArtifactDescriptor, error) {
	if err := m.checkClosed(); err != nil {
		return ArtifactDescriptor{}, err
	}
	return m.resolver.resolveByBaseID(baseID)
}

// Download resolves the ID against the catalog, checks space, and starts
// an asynchronous transfer.
func (m *manager) Download(ctx context.Context, artifactID string, opts ...DownloadOption) (t *Transfer, err error) {
	cfg := newDownloadConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, span := m.tracer.Start(ctx, "models.Download",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("artifact.id", artifactID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	if artifactID == "" {
		return nil, newError(ErrInvalidRef, "empty artifact id")
	}

	// A forced fetch usually follows a catalog change; drop the cached
	// document so the descriptor is current.
	if cfg.force {
		m.catalog.invalidate()
	}

	desc, err := m.catalog.resolveEntry(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("artifact.versioned_id", desc.VersionedID))

	if !cfg.force {
		if installed, err := m.registry.get(desc.VersionedID); err == nil && installed.Checksum == desc.Checksum {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, desc.VersionedID)
		}
	}

	// A resumable prefix shrinks what remains to fetch.
	var resumed int64
	if fi, statErr := os.Stat(m.storage.tempPath(desc.VersionedID)); statErr == nil {
		resumed = fi.Size()
	}
	if err := m.accountant.checkSpaceFor(desc.SizeBytes - resumed); err != nil {
		return nil, err
	}

	m.transfersMu.Lock()
	defer m.transfersMu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.pruneTerminalLocked()
	if _, live := m.transfers[desc.VersionedID]; live {
		return nil, newError(ErrTransferConflict, fmt.Sprintf("transfer already in progress for %s", desc.VersionedID))
	}
	if len(m.transfers) >= m.maxTransfers {
		return nil, newError(ErrTooManyTransfers, "live transfer limit reached").
			withDetail("limit", m.maxTransfers).
			withSuggestion("Wait for a transfer to finish or cancel one")
	}

	// The destination lock rejects a concurrent fetch of the same artifact
	// from another process.
	lock, err := newFileLock(m.storage.transferLockPath(desc.VersionedID), lockAcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: creating transfer lock: %v", ErrStorage, err)
	}
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring transfer lock: %v", ErrStorage, err)
	}
	if !acquired {
		return nil, newError(ErrTransferConflict, fmt.Sprintf("another process is fetching %s", desc.VersionedID))
	}

	t, err = newTransfer(transferParams{
		Handle:       cfg.handle,
		SourceURL:    desc.SourceURL,
		DestPath:     m.storage.artifactPath(desc.VersionedID),
		ExpectedSize: desc.SizeBytes,
		Checksum:     desc.Checksum,
		Client:       m.httpClient,
		Logger:       m.logger,
		Progress:     cfg.progressFn,
		Lock:         lock,
		OnCommit: func() error {
			return m.registry.put(desc)
		},
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	// The transfer outlives this call. Detach it from the caller's
	// cancellation while keeping trace context values.
	if err := t.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	if m.logger != nil {
		m.logger.Info("transfer started",
			"artifact", desc.VersionedID, "handle", t.Handle(), "bytes", desc.SizeBytes)
	}

	m.transfers[desc.VersionedID] = t
	go m.reap(desc.VersionedID, t)
	return t, nil
}

// reap removes the live-map entry once the transfer terminates.
func (m *manager) reap(versionedID string, t *Transfer) {
	<-t.done
	m.transfersMu.Lock()
	if m.transfers[versionedID] == t {
		delete(m.transfers, versionedID)
	}
	m.transfersMu.Unlock()
}

// pruneTerminalLocked drops entries whose transfer already finished but
// whose reaper has not run yet, so a completed handle never blocks a new
// download or delete of the same artifact. Caller holds transfersMu.
func (m *manager) pruneTerminalLocked() {
	for id, t := range m.transfers {
		if t.State().Terminal() {
			delete(m.transfers, id)
		}
	}
}

// liveTempPaths reports temp files owned by in-flight transfers so the
// cleanup sweep never deletes an active download.
func (m *manager) liveTempPaths() map[string]struct{} {
	m.transfersMu.Lock()
	defer m.transfersMu.Unlock()
	live := make(map[string]struct{}, len(m.transfers))
	for _, t := range m.transfers {
		live[t.tempPath()] = struct{}{}
	}
	return live
}

// Delete removes an installed artifact and its registry entry.
func (m *manager) Delete(ctx context.Context, versionedID string) (err error) {
	_, span := m.tracer.Start(ctx, "models.Delete",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("artifact.id", versionedID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := m.checkClosed(); err != nil {
		return err
	}
	if versionedID == "" {
		return newError(ErrInvalidRef, "empty artifact id")
	}

	m.transfersMu.Lock()
	m.pruneTerminalLocked()
	_, live := m.transfers[versionedID]
	m.transfersMu.Unlock()
	if live {
		return newError(ErrTransferConflict, fmt.Sprintf("transfer in progress for %s, cancel it first", versionedID))
	}

	if err := m.registry.remove(versionedID); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("artifact removed", "artifact", versionedID)
	}
	return nil
}

// Pin records that resolution of baseID must return the given version.
func (m *manager) Pin(ctx context.Context, baseID, version string) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.resolver.pin(baseID, version)
}

// Unpin removes the pin for baseID.
func (m *manager) Unpin(ctx context.Context, baseID string) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.resolver.unpin(baseID)
}

// IsPinned reports whether baseID has a pin.
func (m *manager) IsPinned(ctx context.Context, baseID string) bool {
	_, ok := m.PinnedVersion(ctx, baseID)
	return ok
}

// PinnedVersion reports the pinned version for baseID, if any.
func (m *manager) PinnedVersion(ctx context.Context, baseID string) (Version, bool) {
	if err := m.checkClosed(); err != nil {
		return Version{}, false
	}
	return m.resolver.pinnedVersion(baseID)
}

// CheckUpdate compares the resolved installed version of baseID with the
// newest catalog version.
func (m *manager) CheckUpdate(ctx context.Context, baseID string) (info *UpdateInfo, err error) {
	ctx, span := m.tracer.Start(ctx, "models.CheckUpdate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("artifact.base_id", baseID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := m.checkClosed(); err != nil {
		return nil, err
	}

	installed, err := m.resolver.resolveByBaseID(baseID)
	if err != nil {
		return nil, err
	}
	latest, err := m.catalog.resolveEntry(ctx, baseID)
	if err != nil {
		return nil, err
	}

	return &UpdateInfo{
		Installed: installed,
		Latest:    latest,
		Available: latest.Version.Compare(installed.Version) > 0,
	}, nil
}

// StorageInfo returns capacity, free space, and installed artifact usage.
func (m *manager) StorageInfo(ctx context.Context) (StorageInfo, error) {
	if err := m.checkClosed(); err != nil {
		return StorageInfo{}, err
	}
	return m.accountant.info()
}

// CleanupIncomplete removes orphaned temp files left by interrupted
// transfers.
func (m *manager) CleanupIncomplete(ctx context.Context) (int64, error) {
	if err := m.checkClosed(); err != nil {
		return 0, err
	}
	reclaimed, err := m.accountant.cleanupIncomplete()
	if err != nil {
		return 0, err
	}
	if m.logger != nil && reclaimed > 0 {
		m.logger.Info("cleanup reclaimed space", "bytes", reclaimed)
	}
	return reclaimed, nil
}

// Path returns the absolute path of an installed artifact's file.
func (m *manager) Path(ctx context.Context, versionedID string) (string, error) {
	if err := m.checkClosed(); err != nil {
		return "", err
	}
	if _, err := m.registry.get(versionedID); err != nil {
		return "", err
	}
	return m.storage.artifactPath(versionedID), nil
}

// Close cancels live transfers, waits for their cleanup, and marks the
// manager closed. Safe to call multiple times.
func (m *manager) Close() error {
	m.transfersMu.Lock()
	if m.closed {
		m.transfersMu.Unlock()
		return nil
	}
	m.closed = true
	live := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		live = append(live, t)
	}
	m.transfersMu.Unlock()

	for _, t := range live {
		t.Cancel()
	}
	for _, t := range live {
		<-t.done
	}
	if m.logger != nil {
		m.logger.Debug("manager closed", "cancelled_transfers", len(live))
	}
	return nil
}
