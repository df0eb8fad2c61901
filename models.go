package models

import (
	"context"
	"errors"
)

// Manager provides programmatic access to model artifact lifecycle
// management. All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// ListAvailable returns catalog artifacts compatible with the device,
	// optionally restricted to one artifact type. Requirement checks are
	// applied literally against the reported capability values.
	ListAvailable(ctx context.Context, device DeviceCapabilities, artifactType ArtifactType) ([]ArtifactDescriptor, error)

	// Recommend returns compatible artifacts ranked best-first for the
	// device, at most ten. Ranking weighs storage headroom, memory
	// headroom, and accelerator matches.
	Recommend(ctx context.Context, device DeviceCapabilities, artifactType ArtifactType) ([]ArtifactDescriptor, error)

	// ListInstalled returns all locally installed artifacts.
	ListInstalled(ctx context.Context) ([]ArtifactDescriptor, error)

	// GetInfo returns the installed artifact with the given versioned ID.
	// Returns ErrNotInstalled if it is not installed locally.
	GetInfo(ctx context.Context, versionedID string) (ArtifactDescriptor, error)

	// GetInfoByBaseID resolves a base ID to one installed artifact: the
	// pinned version when a live pin exists, the newest installed version
	// otherwise. Returns ErrNotInstalled when no version is installed.
	GetInfoByBaseID(ctx context.Context, baseID string) (ArtifactDescriptor, error)

	// Download resolves the ID against the catalog and starts an
	// asynchronous transfer for it. A versioned ID names an exact version;
	// a base ID picks the newest catalog version. The returned Transfer is
	// already started; observe it via Progress, Wait, or a WithProgress
	// callback. Returns ErrAlreadyInstalled when the same version with the
	// same checksum is installed, unless WithForce is given. Returns
	// ErrTransferConflict when a transfer for the same artifact is live,
	// and ErrTooManyTransfers at the concurrency cap.
	Download(ctx context.Context, artifactID string, opts ...DownloadOption) (*Transfer, error)

	// Delete removes an installed artifact and its registry entry.
	// Returns ErrNotInstalled if the artifact is not installed.
	Delete(ctx context.Context, versionedID string) error

	// Pin records that resolution of baseID must return the given
	// installed version. Returns ErrNotInstalled when that version is not
	// installed.
	Pin(ctx context.Context, baseID, version string) error

	// Unpin removes the pin for baseID. Returns ErrPinNotFound when no pin
	// exists.
	Unpin(ctx context.Context, baseID string) error

	// IsPinned reports whether baseID has a pin.
	IsPinned(ctx context.Context, baseID string) bool

	// PinnedVersion reports the pinned version for baseID, if any.
	PinnedVersion(ctx context.Context, baseID string) (Version, bool)

	// CheckUpdate compares the resolved installed version of baseID with
	// the newest catalog version and reports whether an upgrade exists.
	// Returns ErrNotInstalled when no version is installed.
	CheckUpdate(ctx context.Context, baseID string) (*UpdateInfo, error)

	// StorageInfo returns capacity, free space, and installed artifact
	// usage for the storage root.
	StorageInfo(ctx context.Context) (StorageInfo, error)

	// CleanupIncomplete removes orphaned temp files left by interrupted
	// transfers and returns the bytes reclaimed. Temp files of live
	// transfers are spared.
	CleanupIncomplete(ctx context.Context) (int64, error)

	// Path returns the absolute path of an installed artifact's file.
	// Returns ErrNotInstalled if the artifact is not installed.
	Path(ctx context.Context, versionedID string) (string, error)

	// Close cancels live transfers, waits for their cleanup, and releases
	// the manager. Further calls on the manager return ErrClosed.
	Close() error
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Returns an error if the configuration is invalid (empty AppName or a
// missing or non-https CatalogURL).
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	if cfg.AppName == "" {
		return nil, errors.New("models: AppName is required")
	}
	if cfg.CatalogURL == "" {
		return nil, errors.New("models: CatalogURL is required")
	}
	if err := validateSecureURL(cfg.CatalogURL); err != nil {
		return nil, err
	}

	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}

	storage, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := newRegistry(storage, mcfg.logger)
	if err != nil {
		return nil, err
	}

	resolver, err := newResolver(registry, storage, mcfg.logger)
	if err != nil {
		return nil, err
	}

	catalog := newCatalogClient(cfg.CatalogURL, mcfg.httpClient, mcfg.logger, mcfg.catalogTTL)

	m := &manager{
		cfg:          cfg,
		httpClient:   mcfg.httpClient,
		logger:       mcfg.logger,
		tracer:       mcfg.tracerProvider.Tracer(tracerName),
		storage:      storage,
		registry:     registry,
		resolver:     resolver,
		catalog:      catalog,
		maxTransfers: mcfg.maxTransfers,
		transfers:    make(map[string]*Transfer),
	}
	m.accountant = newAccountant(storage, registry, m.liveTempPaths, mcfg.logger)

	// Sweep temp files abandoned by earlier processes. Best effort: a
	// failing sweep should not block construction.
	if reclaimed, err := m.accountant.cleanupIncomplete(); err != nil {
		if mcfg.logger != nil {
			mcfg.logger.Warn("startup cleanup failed", "error", err)
		}
	} else if reclaimed > 0 && mcfg.logger != nil {
		mcfg.logger.Debug("startup cleanup reclaimed space", "bytes", reclaimed)
	}
	return m, nil
}
