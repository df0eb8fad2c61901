package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Config configures the models module.
type Config struct {
	// AppName determines the storage directory name and the environment
	// variable prefix. Example: "localai" → ~/.local/share/localai/models/
	AppName string

	// CatalogURL is the base URL of the remote model catalog. Must use the
	// https scheme. Example: "https://models.example.com"
	CatalogURL string

	// DataDir overrides the default data directory.
	// If empty, uses platform-appropriate default.
	// Can also be set via environment variable: <APPNAME>_MODELS_DIR
	DataDir string
}

// ArtifactType classifies a model artifact by the engine that consumes it.
// The set is closed: language models, speech-to-text, and text-to-speech.
type ArtifactType string

const (
	// ArtifactTypeLLM is a language generation model.
	ArtifactTypeLLM ArtifactType = "llm"

	// ArtifactTypeSTT is a speech recognition model.
	ArtifactTypeSTT ArtifactType = "stt"

	// ArtifactTypeTTS is a speech synthesis model.
	ArtifactTypeTTS ArtifactType = "tts"

	// ArtifactTypeAny matches every type in catalog queries. It is not a
	// valid type for a descriptor.
	ArtifactTypeAny ArtifactType = ""
)

// ParseArtifactType parses a type tag. "all" and the empty string yield
// ArtifactTypeAny. Returns ErrInvalidRef for unknown tags.
func ParseArtifactType(s string) (ArtifactType, error) {
	switch strings.ToLower(s) {
	case "llm":
		return ArtifactTypeLLM, nil
	case "stt":
		return ArtifactTypeSTT, nil
	case "tts":
		return ArtifactTypeTTS, nil
	case "", "all", "any":
		return ArtifactTypeAny, nil
	}
	return ArtifactTypeAny, fmt.Errorf("%w: unknown artifact type %q", ErrInvalidRef, s)
}

func (t ArtifactType) valid() bool {
	switch t {
	case ArtifactTypeLLM, ArtifactTypeSTT, ArtifactTypeTTS:
		return true
	}
	return false
}

// String returns the type tag, or "all" for ArtifactTypeAny.
func (t ArtifactType) String() string {
	if t == ArtifactTypeAny {
		return "all"
	}
	return string(t)
}

// versionPattern accepts exactly three dot-separated non-negative integers
// without leading zeros.
var versionPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)

// Version is a semantic version ordered numerically, major before minor
// before patch.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "major.minor.patch". Returns ErrInvalidVersion if the
// string is not three non-negative dot-separated integers.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// String returns "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 ordering v against o numerically.
func (v Version) Compare(o Version) int {
	if v.Major != o.Major {
		if v.Major < o.Major {
			return -1
		}
		return 1
	}
	if v.Minor != o.Minor {
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	if v.Patch != o.Patch {
		if v.Patch < o.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// MarshalJSON encodes the version as its "major.minor.patch" string.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a "major.minor.patch" string.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionedID builds the canonical installed-copy identifier for a base id
// and version: "<base_id>-<major>.<minor>.<patch>".
func VersionedID(baseID string, v Version) string {
	return baseID + "-" + v.String()
}

// ParseArtifactID splits an identifier into its base id and version. The
// version is the suffix after the last "-" when that suffix parses as a
// semantic version; otherwise the whole string is a base id and hasVersion
// is false. Base ids must therefore not end in a "-<semver>" suffix of
// their own.
func ParseArtifactID(id string) (baseID string, version Version, hasVersion bool) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return id, Version{}, false
	}
	v, err := ParseVersion(id[idx+1:])
	if err != nil {
		return id, Version{}, false
	}
	return id[:idx], v, true
}

// Requirements describes the minimum device resources an artifact needs.
// A zero minimum means no constraint; an empty platform set means the
// artifact runs on every platform.
type Requirements struct {
	// MinRAMBytes is the minimum device memory required to load the model.
	MinRAMBytes int64 `json:"min_ram_bytes"`

	// MinStorageBytes is the minimum free storage required to install it.
	MinStorageBytes int64 `json:"min_storage_bytes"`

	// Platforms lists the platform tags the artifact supports.
	Platforms []string `json:"supported_platforms"`
}

// ArtifactDescriptor describes one versioned model artifact. Descriptors are
// immutable once created; the catalog and the local registry exchange them
// by value.
type ArtifactDescriptor struct {
	// VersionedID uniquely identifies one installed copy:
	// "<base_id>-<major>.<minor>.<patch>".
	VersionedID string `json:"versioned_id"`

	// BaseID identifies the artifact family across versions.
	BaseID string `json:"base_id"`

	// Type is the engine class that consumes the artifact.
	Type ArtifactType `json:"type"`

	// Version orders artifacts within a family.
	Version Version `json:"version"`

	// SizeBytes is the artifact file size.
	SizeBytes int64 `json:"size_bytes"`

	// SourceURL is the https download location.
	SourceURL string `json:"source_url"`

	// Checksum is the hex SHA-256 digest of the artifact file.
	Checksum string `json:"checksum"`

	// Metadata carries opaque catalog-provided key/value pairs. The
	// "accelerator" key, when present, holds comma-separated accelerator
	// tags consulted by recommendation scoring.
	Metadata map[string]string `json:"metadata"`

	// Requirements gates which devices the artifact is offered to.
	Requirements Requirements `json:"requirements"`
}

// Validate checks internal consistency. Returns ErrInvalidRef on a missing
// or mismatched identity, ErrInvalidVersion via ParseArtifactID failures.
func (d ArtifactDescriptor) Validate() error {
	if d.BaseID == "" {
		return fmt.Errorf("%w: empty base id", ErrInvalidRef)
	}
	// Ids become file names under the storage root.
	if strings.ContainsAny(d.BaseID, `/\`) || strings.Contains(d.BaseID, "..") {
		return fmt.Errorf("%w: base id %q contains path characters", ErrInvalidRef, d.BaseID)
	}
	if d.VersionedID == "" {
		return fmt.Errorf("%w: empty versioned id", ErrInvalidRef)
	}
	if want := VersionedID(d.BaseID, d.Version); d.VersionedID != want {
		return fmt.Errorf("%w: versioned id %q does not match %q", ErrInvalidRef, d.VersionedID, want)
	}
	if !d.Type.valid() {
		return fmt.Errorf("%w: artifact type %q", ErrInvalidRef, string(d.Type))
	}
	if d.SizeBytes < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidRef, d.SizeBytes)
	}
	return nil
}

// DeviceCapabilities is a read-only snapshot of the device the catalog is
// filtered against. The caller owns its accuracy; artifacts whose
// requirements exceed the reported values are filtered out.
type DeviceCapabilities struct {
	// Platform is the device platform tag, e.g. "linux" or "darwin".
	Platform string `json:"platform" yaml:"platform"`

	// RAMBytes is the total device memory.
	RAMBytes int64 `json:"ram_bytes" yaml:"ram_bytes"`

	// StorageBytes is the storage available for model installs.
	StorageBytes int64 `json:"storage_bytes" yaml:"storage_bytes"`

	// Accelerators lists capability tags such as "gpu" or "npu".
	Accelerators []string `json:"accelerators" yaml:"accelerators"`
}

// StorageInfo is a derived view of storage occupancy. UsedByModelsBytes is
// recomputed from the registry on every call, never stored.
type StorageInfo struct {
	// TotalBytes is the filesystem capacity under the storage root.
	TotalBytes int64 `json:"total_bytes"`

	// AvailableBytes is the free space reported by the filesystem.
	AvailableBytes int64 `json:"available_bytes"`

	// UsedByModelsBytes is the sum of installed artifact sizes.
	UsedByModelsBytes int64 `json:"used_by_models_bytes"`
}

// TransferState is the lifecycle state of one Transfer.
type TransferState string

const (
	// TransferPending is the initial state before Start.
	TransferPending TransferState = "pending"

	// TransferInProgress means the worker goroutine is fetching.
	TransferInProgress TransferState = "in_progress"

	// TransferCompleted means the artifact was verified and renamed into
	// place. Terminal.
	TransferCompleted TransferState = "completed"

	// TransferFailed means the fetch or verification failed. Terminal.
	TransferFailed TransferState = "failed"

	// TransferCancelled means Cancel won the race. Terminal.
	TransferCancelled TransferState = "cancelled"
)

// Terminal reports whether the state is final.
func (s TransferState) Terminal() bool {
	switch s {
	case TransferCompleted, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// TransferProgress is the payload delivered to progress callbacks. Callbacks
// run on the transfer worker goroutine; dispatching to another thread is the
// caller's concern.
type TransferProgress struct {
	// Handle identifies the Transfer.
	Handle string

	// State is the state at the time of the callback.
	State TransferState

	// BytesTransferred counts bytes at the destination, including any
	// resumed prefix adopted from an existing partial file.
	BytesTransferred int64

	// ExpectedBytes is the descriptor's size. Zero when unknown.
	ExpectedBytes int64

	// Fraction is the monotonic completion ratio in [0, 1] (or above 1 when
	// a stale partial file exceeds the expected size).
	Fraction float64

	// BytesPerSecond is the average network throughput this session.
	// Resumed bytes already on disk do not count.
	BytesPerSecond float64
}

// ProgressFunc receives TransferProgress updates.
type ProgressFunc func(TransferProgress)

// UpdateInfo is the result of an update check against the catalog.
type UpdateInfo struct {
	// Installed is the locally installed descriptor the check started from.
	Installed ArtifactDescriptor

	// Latest is the newest catalog descriptor for the same base id.
	Latest ArtifactDescriptor

	// Available is true when Latest is strictly newer than Installed.
	Available bool
}
