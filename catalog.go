package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/xeipuuv/gojsonschema"
)

// catalogPath is the document path appended to the catalog base URL.
const catalogPath = "/catalog.json"

// catalogCacheKey keys the cached document inside the TTL cache.
const catalogCacheKey = "catalog"

// metadataKeyAccelerator is the descriptor metadata key whose
// comma-separated tags are matched against device accelerators during
// recommendation scoring.
const metadataKeyAccelerator = "accelerator"

// maxRecommendations caps the number of results Recommend returns.
const maxRecommendations = 10

// catalogDocument is the decoded catalog.json.
type catalogDocument struct {
	// SchemaVersion identifies the document format.
	SchemaVersion int `json:"schema_version"`

	// Models lists every artifact the catalog offers.
	Models []ArtifactDescriptor `json:"models"`
}

// catalogSchema is the JSON Schema a fetched catalog must satisfy before it
// is decoded. Catalogs are remote input; shape violations are rejected as a
// whole rather than surfacing as zero-valued descriptors.
const catalogSchema = `{
  "type": "object",
  "required": ["models"],
  "properties": {
    "schema_version": {"type": "integer"},
    "models": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["versioned_id", "base_id", "type", "version", "size_bytes", "source_url", "checksum"],
        "properties": {
          "versioned_id": {"type": "string", "minLength": 1},
          "base_id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["llm", "stt", "tts"]},
          "version": {"type": "string", "pattern": "^(0|[1-9][0-9]*)\\.(0|[1-9][0-9]*)\\.(0|[1-9][0-9]*)$"},
          "size_bytes": {"type": "integer", "minimum": 0},
          "source_url": {"type": "string", "minLength": 1},
          "checksum": {"type": "string"},
          "metadata": {"type": ["object", "null"]},
          "requirements": {"type": "object"}
        }
      }
    }
  }
}`

// validateSecureURL rejects malformed URLs and any scheme other than https.
// Called before any network I/O so an insecure source fails identically
// whether or not it is reachable.
func validateSecureURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return newError(ErrInvalidURL, "malformed url").
			withDetail("url", raw).
			withCause(err)
	}
	if u.Scheme != "https" {
		return newError(ErrInvalidURL, "scheme must be https").
			withDetail("url", raw).
			withDetail("scheme", u.Scheme).
			withSuggestion("serve the resource over https")
	}
	if u.Host == "" {
		return newError(ErrInvalidURL, "missing host").withDetail("url", raw)
	}
	return nil
}

// catalogClient fetches and caches the remote model catalog.
type catalogClient struct {
	// baseURL is the catalog base URL (e.g. "https://models.example.com").
	baseURL string

	// httpClient is used for HTTP requests.
	httpClient HTTPClient

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// cache holds the last fetched document for the configured TTL.
	// Nil when caching is disabled.
	cache *gocache.Cache
}

// newCatalogClient creates a catalog client. The baseURL is normalized by
// removing trailing slashes. A non-positive ttl disables caching.
func newCatalogClient(baseURL string, client HTTPClient, logger Logger, ttl time.Duration) *catalogClient {
	c := &catalogClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		logger:     logger,
	}
	if ttl > 0 {
		c.cache = gocache.New(ttl, 2*ttl)
	}
	return c
}

// fetchCatalog returns all valid catalog descriptors, served from cache
// within the TTL. The catalog URL is scheme-checked before the request and
// the document is schema-validated before decoding; entries that fail
// descriptor validation are skipped with a warning rather than failing the
// whole listing.
func (c *catalogClient) fetchCatalog(ctx context.Context) ([]ArtifactDescriptor, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(catalogCacheKey); ok {
			if cached, ok := v.([]ArtifactDescriptor); ok {
				return cached, nil
			}
		}
	}

	if err := validateSecureURL(c.baseURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+catalogPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching catalog: status %d: %w", resp.StatusCode, ErrCatalogError)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", ErrNetwork)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(catalogSchema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("validating catalog: %v: %w", err, ErrCatalogError)
	}
	if !result.Valid() {
		detail := "schema violation"
		if errs := result.Errors(); len(errs) > 0 {
			detail = errs[0].String()
		}
		return nil, fmt.Errorf("catalog failed validation: %s: %w", detail, ErrCatalogError)
	}

	var doc catalogDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", ErrCatalogError)
	}

	descriptors := make([]ArtifactDescriptor, 0, len(doc.Models))
	for _, d := range doc.Models {
		if err := d.Validate(); err != nil {
			if c.logger != nil {
				c.logger.Warn("skipping invalid catalog entry",
					"versioned_id", d.VersionedID, "error", err)
			}
			continue
		}
		descriptors = append(descriptors, d)
	}

	if c.logger != nil {
		c.logger.Debug("catalog fetched", "entries", len(descriptors))
	}

	if c.cache != nil {
		c.cache.Set(catalogCacheKey, descriptors, gocache.DefaultExpiration)
	}
	return descriptors, nil
}

// invalidate drops the cached catalog so the next fetch hits the network.
func (c *catalogClient) invalidate() {
	if c.cache != nil {
		c.cache.Delete(catalogCacheKey)
	}
}

// resolveEntry finds the catalog descriptor for an id. A versioned id must
// match exactly; a bare base id selects the newest catalog version.
func (c *catalogClient) resolveEntry(ctx context.Context, id string) (ArtifactDescriptor, error) {
	descriptors, err := c.fetchCatalog(ctx)
	if err != nil {
		return ArtifactDescriptor{}, err
	}

	baseID, want, hasVersion := ParseArtifactID(id)
	if hasVersion {
		for _, d := range descriptors {
			if d.BaseID == baseID && d.Version.Compare(want) == 0 {
				return d, nil
			}
		}
		return ArtifactDescriptor{}, newError(ErrModelNotFound, "no catalog entry").
			withDetail("versioned_id", id).
			withSuggestion("list available models to see valid ids")
	}

	var best ArtifactDescriptor
	found := false
	for _, d := range descriptors {
		if d.BaseID != baseID {
			continue
		}
		if !found || d.Version.Compare(best.Version) > 0 {
			best = d
			found = true
		}
	}
	if !found {
		return ArtifactDescriptor{}, newError(ErrModelNotFound, "no catalog entry").
			withDetail("base_id", baseID).
			withSuggestion("list available models to see valid ids")
	}
	return best, nil
}

// filterArtifacts keeps the descriptors compatible with the device: type
// match (or all), platform membership when the artifact declares platforms,
// and resource minimums within the device's reported capacity.
func filterArtifacts(list []ArtifactDescriptor, typeFilter ArtifactType, device DeviceCapabilities) []ArtifactDescriptor {
	out := make([]ArtifactDescriptor, 0, len(list))
	for _, d := range list {
		if artifactMatches(d, typeFilter, device) {
			out = append(out, d)
		}
	}
	return out
}

func artifactMatches(d ArtifactDescriptor, typeFilter ArtifactType, device DeviceCapabilities) bool {
	if typeFilter != ArtifactTypeAny && d.Type != typeFilter {
		return false
	}
	if len(d.Requirements.Platforms) > 0 && !containsTag(d.Requirements.Platforms, device.Platform) {
		return false
	}
	if d.Requirements.MinRAMBytes > 0 && d.Requirements.MinRAMBytes > device.RAMBytes {
		return false
	}
	if d.Requirements.MinStorageBytes > 0 && d.Requirements.MinStorageBytes > device.StorageBytes {
		return false
	}
	return true
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// recommendArtifacts filters then ranks compatible descriptors, best first,
// returning at most maxRecommendations. Ties break on versioned id so the
// ordering is deterministic.
func recommendArtifacts(list []ArtifactDescriptor, typeFilter ArtifactType, device DeviceCapabilities) []ArtifactDescriptor {
	matched := filterArtifacts(list, typeFilter, device)

	type scored struct {
		d     ArtifactDescriptor
		score float64
	}
	ranked := make([]scored, 0, len(matched))
	for _, d := range matched {
		ranked = append(ranked, scored{d: d, score: scoreArtifact(d, device)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].d.VersionedID < ranked[j].d.VersionedID
	})

	if len(ranked) > maxRecommendations {
		ranked = ranked[:maxRecommendations]
	}
	out := make([]ArtifactDescriptor, len(ranked))
	for i, s := range ranked {
		out[i] = s.d
	}
	return out
}

// scoreArtifact ranks a descriptor against the device. The function is
// monotonic: a strictly smaller storage or memory footprint never scores
// lower, and each matching accelerator tag adds a fixed bonus. Unknown
// device capacities contribute a neutral half weight.
func scoreArtifact(d ArtifactDescriptor, device DeviceCapabilities) float64 {
	var score float64

	if device.StorageBytes > 0 {
		frac := float64(d.SizeBytes) / float64(device.StorageBytes)
		if frac > 1 {
			frac = 1
		}
		score += 1 - frac
	} else {
		score += 0.5
	}

	if device.RAMBytes > 0 {
		frac := float64(d.Requirements.MinRAMBytes) / float64(device.RAMBytes)
		if frac > 1 {
			frac = 1
		}
		score += 1 - frac
	} else {
		score += 0.5
	}

	for _, tag := range strings.Split(d.Metadata[metadataKeyAccelerator], ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" && containsTag(device.Accelerators, tag) {
			score += 0.25
		}
	}

	return score
}
