package models

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Transfer limits and timing constants.
const (
	// DefaultMaxTransfers is the default cap on simultaneously live
	// transfers.
	DefaultMaxTransfers = 4

	// MaxTransfers is the upper bound the cap can be raised to.
	MaxTransfers = 16

	// DefaultRequestTimeout is the default timeout for catalog HTTP
	// requests. Transfer bodies stream past it; cancellation covers those.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultCatalogTTL is how long a fetched catalog stays cached before
	// the next listing refetches it.
	DefaultCatalogTTL = 5 * time.Minute

	// transferBufferSize is the copy buffer for transfer bodies.
	transferBufferSize = 32 * 1024

	// lockAcquireTimeout bounds how long a transfer waits for the
	// cross-process destination lock before reporting a conflict.
	lockAcquireTimeout = 2 * time.Second
)

// DownloadOption configures a download operation.
type DownloadOption func(*downloadConfig)

// downloadConfig holds configuration for a download operation.
type downloadConfig struct {
	// force causes re-download even if the version is already installed.
	force bool

	// handle overrides the generated transfer handle.
	handle string

	// progressFn is called with progress updates during the transfer.
	progressFn ProgressFunc
}

// newDownloadConfig returns a downloadConfig with default values.
func newDownloadConfig() *downloadConfig {
	return &downloadConfig{}
}

// WithForce forces re-download even if the version is already installed.
func WithForce() DownloadOption {
	return func(c *downloadConfig) {
		c.force = true
	}
}

// WithHandle sets a caller-supplied transfer handle. If not set, a UUID is
// generated.
func WithHandle(handle string) DownloadOption {
	return func(c *downloadConfig) {
		c.handle = handle
	}
}

// WithProgress sets a callback for progress updates during the transfer.
// The callback is invoked from the transfer worker goroutine and must be
// thread-safe.
func WithProgress(fn ProgressFunc) DownloadOption {
	return func(c *downloadConfig) {
		c.progressFn = fn
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for all catalog and transfer requests.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// tracerProvider supplies spans around lifecycle operations.
	tracerProvider trace.TracerProvider

	// catalogTTL is how long catalog fetches are cached.
	catalogTTL time.Duration

	// maxTransfers caps simultaneously live transfers.
	maxTransfers int
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		httpClient:     http.DefaultClient,
		tracerProvider: noop.NewTracerProvider(),
		catalogTTL:     DefaultCatalogTTL,
		maxTransfers:   DefaultMaxTransfers,
	}
}

// WithHTTPClient sets a custom HTTP client for catalog and transfer
// requests. Useful for testing with TLS test servers or customizing
// timeouts. If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used to span
// download, delete, and update-check operations. If not set, a no-op
// provider is used.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(c *managerConfig) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

// WithCatalogTTL sets how long a fetched catalog is served from cache.
// Zero or negative disables caching.
func WithCatalogTTL(ttl time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.catalogTTL = ttl
	}
}

// WithMaxTransfers caps the number of simultaneously live transfers.
// Values are clamped to the range [1, MaxTransfers].
// Default is DefaultMaxTransfers (4).
func WithMaxTransfers(n int) ManagerOption {
	return func(c *managerConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxTransfers {
			n = MaxTransfers
		}
		c.maxTransfers = n
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}
