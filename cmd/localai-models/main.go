// Command localai-models manages model artifacts for on-device AI
// applications.
//
// Configuration is read from ~/.config/localai/models.yaml, overridable
// with environment variables:
//   - LOCALAI_CATALOG_URL: HTTPS base URL of the artifact catalog (required)
//   - LOCALAI_MODELS_DIR: override for the storage root (optional)
//   - LOCALAI_CONFIG: explicit config file path (optional)
//   - LOCALAI_DEBUG: log debug output to stderr when set (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	models "github.com/Akshay-at-360/Local-Ai-App-sub002"
	"github.com/Akshay-at-360/Local-Ai-App-sub002/internal/tracing"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments or input.
	ExitInvalidArgs = 2

	// ExitModelNotFound indicates the artifact was not found in the catalog.
	ExitModelNotFound = 3

	// ExitNotInstalled indicates the artifact is not installed locally.
	ExitNotInstalled = 4

	// ExitNetworkError indicates a network or catalog failure.
	ExitNetworkError = 5

	// ExitHashMismatch indicates checksum verification failed.
	ExitHashMismatch = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7

	// ExitInsufficientStorage indicates there is not enough free space.
	ExitInsufficientStorage = 8
)

// appConfig is the CLI configuration, bound from file and environment.
type appConfig struct {
	CatalogURL   string         `mapstructure:"catalog_url"`
	DataDir      string         `mapstructure:"data_dir"`
	MaxTransfers int            `mapstructure:"max_transfers"`
	CatalogTTL   time.Duration  `mapstructure:"catalog_ttl"`
	Tracing      tracing.Config `mapstructure:"tracing"`
}

func loadConfig() (appConfig, error) {
	v := viper.New()

	v.SetDefault("max_transfers", models.DefaultMaxTransfers)
	v.SetDefault("catalog_ttl", models.DefaultCatalogTTL)
	td := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", td.Enabled)
	v.SetDefault("tracing.exporter", td.Exporter)
	v.SetDefault("tracing.otlp_endpoint", td.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", td.SampleRate)
	v.SetDefault("tracing.service_name", td.ServiceName)

	v.SetEnvPrefix("LOCALAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := os.Getenv("LOCALAI_CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return appConfig{}, fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "localai"))
		v.SetConfigName("models")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return appConfig{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("parsing config: %w", err)
	}

	// Environment-only keys are not always picked up by Unmarshal.
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = v.GetString("catalog_url")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = v.GetString("data_dir")
	}
	return cfg, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.CatalogURL == "" {
		fmt.Fprintln(os.Stderr, "Error: catalog_url must be set (config file or LOCALAI_CATALOG_URL)")
		return ExitInvalidArgs
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	opts := []models.ManagerOption{
		models.WithTracerProvider(provider.TracerProvider()),
		models.WithMaxTransfers(cfg.MaxTransfers),
		models.WithCatalogTTL(cfg.CatalogTTL),
	}
	if os.Getenv("LOCALAI_DEBUG") != "" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, models.WithLogger(logger))
	}

	mcfg := models.Config{
		AppName:    "localai",
		CatalogURL: cfg.CatalogURL,
		DataDir:    cfg.DataDir,
		// DataDir can also be set via LOCALAI_MODELS_DIR (handled by the
		// storage layer).
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := models.NewCommand(mcfg, opts...)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return exitCodeFromError(err)
	}
	return ExitSuccess
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, models.ErrModelNotFound):
		return ExitModelNotFound
	case errors.Is(err, models.ErrNotInstalled):
		return ExitNotInstalled
	case errors.Is(err, models.ErrPinNotFound):
		return ExitNotInstalled
	case errors.Is(err, models.ErrNetwork):
		return ExitNetworkError
	case errors.Is(err, models.ErrCatalogError):
		return ExitNetworkError
	case errors.Is(err, models.ErrHashMismatch):
		return ExitHashMismatch
	case errors.Is(err, models.ErrInsufficientStorage):
		return ExitInsufficientStorage
	case errors.Is(err, models.ErrStorage):
		return ExitStorageError
	case errors.Is(err, models.ErrInvalidRef),
		errors.Is(err, models.ErrInvalidVersion),
		errors.Is(err, models.ErrInvalidURL):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}
