// Package models manages the lifecycle of AI model artifacts (LLM, speech
// recognition, and speech synthesis binaries) on storage-constrained
// devices: discovery against a remote catalog, resumable verified
// downloads, a crash-consistent local registry, version pinning, and
// storage accounting.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Manager interface - Applications use
//     NewManager (or the process-wide Init/Default pair) to list, download,
//     pin, and remove artifacts.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach a
//     complete "models" subcommand tree to their Cobra root command,
//     providing commands like "mytool models download" and
//     "mytool models recommend".
//
// # Thread Safety
//
// The Manager interface is fully thread-safe. All methods can be called
// concurrently from multiple goroutines without external synchronization.
// Each Download returns a Transfer whose methods are likewise safe for
// concurrent use.
//
// # Transfers
//
// Downloads run over HTTPS only, resume from partial files using HTTP
// range requests, and are verified against the catalog's SHA-256 checksum
// before the artifact becomes visible. An artifact file appears at its
// final path only after verification succeeds, and its registry entry is
// written before the transfer reports completion, so a crash at any point
// leaves either a resumable temp file or a fully installed artifact.
//
// # Storage
//
// Artifacts are stored in platform-appropriate directories:
//   - Linux: $XDG_DATA_HOME/<app>/models/ or ~/.local/share/<app>/models/
//   - macOS: ~/Library/Application Support/<app>/models/
//   - Windows: %APPDATA%\<app>\models\
//
// The storage location can be overridden via Config.DataDir or an
// environment variable derived from Config.AppName: an app named
// "localai" honors LOCALAI_MODELS_DIR. The environment variable takes
// precedence.
package models
