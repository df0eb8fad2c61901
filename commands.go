package models

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewCommand creates a Cobra command tree for model artifact management.
// The returned command should be added to a parent CLI's root command.
//
// Commands provided:
//   - models available [--type] [--device]
//   - models recommend [--type] [--device]
//   - models list
//   - models download <artifact-id> [--force]
//   - models remove <versioned-id> [--yes]
//   - models info <artifact-id>
//   - models path <versioned-id>
//   - models pin <base-id> <version>
//   - models unpin <base-id>
//   - models update [<base-id>] [--apply]
//   - models storage
//   - models cleanup [--yes]
//
// Global flags: --json, --quiet, --verbose
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		verbose    bool
	)

	// Manager will be created in PersistentPreRunE
	var mgr Manager

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage local AI model artifacts",
		Long:  "Download, verify, and manage model artifacts for on-device AI workloads.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip manager creation for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			mgr, err = NewManager(cfg, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize manager: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if mgr != nil {
				return mgr.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Add subcommands
	cmd.AddCommand(availableCmd(&mgr, &jsonOutput))
	cmd.AddCommand(recommendCmd(&mgr, &jsonOutput))
	cmd.AddCommand(listCmd(&mgr, &jsonOutput))
	cmd.AddCommand(downloadCmd(&mgr, &quiet))
	cmd.AddCommand(removeCmd(&mgr, &quiet))
	cmd.AddCommand(infoCmd(&mgr, &jsonOutput))
	cmd.AddCommand(pathCmd(&mgr))
	cmd.AddCommand(pinCmd(&mgr, &quiet))
	cmd.AddCommand(unpinCmd(&mgr, &quiet))
	cmd.AddCommand(updateCmd(&mgr, &jsonOutput, &quiet))
	cmd.AddCommand(storageCmd(&mgr, &jsonOutput))
	cmd.AddCommand(cleanupCmd(&mgr, &quiet))

	return cmd
}

// deviceForFlags loads a device profile when one was given, otherwise
// probes the host and borrows free space from the manager's storage root.
func deviceForFlags(ctx context.Context, mgr Manager, profilePath string) (DeviceCapabilities, error) {
	if profilePath != "" {
		return LoadDeviceProfile(profilePath)
	}
	caps := DetectDevice("")
	if info, err := mgr.StorageInfo(ctx); err == nil {
		caps.StorageBytes = info.AvailableBytes
	}
	return caps, nil
}

func availableCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	var (
		typeFilter string
		deviceFile string
	)

	cmd := &cobra.Command{
		Use:   "available",
		Short: "List catalog artifacts that fit this device",
		Long:  "List catalog artifacts whose requirements this device satisfies.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			at, err := ParseArtifactType(typeFilter)
			if err != nil {
				return err
			}
			device, err := deviceForFlags(ctx, *mgr, deviceFile)
			if err != nil {
				return err
			}

			artifacts, err := (*mgr).ListAvailable(ctx, device, at)
			if err != nil {
				return err
			}
			return outputArtifacts(cmd.OutOrStdout(), artifacts, *jsonOutput, "No compatible artifacts in catalog")
		},
	}

	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Filter by artifact type (llm, stt, tts)")
	cmd.Flags().StringVar(&deviceFile, "device", "", "Path to a YAML device profile")
	return cmd
}

func recommendCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	var (
		typeFilter string
		deviceFile string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend artifacts for this device",
		Long:  "Rank compatible catalog artifacts by device fit, best first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			at, err := ParseArtifactType(typeFilter)
			if err != nil {
				return err
			}
			device, err := deviceForFlags(ctx, *mgr, deviceFile)
			if err != nil {
				return err
			}

			artifacts, err := (*mgr).Recommend(ctx, device, at)
			if err != nil {
				return err
			}
			return outputArtifacts(cmd.OutOrStdout(), artifacts, *jsonOutput, "Nothing to recommend for this device")
		},
	}

	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Filter by artifact type (llm, stt, tts)")
	cmd.Flags().StringVar(&deviceFile, "device", "", "Path to a YAML device profile")
	return cmd
}

func listCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts, err := (*mgr).ListInstalled(cmd.Context())
			if err != nil {
				return err
			}
			return outputArtifacts(cmd.OutOrStdout(), artifacts, *jsonOutput, "No artifacts installed")
		},
	}
}

func downloadCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "download <artifact-id>",
		Short: "Download and install an artifact",
		Long:  "Download an artifact from the catalog, verify its checksum, and register it locally. A base ID selects the newest catalog version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []DownloadOption
			if force {
				opts = append(opts, WithForce())
			}

			if !*quiet {
				startTime := time.Now()
				opts = append(opts, WithProgress(func(p TransferProgress) {
					renderProgress(cmd.OutOrStdout(), p, startTime)
				}))
			}

			t, err := (*mgr).Download(ctx, args[0], opts...)
			if err != nil {
				if errors.Is(err, ErrAlreadyInstalled) {
					if !*quiet {
						fmt.Fprintf(cmd.OutOrStdout(), "Artifact %s is already installed (use --force to re-download)\n", args[0])
					}
					return nil
				}
				return err
			}

			err = t.Wait(ctx)
			if !*quiet {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if err != nil {
				if ctx.Err() != nil {
					// Interrupted. Stop the transfer and wait for cleanup.
					t.Close()
				}
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully installed %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Force re-download even if already installed")
	return cmd
}

func removeCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <versioned-id>",
		Short: "Remove an installed artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Confirmation prompt
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Remove %s? [y/N]: ", args[0])
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := (*mgr).Delete(ctx, args[0]); err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func infoCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info <artifact-id>",
		Short: "Show installed artifact information",
		Long:  "Show detailed information about an installed artifact. A base ID resolves to the pinned version, or the newest installed one.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				desc ArtifactDescriptor
				err  error
			)
			if _, _, versioned := ParseArtifactID(args[0]); versioned {
				desc, err = (*mgr).GetInfo(ctx, args[0])
			} else {
				desc, err = (*mgr).GetInfoByBaseID(ctx, args[0])
			}
			if err != nil {
				return err
			}

			path, err := (*mgr).Path(ctx, desc.VersionedID)
			if err != nil {
				return err
			}
			pinned, isPinned := (*mgr).PinnedVersion(ctx, desc.BaseID)

			return outputArtifactDetail(cmd.OutOrStdout(), desc, path, pinned, isPinned, *jsonOutput)
		},
	}
}

func pathCmd(mgr *Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "path <versioned-id>",
		Short: "Print path to an installed artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := (*mgr).Path(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func pinCmd(mgr *Manager, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <base-id> <version>",
		Short: "Pin a base ID to an installed version",
		Long:  "Make resolution of the base ID return the given installed version until unpinned.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*mgr).Pin(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Pinned %s to %s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func unpinCmd(mgr *Manager, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <base-id>",
		Short: "Remove a version pin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*mgr).Unpin(cmd.Context(), args[0]); err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Unpinned %s\n", args[0])
			}
			return nil
		},
	}
}

func updateCmd(mgr *Manager, jsonOutput, quiet *bool) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "update [base-id]",
		Short: "Check for artifact updates",
		Long:  "Check if newer catalog versions exist for installed artifacts. Use --apply to download them.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			type updateRow struct {
				BaseID    string `json:"base_id"`
				Installed string `json:"installed_version"`
				Latest    string `json:"latest_version"`
				Available bool   `json:"update_available"`
			}

			var baseIDs []string
			if len(args) == 1 {
				baseIDs = []string{args[0]}
			} else {
				installed, err := (*mgr).ListInstalled(ctx)
				if err != nil {
					return err
				}
				seen := make(map[string]bool)
				for _, d := range installed {
					if !seen[d.BaseID] {
						seen[d.BaseID] = true
						baseIDs = append(baseIDs, d.BaseID)
					}
				}
				sort.Strings(baseIDs)
			}

			var (
				updates []updateRow
				toApply []*UpdateInfo
			)
			for _, baseID := range baseIDs {
				info, err := (*mgr).CheckUpdate(ctx, baseID)
				if err != nil {
					if len(args) == 1 {
						return err
					}
					// Skip artifacts that fail to check
					continue
				}
				updates = append(updates, updateRow{
					BaseID:    baseID,
					Installed: info.Installed.Version.String(),
					Latest:    info.Latest.Version.String(),
					Available: info.Available,
				})
				if info.Available {
					toApply = append(toApply, info)
				}
			}

			// Output results
			if *jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(updates)
			}

			for _, u := range updates {
				if u.Available {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", u.BaseID, u.Installed, u.Latest)
				} else if !*quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: up to date\n", u.BaseID)
				}
			}
			if len(toApply) == 0 {
				if !*quiet {
					fmt.Fprintln(cmd.OutOrStdout(), "All artifacts are up to date")
				}
				return nil
			}

			if apply {
				for _, info := range toApply {
					if !*quiet {
						fmt.Fprintf(cmd.OutOrStdout(), "  Downloading %s...\n", info.Latest.VersionedID)
					}
					t, err := (*mgr).Download(ctx, info.Latest.VersionedID)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "  Error: %v\n", err)
						continue
					}
					if err := t.Wait(ctx); err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "  Error: %v\n", err)
						continue
					}
					if !*quiet {
						fmt.Fprintf(cmd.OutOrStdout(), "  Installed %s\n", info.Latest.VersionedID)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Download available updates")
	return cmd
}

func storageCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "storage",
		Short: "Show storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := (*mgr).StorageInfo(cmd.Context())
			if err != nil {
				return err
			}

			if *jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Total:          %s\n", formatSize(info.TotalBytes))
			fmt.Fprintf(w, "Available:      %s\n", formatSize(info.AvailableBytes))
			fmt.Fprintf(w, "Used by models: %s\n", formatSize(info.UsedByModelsBytes))
			return nil
		},
	}
}

func cleanupCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover partial downloads",
		Long:  "Remove temp files left behind by interrupted transfers. Active transfers are not touched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Confirmation prompt
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "Remove leftover partial downloads? [y/N]: ")
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			reclaimed, err := (*mgr).CleanupIncomplete(ctx)
			if err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %s\n", formatSize(reclaimed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

// confirmPrompt reads from stdin and returns true only if the user types 'y' or 'yes'.
// Returns false for empty input or any other response (default is no).
func confirmPrompt(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		response := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return response == "y" || response == "yes"
	}
	return false
}

// Output helpers

func outputArtifacts(w io.Writer, artifacts []ArtifactDescriptor, asJSON bool, emptyMsg string) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(artifacts)
	}

	if len(artifacts) == 0 {
		fmt.Fprintln(w, emptyMsg)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tTYPE\tVERSION\tSIZE")
	for _, d := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.VersionedID,
			d.Type,
			d.Version,
			formatSize(d.SizeBytes),
		)
	}
	return tw.Flush()
}

func outputArtifactDetail(w io.Writer, d ArtifactDescriptor, path string, pinned Version, isPinned bool, asJSON bool) error {
	if asJSON {
		out := struct {
			ArtifactDescriptor
			Path          string `json:"path"`
			PinnedVersion string `json:"pinned_version,omitempty"`
		}{ArtifactDescriptor: d, Path: path}
		if isPinned {
			out.PinnedVersion = pinned.String()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Artifact:     %s\n", d.VersionedID)
	fmt.Fprintf(w, "Base ID:      %s\n", d.BaseID)
	fmt.Fprintf(w, "Type:         %s\n", d.Type)
	fmt.Fprintf(w, "Version:      %s\n", d.Version)
	fmt.Fprintf(w, "Size:         %s\n", formatSize(d.SizeBytes))
	fmt.Fprintf(w, "Checksum:     %s\n", truncateDigest(d.Checksum))
	fmt.Fprintf(w, "Path:         %s\n", path)
	if isPinned {
		fmt.Fprintf(w, "Pinned:       yes (%s)\n", pinned)
	} else {
		fmt.Fprintf(w, "Pinned:       no\n")
	}
	if len(d.Requirements.Platforms) > 0 {
		fmt.Fprintf(w, "Platforms:    %s\n", strings.Join(d.Requirements.Platforms, ", "))
	}
	if d.Requirements.MinRAMBytes > 0 {
		fmt.Fprintf(w, "Min RAM:      %s\n", formatSize(d.Requirements.MinRAMBytes))
	}
	return nil
}

func truncateDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16] + "..."
	}
	return digest
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// renderProgress renders the progress bar to the writer.
// Format: Downloading [============>                 ] 45% (5.2 MB/s, elapsed: 30s, remaining: 2m 15s)
func renderProgress(w io.Writer, p TransferProgress, startTime time.Time) {
	elapsed := time.Since(startTime)

	pct := p.Fraction * 100
	if pct > 100 {
		pct = 100
	}

	// Remaining time from the current average speed
	var remaining time.Duration
	if p.BytesPerSecond > 0 && p.BytesTransferred < p.ExpectedBytes {
		remaining = time.Duration(float64(p.ExpectedBytes-p.BytesTransferred)/p.BytesPerSecond) * time.Second
	}

	// Build progress bar
	const barWidth = 30
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	if filled >= barWidth {
		bar = strings.Repeat("=", barWidth)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled-1)
	} else {
		bar = ">" + strings.Repeat(" ", barWidth-1)
	}

	// Format and print (using \r to overwrite, \x1b[K to clear to end of line)
	fmt.Fprintf(w, "\r\x1b[KDownloading [%s] %.0f%% (%s, elapsed: %s, remaining: %s)",
		bar, pct, formatSpeed(p.BytesPerSecond), formatDuration(elapsed), formatDuration(remaining))
}

// formatSpeed formats bytes per second as KB/s or MB/s.
func formatSpeed(bytesPerSec float64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	if bytesPerSec >= MB {
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/MB)
	}
	if bytesPerSec >= KB {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/KB)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// formatDuration formats a duration as human-readable text (e.g., "5s", "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
