//go:build windows

package models

// probeRAM is not implemented on Windows. Zero means unknown; requirement
// checks against an unknown value are applied literally, so callers on
// Windows should load a device profile for accurate filtering.
func probeRAM() int64 {
	return 0
}
