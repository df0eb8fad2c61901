//go:build linux

package models

import "golang.org/x/sys/unix"

// probeRAM returns total physical memory in bytes, 0 when the probe
// fails.
func probeRAM() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit)
}
