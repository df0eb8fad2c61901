//go:build darwin

package models

import "golang.org/x/sys/unix"

// probeRAM returns total physical memory in bytes, 0 when the probe
// fails.
func probeRAM() int64 {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0
	}
	return int64(mem)
}
