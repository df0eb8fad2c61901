//go:build windows

package models

import "golang.org/x/sys/windows"

// diskSpace returns total capacity and free space in bytes for the volume
// containing path.
func diskSpace(path string) (total, available int64, err error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	var freeToCaller, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &totalBytes, &totalFree); err != nil {
		return 0, 0, err
	}
	return int64(totalBytes), int64(freeToCaller), nil
}
