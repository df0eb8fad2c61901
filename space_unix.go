//go:build !windows

package models

import "golang.org/x/sys/unix"

// diskSpace returns total capacity and free space in bytes for the
// filesystem containing path. Free space is what an unprivileged caller
// can actually use, not the root-reserved figure.
func diskSpace(path string) (total, available int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	return int64(st.Blocks) * bsize, int64(st.Bavail) * bsize, nil
}
