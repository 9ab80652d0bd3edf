//go:build unix

package validate

import "golang.org/x/sys/unix"

// freeBytes reports the free space on the filesystem holding dir, or -1 when
// it cannot be determined.
func freeBytes(dir string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return -1
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
