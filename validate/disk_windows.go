//go:build windows

package validate

import "golang.org/x/sys/windows"

// freeBytes reports the free space on the filesystem holding dir, or -1 when
// it cannot be determined.
func freeBytes(dir string) int64 {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return -1
	}
	var free, total, avail uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &avail); err != nil {
		return -1
	}
	return int64(free)
}
