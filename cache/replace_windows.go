//go:build windows

package cache

import "os"

// replaceFile installs src at dst. Windows refuses to rename over an
// existing file, so an existing destination is deleted first. A concurrent
// reader can observe a miss in the window between the two calls; callers
// treat a miss as a cache refetch, so this is harmless.
func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(src, dst)
}
