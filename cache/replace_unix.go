//go:build !windows

package cache

import "os"

// replaceFile atomically installs src at dst. POSIX rename replaces an
// existing file in one step.
func replaceFile(src, dst string) error {
	return os.Rename(src, dst)
}
