//go:build !windows

package inventory

import (
	"os"
	"syscall"
)

// statIdentity extracts dev/ino from the platform stat_t (Unix).
func statIdentity(info os.FileInfo) (dev, ino uint64) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(stat.Dev), uint64(stat.Ino)
}
