//go:build windows

package inventory

import "os"

// statIdentity has no portable dev/ino on Windows; FileMetadata still
// carries path+size+mtime for identity purposes there.
func statIdentity(info os.FileInfo) (dev, ino uint64) {
	return 0, 0
}
