package mediatool

import (
	"os"
	"path/filepath"
)

// filepathAbsIfFile returns the absolute path of p if it names a
// regular file, mirroring the Python os.path.isfile fallback when a
// configured tool path isn't found on PATH.
func filepathAbsIfFile(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", os.ErrNotExist
	}
	return filepath.Abs(p)
}
