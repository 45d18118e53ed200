// Package atomicfile provides write-to-temp-then-rename helpers so readers
// never observe a partially-written document.
package atomicfile

import (
	"os"

	"github.com/google/renameio/v2"
)

// Write atomically replaces path with data, creating parent permissions
// mode perm. It never leaves a half-written file behind: renameio writes to
// a temp file in the same directory and renames over the target.
func Write(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
