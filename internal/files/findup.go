package files

import (
	"os"
	"path/filepath"
)

// FindUp looks for one of names in dir and each of its parents, returning the first match or "" if there is none.
// Nearer directories win; within a directory, names are tried in order.
func FindUp(dir string, names ...string) string {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err == nil {
			for _, name := range names {
				for _, e := range entries {
					if name == e.Name() {
						return filepath.Join(curDir, name)
					}
				}
			}
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return ""
		}
		curDir = newDir
	}
}
