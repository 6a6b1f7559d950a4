package taskfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Names are the file names looked up by Discover, in order of preference.
var Names = []string{"Spindlefile.yml", "Spindlefile.yaml"}

// Discover walks from dir up to the filesystem root and returns the first
// Spindlefile found.
func Discover(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for {
		for _, name := range Names {
			candidate := filepath.Join(abs, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no %s found in %s or any parent directory", Names[0], dir)
		}
		abs = parent
	}
}
