package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlexanderGrooff/spindle/pkg/common"
)

// DefaultPath is used when no inventory is configured and it exists.
const DefaultPath = "inventory"

// splitInventoryPaths splits a colon-separated list, dropping empty entries.
func splitInventoryPaths(paths string) []string {
	result := []string{}
	for _, p := range strings.Split(paths, ":") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// inventoryFiles expands a path into the YAML files it names. Directories
// contribute their *.yml and *.yaml files in lexical order.
func inventoryFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile parses a single inventory file.
func LoadFile(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading inventory file %s: %w", path, err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	inv.sources = []string{path}
	return inv, nil
}

// Load reads every inventory named by paths, a colon-separated list of files
// and directories, and merges them in order.
func Load(paths string) (*Inventory, error) {
	inv := New()
	list := splitInventoryPaths(paths)
	if len(list) == 0 {
		return inv, nil
	}
	for _, p := range list {
		files, err := inventoryFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			common.LogDebug("Loading inventory file", map[string]interface{}{"path": f})
			part, err := LoadFile(f)
			if err != nil {
				return nil, err
			}
			inv.Merge(part)
		}
	}
	return inv, nil
}

// Discover returns the configured inventory paths, or DefaultPath under dir
// if it exists, or "" when there is nothing to load.
func Discover(configured, dir string) string {
	if configured != "" {
		return configured
	}
	candidate := filepath.Join(dir, DefaultPath)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	for _, ext := range []string{".yml", ".yaml"} {
		if _, err := os.Stat(candidate + ext); err == nil {
			return candidate + ext
		}
	}
	return ""
}
