package shim

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed taskdog.js
var nodePreload []byte

// WriteNodePreload materializes the node preload module under dir and
// returns its path, for use with node --require.
func WriteNodePreload(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create shim directory: %w", err)
	}
	path := filepath.Join(dir, "taskdog.js")
	if err := os.WriteFile(path, nodePreload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write node shim: %w", err)
	}
	return path, nil
}
