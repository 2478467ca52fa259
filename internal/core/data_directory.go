package core

import (
	"os"
	"path/filepath"
)

// GetDataDirectory returns the best available data directory. A non-empty
// preferred path wins when it is writable; otherwise production paths are tried
// before user-accessible fallbacks for development.
func GetDataDirectory(preferred string) string {
	candidates := []string{
		"/opt/pos/data/terminal_bridge",
		"/var/lib/pos-terminal-bridge",
		"/usr/local/var/pos-terminal-bridge",
	}
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}

	for _, path := range candidates {
		if writable(path) {
			return path
		}
	}

	fallbackPaths := []string{
		filepath.Join(os.TempDir(), "pos-terminal-bridge"),
		"./data",
	}

	for _, path := range fallbackPaths {
		if err := os.MkdirAll(path, 0o755); err == nil {
			return path
		}
	}

	// Last resort - current directory
	return "."
}

func writable(path string) bool {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return false
	}
	_ = file.Close()
	_ = os.Remove(testFile)
	return true
}
