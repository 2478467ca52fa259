package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDataDirectory_PreferredWins(t *testing.T) {
	preferred := filepath.Join(t.TempDir(), "data")

	dir := GetDataDirectory(preferred)
	if dir != preferred {
		t.Errorf("Expected preferred directory %q, got %q", preferred, dir)
	}

	if _, err := os.Stat(preferred); err != nil {
		t.Errorf("Expected preferred directory to be created: %v", err)
	}
}

func TestGetDataDirectory_Fallback(t *testing.T) {
	dir := GetDataDirectory("")
	if dir == "" {
		t.Error("Expected non-empty data directory")
	}
}
