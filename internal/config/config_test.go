package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDefaults(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize(\"\") returned error: %v", err)
	}
	if got := GetString(KeyLogLevel); got != "info" {
		t.Errorf("GetString(KeyLogLevel) = %q, want \"info\"", got)
	}
	if got := GetBool(KeyLogJSON); got != false {
		t.Errorf("GetBool(KeyLogJSON) = %v, want false", got)
	}
	if got := GetInt(KeyByteBudget); got != 4<<20 {
		t.Errorf("GetInt(KeyByteBudget) = %d, want %d", got, 4<<20)
	}
}

func TestInitializeEnvironmentOverride(t *testing.T) {
	old, had := os.LookupEnv("MOSAIC_LOG_LEVEL")
	_ = os.Setenv("MOSAIC_LOG_LEVEL", "debug")
	defer func() {
		if had {
			os.Setenv("MOSAIC_LOG_LEVEL", old)
		} else {
			os.Unsetenv("MOSAIC_LOG_LEVEL")
		}
	}()

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize(\"\") returned error: %v", err)
	}
	if got := GetString(KeyLogLevel); got != "debug" {
		t.Errorf("GetString(KeyLogLevel) = %q, want \"debug\" from MOSAIC_LOG_LEVEL", got)
	}
}

func TestInitializeYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mosaic.yaml")
	content := "log-level: warn\ningest-byte-budget: 1024\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize(%q) returned error: %v", path, err)
	}
	if got := GetString(KeyLogLevel); got != "warn" {
		t.Errorf("GetString(KeyLogLevel) = %q, want \"warn\"", got)
	}
	if got := GetInt(KeyByteBudget); got != 1024 {
		t.Errorf("GetInt(KeyByteBudget) = %d, want 1024", got)
	}
}

func TestInitializeMissingFile(t *testing.T) {
	err := Initialize(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Initialize() with a missing config file should return an error")
	}
}

func TestEnsureLazyInitializes(t *testing.T) {
	v = nil
	if got := GetString(KeyLogLevel); got != "info" {
		t.Errorf("GetString(KeyLogLevel) before explicit Initialize = %q, want \"info\"", got)
	}
}
