package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Backend.URL = "https://example.test"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Backend.URL != "https://example.test" {
		t.Errorf("Backend.URL = %q, want https://example.test", loaded.Backend.URL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDefaultsSurviveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Feed.PageSize != 20 {
		t.Errorf("PageSize = %d, want default 20", loaded.Feed.PageSize)
	}
	if loaded.Feed.CacheCap != 100 {
		t.Errorf("CacheCap = %d, want default 100", loaded.Feed.CacheCap)
	}
}

func TestEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KOINONIA_BACKEND_URL", "https://override.test")
	t.Setenv("KOINONIA_PAGE_SIZE", "35")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Backend.URL != "https://override.test" {
		t.Errorf("Backend.URL = %q, want override", loaded.Backend.URL)
	}
	if loaded.Feed.PageSize != 35 {
		t.Errorf("PageSize = %d, want 35", loaded.Feed.PageSize)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
