package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAccountSeedsMissingFileReturnsNil(t *testing.T) {
	seeds, err := LoadAccountSeeds(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seeds != nil {
		t.Errorf("seeds = %v, want nil", seeds)
	}
}

func TestLoadAccountSeedsParsesFlatList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	body := "- email: a@example.com\n  password: hunter2\n- email: b@example.com\n  password: swordfish\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	seeds, err := LoadAccountSeeds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("len(seeds) = %d, want 2", len(seeds))
	}
	if seeds[0].Email != "a@example.com" || seeds[0].Password != "hunter2" {
		t.Errorf("seeds[0] = %+v, want email a@example.com password hunter2", seeds[0])
	}
	if seeds[1].Email != "b@example.com" || seeds[1].Password != "swordfish" {
		t.Errorf("seeds[1] = %+v, want email b@example.com password swordfish", seeds[1])
	}
}

func TestLoadAccountSeedsMalformedYAMLIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := LoadAccountSeeds(path); err == nil {
		t.Error("expected an error parsing malformed YAML, got nil")
	}
}
