package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "edgecheck.yaml")

	cfg := Default()
	cfg.Diagnostic.SampleCount = 12
	cfg.Diagnostic.Interval = 250 * time.Millisecond

	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Fatalf("expected perms 0640 got %v", perm)
	}
	if _, err := os.Stat(path + ".tmp"); err == nil {
		t.Fatalf("temp file must not remain")
	}

	loaded, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Diagnostic.SampleCount != 12 || loaded.Diagnostic.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected diagnostic config %+v", loaded.Diagnostic)
	}
	if loaded.Server.Listen != cfg.Server.Listen {
		t.Fatalf("expected listen %q got %q", cfg.Server.Listen, loaded.Server.Listen)
	}
}
