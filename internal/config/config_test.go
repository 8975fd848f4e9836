package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
diagnostic:
  sample_count: 5
  interval: 200ms
  request_timeout: 10s
endpoints:
  locations_url: https://mirror.example.com/locations
catalog:
  file: /var/lib/edgecheck/locations.json
  signature_file: /var/lib/edgecheck/locations.json.minisig
  public_key: RWQf6LRCGA9i53mlYecO4IzT51TGPpvWucNSCh1CBM0QTaLn73Y7GFO3
geoip:
  asn_database: /usr/share/GeoIP/GeoLite2-ASN.mmdb
  stun_servers: [stun.l.google.com:19302]
server:
  listen: 0.0.0.0:9090
  max_concurrent_runs: 2
log:
  level: debug
  file: /var/log/edgecheck.log
  compress: true
`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "edgecheck.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Diagnostic.SampleCount != 5 || cfg.Diagnostic.Interval != 200*time.Millisecond {
		t.Fatalf("unexpected diagnostic config: %+v", cfg.Diagnostic)
	}
	if cfg.Diagnostic.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.Diagnostic.RequestTimeout)
	}
	if cfg.Endpoints.LocationsURL != "https://mirror.example.com/locations" {
		t.Fatalf("unexpected locations url: %s", cfg.Endpoints.LocationsURL)
	}
	if cfg.Endpoints.TracePath != "/cdn-cgi/trace" {
		t.Fatalf("expected default trace path, got %s", cfg.Endpoints.TracePath)
	}
	if len(cfg.GeoIP.STUNServers) != 1 || cfg.GeoIP.STUNServers[0] != "stun.l.google.com:19302" {
		t.Fatalf("unexpected stun servers: %#v", cfg.GeoIP.STUNServers)
	}
	if cfg.Server.MaxConcurrentRuns != 2 || cfg.Server.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Compress {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Diagnostic.SampleCount != 8 {
		t.Fatalf("expected 8 samples, got %d", cfg.Diagnostic.SampleCount)
	}
	if cfg.Diagnostic.RequestTimeout != 0 || cfg.Diagnostic.Interval != 0 {
		t.Fatalf("expected no timeout and no pacing by default: %+v", cfg.Diagnostic)
	}
	if cfg.Endpoints.StatusPath != "/emby/system/info/public" || cfg.Endpoints.MetaURL != "https://speed.cloudflare.com/meta" {
		t.Fatalf("unexpected endpoints: %+v", cfg.Endpoints)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadRejectsInconsistentCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgecheck.yaml")
	data := "catalog:\n  signature_file: /tmp/locations.json.minisig\nendpoints:\n  trace_path: cdn-cgi/trace\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"trace_path", "require catalog.file"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "edgecheck.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(envConfigPath, path)

	cfg, err := LoadFromEnv(ctx)
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:9090" {
		t.Fatalf("unexpected listen address: %s", cfg.Server.Listen)
	}
}

func TestResolvePrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgecheck.yaml")
	if err := os.WriteFile(path, []byte("diagnostic:\n  sample_count: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, filepath.Join(dir, "missing.yaml"))

	cfg, err := Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.Diagnostic.SampleCount != 3 {
		t.Fatalf("unexpected sample count %d", cfg.Diagnostic.SampleCount)
	}
	if _, err := Resolve(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing env config")
	}
}
