package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TBDB.OAuthURL != DefaultOAuthURL || cfg.TBDB.Scope != "data:read" {
		t.Fatalf("unexpected tbdb defaults: %+v", cfg.TBDB)
	}
	if cfg.TBDB.ThrottleDefault != 1100*time.Millisecond {
		t.Fatalf("expected 1.1s throttle default, got %v", cfg.TBDB.ThrottleDefault)
	}
	if cfg.Server.Addr() != "127.0.0.1:4001" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shelflife.yaml")
	yaml := `
server:
  host: 0.0.0.0
  port: 8080
tbdb:
  api_url: https://api.example.test/
  request_timeout: 5s
worker:
  concurrency: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9090")
	t.Setenv("TBDB_OAUTH_URL", "https://auth.example.test/")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.TBDB.APIURL != "https://api.example.test" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.TBDB.APIURL)
	}
	if cfg.TBDB.OAuthURL != "https://auth.example.test" {
		t.Fatalf("expected env override, got %s", cfg.TBDB.OAuthURL)
	}
	if cfg.TBDB.RequestTimeout != 5*time.Second || cfg.Worker.Concurrency != 4 {
		t.Fatalf("unexpected values: %+v %+v", cfg.TBDB, cfg.Worker)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TBDB_API_URI", "not a url")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "APIURL") {
		t.Fatalf("expected validation error naming APIURL, got %v", err)
	}
}

func TestLoad_BadPort(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}
