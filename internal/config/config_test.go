package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	p := writeConfig(t, `
[discovery]
policy = "strict"

[graph]
mode = "full-tree"
organization_name = "Example Org"

[fetch]
retries = 5
timeout = "10m"

[index]
rate_limit = 2.5

[cache]
backend = "redis"
redis_addr = "localhost:6379"
ttl = "1h"

[crate]
prefix = "run_"
on_error = "continue"
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := Default()
	want.Discovery.Policy = "strict"
	want.Graph.Mode = "full-tree"
	want.Graph.OrganizationName = "Example Org"
	want.Fetch.Retries = 5
	want.Fetch.Timeout = 10 * time.Minute
	want.Index.RateLimit = 2.5
	want.Cache.Backend = "redis"
	want.Cache.RedisAddr = "localhost:6379"
	want.Cache.TTL = time.Hour
	want.Crate.Prefix = "run_"
	want.Crate.OnError = "continue"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Profile().Organization != "https://ror.org/02catss52" {
		t.Error("unset profile fields should keep defaults")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	p := writeConfig(t, "[crate]\nprefix = \"file_\"\n")
	t.Setenv("CRATEPACK_PREFIX", "env_")
	t.Setenv("CRATEPACK_TIMEOUT", "90s")
	t.Setenv("CRATEPACK_RATE_LIMIT", "4")
	t.Setenv("CRATEPACK_REDIS_DB", "2")

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Crate.Prefix != "env_" {
		t.Errorf("Prefix = %q, want env_", cfg.Crate.Prefix)
	}
	if cfg.Fetch.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v", cfg.Fetch.Timeout)
	}
	if cfg.Index.RateLimit != 4 {
		t.Errorf("RateLimit = %v", cfg.Index.RateLimit)
	}
	if cfg.CacheConfig().DB != 2 {
		t.Errorf("RedisDB = %d", cfg.CacheConfig().DB)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "BadTOML", content: "[crate\n"},
		{name: "BadPolicy", content: "[discovery]\npolicy = \"loose\"\n"},
		{name: "BadMode", content: "[graph]\nmode = \"flat\"\n"},
		{name: "BadBackend", content: "[cache]\nbackend = \"memcached\"\n"},
		{name: "BadEnvDuration", env: map[string]string{"CRATEPACK_TIMEOUT": "soon"}},
		{name: "BadEnvInt", env: map[string]string{"CRATEPACK_RETRIES": "many"}},
		{name: "NegativeRate", env: map[string]string{"CRATEPACK_RATE_LIMIT": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("explicit missing config should fail")
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") without a default file: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}
