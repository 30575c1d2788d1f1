package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := config.FromEnv()
	want := config.Defaults()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("expected defaults\n got: %+v\nwant: %+v", cfg, want)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BEACON_HTTP_ADDR", ":9999")
	t.Setenv("BEACON_GRPC_ADDR", "")
	t.Setenv("BEACON_ENV", "PROD")
	t.Setenv("BEACON_STORE", "Memory")
	t.Setenv("BEACON_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("BEACON_LOCATION_RETENTION_DAYS", "0")
	t.Setenv("BEACON_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg := config.FromEnv()
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("an empty BEACON_GRPC_ADDR should disable gRPC, got %q", cfg.GRPCAddr)
	}
	if cfg.Env != "prod" || cfg.Store != config.StoreMemory {
		t.Errorf("Env/Store not normalised: %q %q", cfg.Env, cfg.Store)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %s", cfg.HeartbeatInterval)
	}
	if cfg.LocationRetentionDays != 0 {
		t.Errorf("LocationRetentionDays = %d", cfg.LocationRetentionDays)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestFromEnv_MalformedFallsBack(t *testing.T) {
	t.Setenv("BEACON_ENV", "staging")
	t.Setenv("BEACON_COMMAND_TIMEOUT", "soon")
	t.Setenv("BEACON_LOCATION_RETENTION_DAYS", "-4")

	cfg := config.FromEnv()
	def := config.Defaults()
	if cfg.Env != "dev" || cfg.CommandTimeout != def.CommandTimeout || cfg.LocationRetentionDays != def.LocationRetentionDays {
		t.Errorf("malformed values should fall back: %+v", cfg)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
http_addr: ":7000"
store: postgres
database_url: postgres://beacon@localhost/beacon
command_timeout: 5s
prune_schedule: "@daily"
allowed_origins: [https://dash.example]
`)
	t.Setenv("BEACON_HTTP_ADDR", ":7001")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Errorf("env should override the file, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != config.StorePostgres || cfg.DatabaseURL == "" {
		t.Errorf("store settings not read: %+v", cfg)
	}
	if cfg.CommandTimeout != 5*time.Second || cfg.PruneSchedule != "@daily" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 60*time.Second {
		t.Errorf("unset keys keep their defaults, got %s", cfg.HeartbeatInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "http_adr: \":1\"\n",
		"unknown store":     "store: mongo\n",
		"postgres no url":   "store: postgres\n",
		"bad duration":      "command_timeout: forever\n",
		"negative interval": "heartbeat_interval: -1s\n",
		"timeout too long":  "command_timeout: 15s\n",
		"sweep overrun":     "command_timeout: 12s\ncommand_sweep_interval: 2s\n",
		"prod any origin":   "env: prod\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeFile(t, body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("a missing file should be an error")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != config.StoreSQLite {
		t.Errorf("expected default store, got %q", cfg.Store)
	}
}

func TestLoad_ProdWithOrigins(t *testing.T) {
	path := writeFile(t, "env: prod\nallowed_origins: [https://dash.example]\ncommand_timeout: 12s\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProd() {
		t.Errorf("expected prod, got %q", cfg.Env)
	}
}
