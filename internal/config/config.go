package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// MaxCommandWait is the longest an HTTP caller blocks on ?wait=true. A
// command must be able to expire inside it.
const MaxCommandWait = 14 * time.Second

// Store backings.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables gRPC health

	Env      string `yaml:"env"` // dev: console logs; prod: JSON logs, origins required
	LogLevel string `yaml:"log_level"`

	// Store
	Store       string `yaml:"store"`
	DBPath      string `yaml:"db_path"`   // sqlite
	FilePath    string `yaml:"file_path"` // file
	DatabaseURL string `yaml:"database_url"`

	// Liveness and commands
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	LivenessTimeout       time.Duration `yaml:"liveness_timeout"` // 0 = 2 x heartbeat interval
	LivenessSweepInterval time.Duration `yaml:"liveness_sweep_interval"`
	CommandTimeout        time.Duration `yaml:"command_timeout"`
	CommandSweepInterval  time.Duration `yaml:"command_sweep_interval"`

	// Location retention
	LocationRetentionDays int    `yaml:"location_retention_days"` // 0 = keep forever
	PruneSchedule         string `yaml:"prune_schedule"`

	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Env:      EnvDev,
		LogLevel: "info",

		Store:    StoreSQLite,
		DBPath:   "./data/beacon.db",
		FilePath: "./data/beacon.json",

		HeartbeatInterval:     60 * time.Second,
		LivenessSweepInterval: 15 * time.Second,
		CommandTimeout:        10 * time.Second,
		CommandSweepInterval:  time.Second,

		LocationRetentionDays: 30,
		PruneSchedule:         "@every 6h",

		ShutdownTimeout: 10 * time.Second,
	}
}

// FromEnv builds the config from BEACON_* variables. Malformed values fall
// back to defaults.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	cfg.normalize()
	return cfg
}

// Load reads the optional YAML file at path, then applies environment
// overrides. Unlike FromEnv it rejects unknown keys and invalid choices.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("config: heartbeat_interval must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("config: command_timeout must be positive")
	}
	sweep := c.CommandSweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	if c.CommandTimeout+sweep >= MaxCommandWait {
		return fmt.Errorf("config: command_timeout plus command_sweep_interval must be under %s", MaxCommandWait)
	}
	if c.IsProd() && len(c.AllowedOrigins) == 0 {
		return errors.New("config: allowed_origins is required in prod")
	}
	if c.LocationRetentionDays < 0 {
		return errors.New("config: location_retention_days must not be negative")
	}
	return nil
}

func (c Config) IsProd() bool { return c.Env == EnvProd }

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != EnvDev && c.Env != EnvProd {
		// fail-soft: treat unknown as dev
		c.Env = EnvDev
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("BEACON_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("BEACON_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.Env = getenvDefault("BEACON_ENV", c.Env)
	c.LogLevel = getenvDefault("BEACON_LOG_LEVEL", c.LogLevel)

	c.Store = getenvDefault("BEACON_STORE", c.Store)
	c.DBPath = getenvDefault("BEACON_DB_PATH", c.DBPath)
	c.FilePath = getenvDefault("BEACON_FILE_PATH", c.FilePath)
	c.DatabaseURL = getenvDefault("BEACON_DATABASE_URL", c.DatabaseURL)

	c.HeartbeatInterval = getenvDuration("BEACON_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.LivenessTimeout = getenvDuration("BEACON_LIVENESS_TIMEOUT", c.LivenessTimeout)
	c.LivenessSweepInterval = getenvDuration("BEACON_LIVENESS_SWEEP_INTERVAL", c.LivenessSweepInterval)
	c.CommandTimeout = getenvDuration("BEACON_COMMAND_TIMEOUT", c.CommandTimeout)
	c.CommandSweepInterval = getenvDuration("BEACON_COMMAND_SWEEP_INTERVAL", c.CommandSweepInterval)

	c.LocationRetentionDays = getenvInt("BEACON_LOCATION_RETENTION_DAYS", c.LocationRetentionDays)
	c.PruneSchedule = getenvDefault("BEACON_PRUNE_SCHEDULE", c.PruneSchedule)

	if origins := splitCSV(os.Getenv("BEACON_ALLOWED_ORIGINS")); origins != nil {
		c.AllowedOrigins = origins
	}
	c.ShutdownTimeout = getenvDuration("BEACON_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
