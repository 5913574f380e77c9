// Package config loads cratepack settings.
//
// Values are layered: built-in defaults, then the TOML file, then CRATEPACK_*
// environment variables. Command-line flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ebi-metagenomics/cratepack/pkg/cache"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	"github.com/ebi-metagenomics/cratepack/pkg/pipeline"
)

// Config holds every setting the CLI reads from file or environment.
type Config struct {
	Discovery Discovery `toml:"discovery"`
	Graph     Graph     `toml:"graph"`
	Fetch     Fetch     `toml:"fetch"`
	Index     Index     `toml:"index"`
	Cache     Cache     `toml:"cache"`
	Crate     Crate     `toml:"crate"`
	Log       Log       `toml:"log"`
	Assets    Assets    `toml:"assets"`
}

// Discovery controls where artifacts are looked for.
type Discovery struct {
	Policy            string `toml:"policy"`
	ReportPath        string `toml:"report_path"`
	VisualizationGlob string `toml:"visualization_glob"`
}

// Graph controls the provenance graph.
type Graph struct {
	Mode             string `toml:"mode"`
	Organization     string `toml:"organization"`
	OrganizationName string `toml:"organization_name"`
	Instrument       string `toml:"instrument"`
	Description      string `toml:"description"`
	RunName          string `toml:"run_name"`
}

// Fetch controls archive downloads.
type Fetch struct {
	Retries       int           `toml:"retries"`
	RetryDelay    time.Duration `toml:"retry_delay"`
	Timeout       time.Duration `toml:"timeout"` // whole download, 0 = none
	HeaderTimeout time.Duration `toml:"header_timeout"`
}

// Index controls directory index crawling.
type Index struct {
	Timeout   time.Duration `toml:"timeout"`
	RateLimit float64       `toml:"rate_limit"` // requests per second, 0 = unlimited
	Retries   int           `toml:"retries"`
}

// Cache selects the index cache backend.
type Cache struct {
	Backend       string        `toml:"backend"`
	Dir           string        `toml:"dir"`
	TTL           time.Duration `toml:"ttl"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	RedisPrefix   string        `toml:"redis_prefix"`
}

// Crate controls output naming and batch behavior.
type Crate struct {
	Prefix  string `toml:"prefix"`
	OnError string `toml:"on_error"`
}

// Log controls the optional rotating log file.
type Log struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Assets points at an asset directory overriding the embedded bundle.
type Assets struct {
	Dir string `toml:"dir"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Discovery: Discovery{
			Policy:            string(discover.Lenient),
			ReportPath:        discover.DefaultReportPath,
			VisualizationGlob: discover.DefaultVisualizationGlob,
		},
		Graph: Graph{
			Mode:             string(crate.ModeTemplate),
			Organization:     crate.DefaultProfile.Organization,
			OrganizationName: crate.DefaultProfile.OrganizationName,
			Instrument:       crate.DefaultProfile.Instrument,
			Description:      crate.DefaultProfile.Description,
			RunName:          crate.DefaultProfile.RunName,
		},
		Fetch: Fetch{
			Retries:       3,
			RetryDelay:    2 * time.Second,
			HeaderTimeout: 60 * time.Second,
		},
		Index: Index{
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Cache: Cache{
			Backend: cache.BackendFile,
			TTL:     6 * time.Hour,
		},
		Crate: Crate{
			Prefix:  pipeline.DefaultPrefix,
			OnError: string(pipeline.Abort),
		},
		Log: Log{
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/cratepack/config.toml (or the
// platform equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cratepack", "config.toml")
}

// Load builds the configuration. An explicit path must exist; when path is
// empty the default location is read if present.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		_, err := toml.DecodeFile(path, &cfg)
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	if _, err := discover.ParsePolicy(c.Discovery.Policy); err != nil {
		return err
	}
	if _, err := crate.ParseMode(c.Graph.Mode); err != nil {
		return err
	}
	if _, err := pipeline.ParseFailurePolicy(c.Crate.OnError); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case cache.BackendFile, cache.BackendRedis, cache.BackendNone:
	default:
		return fmt.Errorf("unknown cache backend %q (want file, redis or none)", c.Cache.Backend)
	}
	if c.Fetch.Retries < 0 || c.Index.Retries < 0 {
		return errors.New("retries cannot be negative")
	}
	if c.Index.RateLimit < 0 {
		return errors.New("rate_limit cannot be negative")
	}
	return nil
}

// Profile returns the graph provenance profile.
func (c Config) Profile() crate.Profile {
	return crate.Profile{
		Organization:     c.Graph.Organization,
		OrganizationName: c.Graph.OrganizationName,
		Instrument:       c.Graph.Instrument,
		Description:      c.Graph.Description,
		RunName:          c.Graph.RunName,
	}
}

// CacheConfig returns the cache backend settings.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:  c.Cache.Backend,
		Dir:      c.Cache.Dir,
		Addr:     c.Cache.RedisAddr,
		Password: c.Cache.RedisPassword,
		DB:       c.Cache.RedisDB,
		Prefix:   c.Cache.RedisPrefix,
	}
}

// applyEnv overrides settings from CRATEPACK_* variables.
func (c *Config) applyEnv() error {
	c.Discovery.Policy = envOr("CRATEPACK_DISCOVERY", c.Discovery.Policy)
	c.Graph.Mode = envOr("CRATEPACK_GRAPH_MODE", c.Graph.Mode)
	c.Crate.Prefix = envOr("CRATEPACK_PREFIX", c.Crate.Prefix)
	c.Crate.OnError = envOr("CRATEPACK_ON_ERROR", c.Crate.OnError)
	c.Cache.Backend = envOr("CRATEPACK_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Dir = envOr("CRATEPACK_CACHE_DIR", c.Cache.Dir)
	c.Cache.RedisAddr = envOr("CRATEPACK_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = envOr("CRATEPACK_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Log.File = envOr("CRATEPACK_LOG_FILE", c.Log.File)
	c.Assets.Dir = envOr("CRATEPACK_ASSETS_DIR", c.Assets.Dir)

	var err error
	if c.Fetch.Retries, err = envInt("CRATEPACK_RETRIES", c.Fetch.Retries); err != nil {
		return err
	}
	if c.Fetch.Timeout, err = envDuration("CRATEPACK_TIMEOUT", c.Fetch.Timeout); err != nil {
		return err
	}
	if c.Index.Timeout, err = envDuration("CRATEPACK_INDEX_TIMEOUT", c.Index.Timeout); err != nil {
		return err
	}
	if c.Cache.TTL, err = envDuration("CRATEPACK_CACHE_TTL", c.Cache.TTL); err != nil {
		return err
	}
	if c.Cache.RedisDB, err = envInt("CRATEPACK_REDIS_DB", c.Cache.RedisDB); err != nil {
		return err
	}
	if v := os.Getenv("CRATEPACK_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CRATEPACK_RATE_LIMIT: %w", err)
		}
		c.Index.RateLimit = f
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
