package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// Adapter kinds a space can use.
const (
	AdapterCrossModal = "cross_modal"
	AdapterTextOnly   = "text_only"
)

// Config is the top-level configuration structure.
type Config struct {
	Server             ServerConfig    `json:"server" yaml:"server"`
	UploadRoot         string          `json:"upload_root" yaml:"upload_root"`
	DefaultTimeoutMS   int             `json:"default_timeout_ms" yaml:"default_timeout_ms"`
	DefaultSpace       string          `json:"default_space" yaml:"default_space"`
	Backends           []BackendConfig `json:"backends" yaml:"backends"`
	Spaces             []SpaceConfig   `json:"spaces" yaml:"spaces"`
	UploadCacheEntries int             `json:"upload_cache_entries" yaml:"upload_cache_entries"`
	Warmup             bool            `json:"warmup" yaml:"warmup"`
	Cache              CacheConfig     `json:"cache" yaml:"cache"`
	Manifest           ManifestConfig  `json:"manifest" yaml:"manifest"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// BackendConfig describes one model runtime.
type BackendConfig struct {
	ID          string `json:"id" yaml:"id"`
	Type        string `json:"type" yaml:"type"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Model       string `json:"model" yaml:"model"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	Dims        int    `json:"dims" yaml:"dims"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	TimeoutMS   int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// SpaceConfig describes one embedding space.
type SpaceConfig struct {
	ID         string   `json:"id" yaml:"id"`
	BackendRef string   `json:"backend_ref" yaml:"backend_ref"`
	Dims       int      `json:"dims" yaml:"dims"`
	Modalities []string `json:"modalities" yaml:"modalities"`
	// Adapter is "cross_modal" or "text_only". Empty selects cross_modal
	// when the space accepts images and text_only otherwise.
	Adapter       string `json:"adapter,omitempty" yaml:"adapter,omitempty"`
	QueryPrefix   string `json:"query_prefix,omitempty" yaml:"query_prefix,omitempty"`
	QueryMaxWords int    `json:"query_max_words,omitempty" yaml:"query_max_words,omitempty"`
}

// AdapterKind returns the effective adapter kind.
func (s SpaceConfig) AdapterKind() string {
	if s.Adapter != "" {
		return s.Adapter
	}
	for _, m := range s.Modalities {
		if m == "image" {
			return AdapterCrossModal
		}
	}
	return AdapterTextOnly
}

type CacheConfig struct {
	RedisURL   string `json:"redis_url" yaml:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type ManifestConfig struct {
	PostgresDSN    string `json:"postgres_dsn" yaml:"postgres_dsn"`
	AllowMigration bool   `json:"allow_migration" yaml:"allow_migration"`
	MigrationsDir  string `json:"migrations_dir" yaml:"migrations_dir"`
}

// DefaultTimeout returns the request timeout, or zero when unset.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// CacheTTL returns the vector cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file, substitutes environment variable
// references and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(resolved), &cfg)
	default:
		err = json.Unmarshal([]byte(resolved), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for problems that must abort startup.
func (c *Config) Validate() error {
	if c.UploadRoot == "" {
		return embederr.Configuration("upload_root is required")
	}
	if c.DefaultTimeoutMS < 0 {
		return embederr.Configuration("default_timeout_ms must not be negative")
	}
	if c.UploadCacheEntries < 0 {
		return embederr.Configuration("upload_cache_entries must not be negative")
	}
	if c.Cache.TTLSeconds < 0 {
		return embederr.Configuration("cache.ttl_seconds must not be negative")
	}

	backends := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return embederr.Configuration("backend without id")
		}
		if backends[b.ID] {
			return embederr.Configuration("backend %q defined twice", b.ID)
		}
		if b.Type == "" {
			return embederr.Configuration("backend %q: type is required", b.ID)
		}
		backends[b.ID] = true
	}

	if len(c.Spaces) == 0 {
		return embederr.Configuration("no spaces configured")
	}
	spaces := make(map[string]bool, len(c.Spaces))
	for _, s := range c.Spaces {
		if err := validateSpace(s, backends); err != nil {
			return err
		}
		if spaces[s.ID] {
			return embederr.Configuration("space %q defined twice", s.ID)
		}
		spaces[s.ID] = true
	}

	if c.DefaultSpace != "" && !spaces[c.DefaultSpace] {
		return embederr.Configuration("default_space %q is not a configured space", c.DefaultSpace)
	}
	return nil
}

func validateSpace(s SpaceConfig, backends map[string]bool) error {
	if s.ID == "" {
		return embederr.Configuration("space without id")
	}
	if s.ID == "all" {
		return embederr.Configuration("space id %q is reserved", s.ID)
	}
	if !backends[s.BackendRef] {
		return embederr.Configuration("space %q: unknown backend_ref %q", s.ID, s.BackendRef)
	}
	if s.Dims <= 0 {
		return embederr.Configuration("space %q: dims must be positive", s.ID)
	}
	if len(s.Modalities) == 0 {
		return embederr.Configuration("space %q: at least one modality is required", s.ID)
	}
	seen := make(map[string]bool, len(s.Modalities))
	for _, m := range s.Modalities {
		if m != "text" && m != "image" {
			return embederr.Configuration("space %q: unknown modality %q", s.ID, m)
		}
		if seen[m] {
			return embederr.Configuration("space %q: modality %q listed twice", s.ID, m)
		}
		seen[m] = true
	}
	switch s.AdapterKind() {
	case AdapterCrossModal:
	case AdapterTextOnly:
		if seen["image"] {
			return embederr.Configuration("space %q: text_only adapter cannot accept images", s.ID)
		}
	default:
		return embederr.Configuration("space %q: unknown adapter %q", s.ID, s.Adapter)
	}
	if s.QueryMaxWords < 0 {
		return embederr.Configuration("space %q: query_max_words must not be negative", s.ID)
	}
	return nil
}
