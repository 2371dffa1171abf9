package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Knowledge KnowledgeConfig  `json:"knowledge"`
	Database  DatabaseConfig   `json:"database"`
	Providers []ProviderConfig `json:"providers"`
	Workflow  WorkflowConfig   `json:"workflow"`
}

type ServerConfig struct {
	Port            int      `json:"port"`
	LogLevel        string   `json:"log_level"`  // debug|info|warn|error
	LogFormat       string   `json:"log_format"` // console|json
	Backend         string   `json:"backend"`    // express|workflows
	MaxTraceEntries int      `json:"max_trace_entries"`
	CORSOrigins     []string `json:"cors_origins,omitempty"`
}

type KnowledgeConfig struct {
	Driver        string            `json:"driver"` // rest|postgres|none
	URL           string            `json:"url"`
	APIKey        string            `json:"api_key"`
	TimeoutMS     int               `json:"timeout_ms"`
	Tables        map[string]string `json:"tables,omitempty"`
	MigrationsDir string            `json:"migrations_dir,omitempty"`
	Cache         CacheConfig       `json:"cache"`
}

type CacheConfig struct {
	RedisURL   string   `json:"redis_url"`
	TTLSeconds int      `json:"ttl_seconds"`
	Resources  []string `json:"resources,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type ProviderConfig struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // openai|deepseek|anthropic
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	TimeoutMS int    `json:"timeout_ms"`
}

type WorkflowConfig struct {
	KnowledgeLookup *bool `json:"knowledge_lookup,omitempty"`
	KnowledgeLimit  int   `json:"knowledge_limit"`
}

// Knowledge store drivers.
const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

const (
	DefaultPort            = 5000
	DefaultMaxTraceEntries = 1000
	DefaultStoreTimeoutMS  = 10000
	DefaultAITimeoutMS     = 30000
	DefaultCacheTTLSeconds = 300
	DefaultKnowledgeLimit  = 5
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path, or falls back to Default when the file does not
// exist. The bool reports whether the file was found.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		return cfg, false, cfg.Validate()
	}
	return nil, false, err
}

// Default builds a configuration from the conventional environment
// variables (PORT, SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY,
// DEEPSEEK_API_KEY, REDIS_URL, BACKEND_PROFILE).
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			LogLevel: os.Getenv("LOG_LEVEL"),
			Backend:  os.Getenv("BACKEND_PROFILE"),
		},
		Knowledge: KnowledgeConfig{
			Driver: DriverNone,
			URL:    os.Getenv("SUPABASE_URL"),
			APIKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			Cache:  CacheConfig{RedisURL: os.Getenv("REDIS_URL")},
		},
		Database: DatabaseConfig{Postgres: PostgresConfig{DSN: os.Getenv("DATABASE_URL")}},
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Server.Port = p
	}
	switch {
	case cfg.Knowledge.URL != "":
		cfg.Knowledge.Driver = DriverREST
	case cfg.Database.Postgres.DSN != "":
		cfg.Knowledge.Driver = DriverPostgres
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			ID:     "deepseek",
			Type:   "deepseek",
			Name:   "DeepSeek",
			APIKey: key,
		})
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "console"
	}
	if c.Server.Backend == "" {
		c.Server.Backend = "express"
	}
	if c.Server.MaxTraceEntries == 0 {
		c.Server.MaxTraceEntries = DefaultMaxTraceEntries
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Knowledge.Driver == "" {
		c.Knowledge.Driver = DriverREST
	}
	if c.Knowledge.TimeoutMS == 0 {
		c.Knowledge.TimeoutMS = DefaultStoreTimeoutMS
	}
	if c.Knowledge.Cache.TTLSeconds == 0 {
		c.Knowledge.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if len(c.Knowledge.Cache.Resources) == 0 {
		c.Knowledge.Cache.Resources = []string{"knowledge"}
	}
	for i := range c.Providers {
		if c.Providers[i].TimeoutMS == 0 {
			c.Providers[i].TimeoutMS = DefaultAITimeoutMS
		}
	}
	if c.Workflow.KnowledgeLookup == nil {
		on := true
		c.Workflow.KnowledgeLookup = &on
	}
	if c.Workflow.KnowledgeLimit == 0 {
		c.Workflow.KnowledgeLimit = DefaultKnowledgeLimit
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxTraceEntries < 0 {
		return fmt.Errorf("server.max_trace_entries must be positive, got %d", c.Server.MaxTraceEntries)
	}
	switch c.Server.Backend {
	case "express", "workflows", "nodejs-express", "n8n-workflows":
	default:
		return fmt.Errorf("server.backend %q: want express or workflows", c.Server.Backend)
	}
	switch c.Knowledge.Driver {
	case DriverREST:
		if c.Knowledge.URL == "" {
			return errors.New("knowledge.url is required for the rest driver")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			return errors.New("database.postgres.dsn is required for the postgres driver")
		}
	case DriverNone:
	default:
		return fmt.Errorf("knowledge.driver %q: want rest, postgres or none", c.Knowledge.Driver)
	}
	if c.Knowledge.TimeoutMS < 0 || c.Knowledge.Cache.TTLSeconds < 0 {
		return errors.New("knowledge timeouts must not be negative")
	}
	if c.Workflow.KnowledgeLimit < 0 {
		return fmt.Errorf("workflow.knowledge_limit must not be negative, got %d", c.Workflow.KnowledgeLimit)
	}
	for i, p := range c.Providers {
		switch p.Type {
		case "", "openai", "deepseek", "anthropic":
		default:
			return fmt.Errorf("providers[%d].type %q not supported", i, p.Type)
		}
		if p.TimeoutMS < 0 {
			return fmt.Errorf("providers[%d].timeout_ms must not be negative", i)
		}
	}
	return nil
}

// KnowledgeLookupEnabled reports whether the general workflow consults the
// knowledge base.
func (c *Config) KnowledgeLookupEnabled() bool {
	return c.Workflow.KnowledgeLookup == nil || *c.Workflow.KnowledgeLookup
}

// StoreTimeout returns the per-call knowledge store timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Knowledge.TimeoutMS) * time.Millisecond
}

// CacheTTL returns the knowledge cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Knowledge.Cache.TTLSeconds) * time.Second
}

// Timeout returns the provider's per-call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})
}
