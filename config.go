package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout defaults. Connect covers dialing and the initial ping; operation
// bounds a single query or command.
const (
	DefaultConnectTimeout   = 60 * time.Second
	DefaultOperationTimeout = 300 * time.Second
	DefaultSchemaCacheTTL   = 5 * time.Minute

	MaxConnectionsIdle = 5
	MaxConnectionsOpen = 10
)

// Config is the gateway configuration: at least one backend plus shared
// limits. Loaded from a YAML file, then overlaid with MCP_* environment
// variables so container deployments can skip the file entirely.
type Config struct {
	Relational *RelationalConfig `yaml:"relational"`
	Document   *DocumentConfig   `yaml:"document"`

	MaxRows                 int `yaml:"max_rows"`
	ConnectTimeoutSeconds   int `yaml:"connect_timeout_seconds"`
	OperationTimeoutSeconds int `yaml:"operation_timeout_seconds"`
	SchemaCacheTTLSeconds   int `yaml:"schema_cache_ttl_seconds"`
}

// RelationalConfig selects and configures one SQL engine.
type RelationalConfig struct {
	Driver   string `yaml:"driver"` // postgres | mysql | sqlite
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"` // postgres only
	Path     string `yaml:"path"`    // sqlite only
}

// DocumentConfig configures the MongoDB backend.
type DocumentConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

func (c *Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds > 0 {
		return time.Duration(c.ConnectTimeoutSeconds) * time.Second
	}
	return DefaultConnectTimeout
}

func (c *Config) OperationTimeout() time.Duration {
	if c.OperationTimeoutSeconds > 0 {
		return time.Duration(c.OperationTimeoutSeconds) * time.Second
	}
	return DefaultOperationTimeout
}

func (c *Config) SchemaCacheTTL() time.Duration {
	if c.SchemaCacheTTLSeconds > 0 {
		return time.Duration(c.SchemaCacheTTLSeconds) * time.Second
	}
	return DefaultSchemaCacheTTL
}

// LoadConfig reads the optional YAML file, applies environment overrides,
// and validates that at least one backend is configured.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.MaxRows > 0 {
		MaxResultRows = cfg.MaxRows
	}
	if cfg.Relational == nil && cfg.Document == nil {
		return nil, fmt.Errorf("no backend configured: set relational or document in the config file, or MCP_PG_HOST / MCP_MYSQL_HOST / MCP_SQLITE_PATH / MCP_MONGODB_URI in the environment")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MCP_SQLITE_PATH"); v != "" {
		rc := c.ensureRelational("sqlite")
		rc.Path = v
	}
	if v := os.Getenv("MCP_PG_HOST"); v != "" {
		rc := c.ensureRelational("postgres")
		rc.Host = v
		overlay(&rc.Port, "MCP_PG_PORT")
		overlay(&rc.Database, "MCP_PG_DB")
		overlay(&rc.User, "MCP_PG_USER")
		overlay(&rc.Password, "MCP_PG_PASSWORD")
		overlay(&rc.SSLMode, "MCP_PG_SSLMODE")
	}
	if v := os.Getenv("MCP_MYSQL_HOST"); v != "" {
		rc := c.ensureRelational("mysql")
		rc.Host = v
		overlay(&rc.Port, "MCP_MYSQL_PORT")
		overlay(&rc.Database, "MCP_MYSQL_DB")
		overlay(&rc.User, "MCP_MYSQL_USER")
		overlay(&rc.Password, "MCP_MYSQL_PASSWORD")
	}
	if v := os.Getenv("MCP_MONGODB_URI"); v != "" {
		if c.Document == nil {
			c.Document = &DocumentConfig{}
		}
		c.Document.URI = v
		overlay(&c.Document.Database, "MCP_MONGODB_DB")
	}

	if v := os.Getenv("MCP_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxRows = n
		}
	}
	if v := os.Getenv("MCP_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.OperationTimeoutSeconds = int(d / time.Second)
		}
	}
}

func (c *Config) ensureRelational(driver string) *RelationalConfig {
	if c.Relational == nil {
		c.Relational = &RelationalConfig{}
	}
	c.Relational.Driver = driver
	return c.Relational
}

func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
