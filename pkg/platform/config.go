// Package platform loads configuration and wires the service components.
package platform

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Guard    GuardConfig    `yaml:"guard"`
	Chat     ChatConfig     `yaml:"chat"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
	Audit    AuditConfig    `yaml:"audit"`
	Dataset  DatasetConfig  `yaml:"dataset"`
}

// DatasetConfig serves extract files from memory instead of PostgreSQL.
// Chat needs PostgreSQL and is disabled in this mode.
type DatasetConfig struct {
	// Claims is a CSV or Parquet claims file.
	Claims    string `yaml:"claims"`
	Providers string `yaml:"providers"`
	Codes     string `yaml:"codes"`
}

// ServerConfig configures the HTTP server and logging.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Description     string        `yaml:"description"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`  // debug, info, warn, error
	LogFormat       string        `yaml:"log_format"` // json, text
	CORSOrigins     []string      `yaml:"cors_origins"`
	// Docs serves the Swagger UI under /api/docs/.
	Docs *bool `yaml:"docs"`
	// MCP serves the MCP tools on /mcp.
	MCP     *bool          `yaml:"mcp"`
	Prompts []PromptConfig `yaml:"prompts"`
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig configures the language model client. Chat is disabled when
// APIKey is empty.
type LLMConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Timeout          time.Duration `yaml:"timeout"`
	AnthropicVersion string        `yaml:"anthropic_version"`
}

// GuardConfig configures generated-query validation and execution.
type GuardConfig struct {
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	MaxResultRows int           `yaml:"max_result_rows"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ChatConfig bounds chat input.
type ChatConfig struct {
	MaxHistoryTurns int `yaml:"max_history_turns"`
	MaxHistoryChars int `yaml:"max_history_chars"`
	MaxMessageChars int `yaml:"max_message_chars"`
}

// AnomalyConfig configures the anomaly detector.
type AnomalyConfig struct {
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	DefaultMinZ   float64       `yaml:"default_min_z"`
	MinZFloor     float64       `yaml:"min_z_floor"`
	MinPopulation int           `yaml:"min_population"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// AuditConfig configures chat audit events.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.Guard.DefaultLimit == 0 {
		cfg.Guard.DefaultLimit = 1000
	}
	if cfg.Guard.MaxLimit == 0 {
		cfg.Guard.MaxLimit = 1000
	}
	if cfg.Guard.MaxResultRows == 0 {
		cfg.Guard.MaxResultRows = 500
	}
	if cfg.Guard.Timeout == 0 {
		cfg.Guard.Timeout = 30 * time.Second
	}
	if cfg.Chat.MaxHistoryTurns == 0 {
		cfg.Chat.MaxHistoryTurns = 10
	}
	if cfg.Chat.MaxHistoryChars == 0 {
		cfg.Chat.MaxHistoryChars = 12000
	}
	if cfg.Chat.MaxMessageChars == 0 {
		cfg.Chat.MaxMessageChars = 2000
	}
	if cfg.Anomaly.DefaultMinZ == 0 {
		cfg.Anomaly.DefaultMinZ = 5
	}
	if cfg.Anomaly.MinZFloor == 0 {
		cfg.Anomaly.MinZFloor = 2
	}
	if cfg.Anomaly.CacheTTL == 0 {
		cfg.Anomaly.CacheTTL = 10 * time.Minute
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.Name == "" {
		s.Name = "medicaid-explorer"
	}
	if s.Version == "" {
		s.Version = "1.0.0"
	}
	if s.Address == "" {
		s.Address = ":8000"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	// Chat requests wait on the model and the query.
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 120 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 20 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	if s.Docs == nil {
		s.Docs = boolPtr(true)
	}
	if s.MCP == nil {
		s.MCP = boolPtr(true)
	}
}

func boolPtr(b bool) *bool { return &b }

// InMemory reports whether the store is served from dataset files.
func (c *Config) InMemory() bool {
	return c.Dataset.Claims != ""
}

// ChatEnabled reports whether chat can run: it needs an LLM API key and
// generated queries need PostgreSQL.
func (c *Config) ChatEnabled() bool {
	return c.LLM.APIKey != "" && c.Database.DSN != "" && !c.InMemory()
}

// SlogLevel parses Server.LogLevel.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DSN == "" && c.Dataset.Claims == "" {
		errs = append(errs, "database.dsn is required unless dataset.claims is set")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "database.max_idle_conns must not exceed database.max_open_conns")
	}
	switch strings.ToLower(c.Server.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "server.log_format must be json or text")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		errs = append(errs, "server.log_level must be debug, info, warn or error")
	}
	if c.Guard.DefaultLimit < 1 || c.Guard.DefaultLimit > c.Guard.MaxLimit {
		errs = append(errs, "guard.default_limit must be between 1 and guard.max_limit")
	}
	if c.Guard.MaxResultRows < 1 {
		errs = append(errs, "guard.max_result_rows must be positive")
	}
	if c.Anomaly.DefaultMinZ < c.Anomaly.MinZFloor {
		errs = append(errs, "anomaly.default_min_z must be at least anomaly.min_z_floor")
	}
	if c.Chat.MaxMessageChars < 1 {
		errs = append(errs, "chat.max_message_chars must be positive")
	}
	errs = append(errs, validatePrompts(c.Server.Prompts)...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validatePrompts(prompts []PromptConfig) []string {
	var errs []string
	seen := map[string]bool{ReviewPromptName: true}
	for i, p := range prompts {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Sprintf("server.prompts[%d].name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Sprintf("server.prompts[%d].name %q is already registered", i, p.Name))
		}
		if p.Content == "" {
			errs = append(errs, fmt.Sprintf("server.prompts[%d].content is required", i))
		}
		seen[p.Name] = true
	}
	return errs
}
