package config

import "time"

// Config represents the complete stitch configuration
type Config struct {
	BaseDir     string            `yaml:"-"` // Directory containing config file, for resolving relative paths
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Fragments   FragmentsConfig   `yaml:"fragments"`
	Entities    EntitiesConfig    `yaml:"entities"`
	Models      []ModelConfig     `yaml:"models"` // Replaces the built-in content/properties registry when set
	Render      RenderConfig      `yaml:"render"`
	Cache       CacheConfig       `yaml:"cache"`
	Compression CompressionConfig `yaml:"compression"`
	Proof       ProofConfig       `yaml:"proof"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     string        `yaml:"max_body_size"` // e.g. "2MB"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stderr, stdout, or file path
	Quiet  bool   `yaml:"quiet"`  // suppress request logs
}

// FragmentsConfig selects where fragment bodies come from. Dir and Driver
// are mutually exclusive.
type FragmentsConfig struct {
	Dir         string        `yaml:"dir"`
	Driver      string        `yaml:"driver"` // sqlite, postgres, mysql
	DSN         string        `yaml:"dsn"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxEntries  int           `yaml:"max_entries"`
	Watch       bool          `yaml:"watch"` // invalidate cached files on change
	MaxDepth    int           `yaml:"max_depth"`
	MaxPerPass  int           `yaml:"max_per_pass"`
	Concurrency int           `yaml:"concurrency"`
}

// EntitiesConfig selects the entity source used for hydration
type EntitiesConfig struct {
	Driver         string            `yaml:"driver"`   // sqlite, postgres, mysql, graphql
	DSN            string            `yaml:"dsn"`      // SQL drivers
	Endpoint       string            `yaml:"endpoint"` // graphql
	Token          SecretString      `yaml:"token"`    // graphql bearer token
	Selections     map[string]string `yaml:"selections"`
	Timeout        time.Duration     `yaml:"timeout"`
	Concurrency    int               `yaml:"concurrency"`
	BatchSize      int               `yaml:"batch_size"`
	Introspection  bool              `yaml:"introspection"`
	AllowHydration bool              `yaml:"allow_hydration"` // default: true
}

// ModelConfig declares one entity model
type ModelConfig struct {
	Name      string   `yaml:"name"`
	Namespace string   `yaml:"namespace"` // defaults to name
	Primary   bool     `yaml:"primary"`
	Required  []string `yaml:"required"` // field paths that must be non-empty for a stream value to count
}

// RenderConfig holds composition settings
type RenderConfig struct {
	Locale        string `yaml:"locale"`
	StyleOverride string `yaml:"style_override"` // field on primary records overlaying the derived style
	MaxBlockDepth int    `yaml:"max_block_depth"`
}

// CacheConfig holds the server-side entity cache settings
type CacheConfig struct {
	EntityTTL  time.Duration `yaml:"entity_ttl"` // 0 disables the cache
	MaxEntries int           `yaml:"max_entries"`
}

// CompressionConfig holds response compression settings
type CompressionConfig struct {
	Enabled bool   `yaml:"enabled"`  // Enable gzip compression (default: true)
	Level   string `yaml:"level"`    // Compression level: "fastest", "default", "best", "none" (default: "default")
	MinSize int    `yaml:"min_size"` // Minimum response size to compress in bytes (default: 1024)
}

// ProofConfig configures delivery of proof emails
type ProofConfig struct {
	Provider   string        `yaml:"provider"` // "mailgun" or "resend"
	From       string        `yaml:"from"`
	Subject    string        `yaml:"subject"`     // default subject when the request gives none
	RateLimit  int           `yaml:"rate_limit"`  // sends per client per window, 0 disables
	RateWindow time.Duration `yaml:"rate_window"` // default: 1h
	Mailgun    MailgunConfig `yaml:"mailgun"`
	Resend     ResendConfig  `yaml:"resend"`
}

// MailgunConfig holds Mailgun-specific settings
type MailgunConfig struct {
	APIKey SecretString `yaml:"api_key"`
	Domain string       `yaml:"domain"`
	Region string       `yaml:"region"` // "us" or "eu"
}

// ResendConfig holds Resend-specific settings
type ResendConfig struct {
	APIKey SecretString `yaml:"api_key"`
}

// Defaults returns a Config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     "2MB",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Fragments: FragmentsConfig{
			CacheTTL:    5 * time.Minute,
			MaxEntries:  1000,
			MaxDepth:    5,
			MaxPerPass:  50,
			Concurrency: 8,
		},
		Entities: EntitiesConfig{
			Timeout:        30 * time.Second,
			Concurrency:    4,
			BatchSize:      20,
			AllowHydration: true,
		},
		Render: RenderConfig{
			Locale:        "en-US",
			StyleOverride: "styleOverride",
			MaxBlockDepth: 8,
		},
		Cache: CacheConfig{
			EntityTTL:  time.Minute,
			MaxEntries: 10000,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   "default",
			MinSize: 1024,
		},
		Proof: ProofConfig{
			Subject:    "[proof] stitched email",
			RateLimit:  20,
			RateWindow: time.Hour,
		},
	}
}
