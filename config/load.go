package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no path was given and no config file was
// found in the default locations.
var ErrNoConfig = errors.New("no config file found (tried STITCH_CONFIG, stitch.yaml, ~/.config/stitch/stitch.yaml)")

// Load reads configuration from a file with ENV interpolation.
// If configPath is empty, it searches default locations.
func Load(configPath string, getenv func(string) string) (*Config, error) {
	cfg, _, err := LoadWithPath(configPath, getenv)
	return cfg, err
}

// LoadWithPath reads configuration and returns both the config and the resolved path.
func LoadWithPath(configPath string, getenv func(string) string) (*Config, string, error) {
	path, err := resolveConfigPath(configPath, getenv)
	if err != nil {
		return nil, "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	data = interpolateEnv(data, getenv)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.BaseDir = baseDir

	// Resolve relative paths against the config file
	if cfg.Fragments.Dir != "" && !filepath.IsAbs(cfg.Fragments.Dir) {
		cfg.Fragments.Dir = filepath.Join(baseDir, cfg.Fragments.Dir)
	}
	if cfg.Fragments.Driver == "sqlite" {
		cfg.Fragments.DSN = resolveSQLitePath(cfg.Fragments.DSN, baseDir)
	}
	if cfg.Entities.Driver == "sqlite" {
		cfg.Entities.DSN = resolveSQLitePath(cfg.Entities.DSN, baseDir)
	}
	if out := cfg.Logging.Output; out != "" && out != "stderr" && out != "stdout" && !filepath.IsAbs(out) {
		cfg.Logging.Output = filepath.Join(baseDir, out)
	}

	if err := Validate(cfg); err != nil {
		return nil, "", err
	}

	return cfg, absPath, nil
}

func resolveSQLitePath(dsn, baseDir string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(baseDir, dsn)
}

// Validate checks the configuration for errors. All problems are reported
// together.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port: %d (must be 1-65535)", cfg.Server.Port))
	}
	if _, err := ParseSize(cfg.Server.MaxBodySize); err != nil {
		errs = append(errs, fmt.Sprintf("server.max_body_size: %v", err))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be json or text)", cfg.Logging.Format))
	}

	// Fragment source validation
	sqlDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	f := cfg.Fragments
	if f.Dir != "" && f.Driver != "" {
		errs = append(errs, "fragments: dir and driver are mutually exclusive")
	}
	if f.Driver != "" {
		if !sqlDrivers[f.Driver] {
			errs = append(errs, fmt.Sprintf("fragments: unknown driver %q (supported: sqlite, postgres, mysql)", f.Driver))
		} else if f.DSN == "" {
			errs = append(errs, "fragments: driver requires dsn")
		}
	}
	if f.MaxDepth < 0 || f.MaxPerPass < 0 || f.Concurrency < 0 || f.MaxEntries < 0 {
		errs = append(errs, "fragments: max_depth, max_per_pass, concurrency and max_entries cannot be negative")
	}

	// Entity source validation
	e := cfg.Entities
	switch {
	case e.Driver == "":
	case e.Driver == "graphql":
		if e.Endpoint == "" {
			errs = append(errs, "entities: graphql driver requires endpoint")
		}
	case sqlDrivers[e.Driver]:
		if e.DSN == "" {
			errs = append(errs, "entities: driver requires dsn")
		}
	default:
		errs = append(errs, fmt.Sprintf("entities: unknown driver %q (supported: sqlite, postgres, mysql, graphql)", e.Driver))
	}
	if e.Concurrency < 0 || e.BatchSize < 0 {
		errs = append(errs, "entities: concurrency and batch_size cannot be negative")
	}

	// Models validation
	seen := map[string]bool{}
	primaries := 0
	for i, m := range cfg.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("models[%d]: name is required", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("models[%d]: duplicate model %q", i, m.Name))
		}
		seen[m.Name] = true
		if m.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		errs = append(errs, "models: at most one model can be primary")
	}

	// Render validation
	if cfg.Render.Locale != "" {
		if _, err := language.Parse(strings.ReplaceAll(cfg.Render.Locale, "_", "-")); err != nil {
			errs = append(errs, fmt.Sprintf("render: invalid locale %q", cfg.Render.Locale))
		}
	}
	if cfg.Render.MaxBlockDepth < 0 {
		errs = append(errs, "render: max_block_depth cannot be negative")
	}

	// Compression validation
	validCompression := map[string]bool{"fastest": true, "default": true, "best": true, "none": true}
	if cfg.Compression.Enabled && !validCompression[cfg.Compression.Level] {
		errs = append(errs, fmt.Sprintf("compression: invalid level %q (must be fastest, default, best, or none)", cfg.Compression.Level))
	}

	// Proof validation
	switch cfg.Proof.Provider {
	case "", "mailgun", "resend":
	default:
		errs = append(errs, fmt.Sprintf("proof: unknown provider %q (supported: mailgun, resend)", cfg.Proof.Provider))
	}
	if cfg.Proof.RateLimit < 0 || cfg.Proof.RateWindow < 0 {
		errs = append(errs, "proof: rate_limit and rate_window cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Warnings returns non-fatal configuration issues that should be reported to the user.
func Warnings(cfg *Config) []string {
	var warnings []string

	if cfg.Fragments.Dir == "" && cfg.Fragments.Driver == "" {
		warnings = append(warnings, "no fragment source configured - fragment includes will be left in place")
	}
	if cfg.Entities.Driver == "" {
		warnings = append(warnings, "no entity source configured - bindings resolve only from the caller stream and cache")
	}
	if cfg.Entities.Driver != "" && !cfg.Entities.AllowHydration {
		warnings = append(warnings, "entities: source configured but allow_hydration is false - it will never be queried")
	}
	if cfg.Entities.Driver == "graphql" && cfg.Entities.Token.IsSet() && strings.HasPrefix(cfg.Entities.Endpoint, "http://") {
		warnings = append(warnings, "entities: token sent over plain HTTP endpoint")
	}
	if cfg.Fragments.Watch && cfg.Fragments.Dir == "" {
		warnings = append(warnings, "fragments: watch has no effect without dir")
	}

	switch cfg.Proof.Provider {
	case "mailgun":
		if !cfg.Proof.Mailgun.APIKey.IsSet() || cfg.Proof.Mailgun.Domain == "" {
			warnings = append(warnings, "proof: Mailgun selected but api_key or domain not configured")
		}
		if strings.Contains(cfg.Proof.Mailgun.Domain, "sandbox") {
			warnings = append(warnings, "proof: using Mailgun sandbox domain - proofs will only be delivered to authorized recipients")
		}
	case "resend":
		if !cfg.Proof.Resend.APIKey.IsSet() {
			warnings = append(warnings, "proof: Resend selected but api_key not configured")
		}
		if strings.Contains(cfg.Proof.From, "onboarding@resend.dev") {
			warnings = append(warnings, "proof: using Resend test sender (onboarding@resend.dev)")
		}
	}
	if cfg.Proof.Provider != "" && cfg.Proof.From == "" {
		warnings = append(warnings, "proof: no from address configured")
	}

	return warnings
}

// resolveConfigPath finds the config file to use.
// Search order: explicit path > STITCH_CONFIG env > ./stitch.yaml > ~/.config/stitch/stitch.yaml
func resolveConfigPath(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	if envPath := getenv("STITCH_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("STITCH_CONFIG file not found: %s", envPath)
		}
		return envPath, nil
	}

	if _, err := os.Stat("stitch.yaml"); err == nil {
		return "stitch.yaml", nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		xdgPath := filepath.Join(home, ".config", "stitch", "stitch.yaml")
		if _, err := os.Stat(xdgPath); err == nil {
			return xdgPath, nil
		}
	}

	return "", ErrNoConfig
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}

		return []byte(value)
	})
}

// ParseSize parses a size string like "10MB", "1GB", "500KB" to bytes.
// Supports: B, KB, MB, GB (case insensitive).
// Returns 0 for empty string.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSpace(strings.ToUpper(s))

	// Longest suffix first so "B" doesn't match "MB"
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			var num int64
			if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			return num * sf.mult, nil
		}
	}

	var num int64
	if _, err := fmt.Sscanf(s, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid size format: %s (use B, KB, MB, or GB suffix)", s)
	}
	return num, nil
}
