// Package config provides configuration loading for rulecheck.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/rulecheck/internal/lang"
)

const (
	// FileName is the project config file looked up in the checked root.
	FileName = ".rulecheck.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RULECHECK_"
)

// Output formats.
const (
	FormatText = "text"
	FormatTOON = "toon"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config represents the complete rulecheck configuration
type Config struct {
	// Rules is the rule file, relative to the checked root unless absolute.
	Rules string `yaml:"rules"`
	// Store is the SQLite fact store; ":memory:" keeps nothing on disk.
	Store    string         `yaml:"store"`
	Discover DiscoverConfig `yaml:"discover"`
	Extract  ExtractConfig  `yaml:"extract"`
	Check    CheckConfig    `yaml:"check"`
	Output   OutputConfig   `yaml:"output"`
	Log      LogConfig      `yaml:"log"`
}

// DiscoverConfig selects the files to analyze
type DiscoverConfig struct {
	Languages []string `yaml:"languages,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
	SkipTests bool     `yaml:"skip_tests"`
}

// ExtractConfig tunes fact extraction
type ExtractConfig struct {
	Workers     int   `yaml:"workers"`
	MaxFileSize int64 `yaml:"max_file_size"`
}

// CheckConfig tunes rule execution
type CheckConfig struct {
	// Parallelism bounds concurrently running rules (0 = GOMAXPROCS)
	Parallelism int `yaml:"parallelism"`
}

// OutputConfig controls the report
type OutputConfig struct {
	Format  string `yaml:"format"`
	Color   string `yaml:"color"`
	Verbose bool   `yaml:"verbose"`
}

// LogConfig controls diagnostics on stderr
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Rules: "rules.txt",
		Store: filepath.Join(".rulecheck", "facts.db"),
		Extract: ExtractConfig{
			MaxFileSize: 1_000_000,
		},
		Output: OutputConfig{
			Format: FormatText,
			Color:  ColorAuto,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var problems []error
	if c.Rules == "" {
		problems = append(problems, errors.New("rules is required"))
	}
	if c.Store == "" {
		problems = append(problems, errors.New("store is required"))
	}
	known := lang.Names()
	for _, l := range c.Discover.Languages {
		if lang.Languages[l] == nil {
			problems = append(problems, fmt.Errorf("discover.languages: unknown language %q (known: %s)", l, strings.Join(known, ", ")))
		}
	}
	for _, p := range c.Discover.Exclude {
		if !doublestar.ValidatePattern(p) {
			problems = append(problems, fmt.Errorf("discover.exclude: invalid pattern %q", p))
		}
	}
	if c.Extract.Workers < 0 {
		problems = append(problems, errors.New("extract.workers must not be negative"))
	}
	if c.Extract.MaxFileSize < 0 {
		problems = append(problems, errors.New("extract.max_file_size must not be negative"))
	}
	if c.Check.Parallelism < 0 {
		problems = append(problems, errors.New("check.parallelism must not be negative"))
	}
	switch c.Output.Format {
	case FormatText, FormatTOON:
	default:
		problems = append(problems, fmt.Errorf("output.format must be %q or %q", FormatText, FormatTOON))
	}
	switch c.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		problems = append(problems, fmt.Errorf("output.color must be %q, %q or %q", ColorAuto, ColorAlways, ColorNever))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(problems...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	data, err := c.YAML()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// YAML renders the configuration as it would be saved.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Resolve returns p relative to root unless it is absolute or the
// in-memory store name.
func Resolve(root, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Loader handles configuration loading with layered precedence:
// defaults, then the project file, then the environment.
type Loader struct {
	Logger *slog.Logger
	// LookupEnv reads the process environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// Load reads root/.rulecheck.yaml when present and applies RULECHECK_*
// overrides from the environment and from root/.env. Real environment
// variables win over .env entries.
func (l *Loader) Load(root string) (*Config, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	config := DefaultConfig()
	path := filepath.Join(root, FileName)
	if fileConfig, err := LoadFromFile(path); err == nil {
		logger.Debug("loaded project config", "path", path)
		config = fileConfig
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	dotenv, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("ignoring unreadable .env", "err", err)
	}
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := config.applyEnv(env); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := env(key); ok {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := env(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("RULES", &c.Rules)
	str("STORE", &c.Store)
	str("FORMAT", &c.Output.Format)
	str("COLOR", &c.Output.Color)
	str("LOG_LEVEL", &c.Log.Level)
	list("LANGUAGES", &c.Discover.Languages)
	list("EXCLUDE", &c.Discover.Exclude)
	if err := integer("PARALLELISM", &c.Check.Parallelism); err != nil {
		return err
	}
	return integer("WORKERS", &c.Extract.Workers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
