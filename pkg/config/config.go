// Package config loads datadash settings. Values are layered, lowest to
// highest: built-in defaults, a YAML or TOML config file, DATADASH_*
// environment variables and explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "DATADASH_"

// Defaults
const (
	DefaultBaseURL      = "http://127.0.0.1:8000/api"
	DefaultListLimit    = 5
	DefaultPreviewLimit = 50
	DefaultTimeout      = 2 * time.Minute
	DefaultFormat       = "table"
)

// Formats accepted by the format setting.
var Formats = []string{"table", "json", "yaml", "toml"}

// Config holds resolved settings.
type Config struct {
	APIBaseURL   string        `koanf:"api_base_url"`
	SessionFile  string        `koanf:"session_file"`
	ListLimit    int           `koanf:"list_limit"`
	PreviewLimit int           `koanf:"preview_limit"`
	Timeout      time.Duration `koanf:"timeout"`
	Format       string        `koanf:"format"`
	NoColor      bool          `koanf:"no_color"`

	// File is the config file that was read, empty when none was found.
	File string `koanf:"-"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"api-base-url":  "api_base_url",
	"api-url":       "api_base_url",
	"session-file":  "session_file",
	"list-limit":    "list_limit",
	"preview-limit": "preview_limit",
	"timeout":       "timeout",
	"format":        "format",
	"output":        "format",
	"no-color":      "no_color",
}

func defaults() map[string]any {
	return map[string]any{
		"api_base_url":  DefaultBaseURL,
		"session_file":  "",
		"list_limit":    DefaultListLimit,
		"preview_limit": DefaultPreviewLimit,
		"timeout":       DefaultTimeout.String(),
		"format":        DefaultFormat,
		"no_color":      false,
	}
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".", ".datadash")
	}
	return filepath.Join(dir, "datadash")
}

// findConfigFile returns the file to read. An explicit path always wins;
// otherwise config.yaml, config.yml and config.toml are tried in DefaultDir.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir := DefaultDir()
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOMLParser()
	}
	return yaml.Parser()
}

// Load resolves settings from defaults, cfgFile (or the default location),
// the environment and the changed flags in flags. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), parserFor(used)); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", used, err)
		}
	}

	// DATADASH_API_BASE_URL -> api_base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = used

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile loads settings from filename plus defaults and environment.
func LoadFromFile(filename string) (*Config, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(filename, nil)
}

// ApplyDefaults fills blank values and validates the rest.
func (c *Config) ApplyDefaults() error {
	c.APIBaseURL = strings.TrimSpace(c.APIBaseURL)
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultBaseURL
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.ListLimit == 0 {
		c.ListLimit = DefaultListLimit
	}
	if c.PreviewLimit == 0 {
		c.PreviewLimit = DefaultPreviewLimit
	}
	return c.Validate()
}

// Validate reports invalid settings.
func (c *Config) Validate() error {
	var errs []error
	if !validFormat(c.Format) {
		errs = append(errs, fmt.Errorf("format %q is not one of %s", c.Format, strings.Join(Formats, ", ")))
	}
	if c.ListLimit < 0 {
		errs = append(errs, fmt.Errorf("list_limit must not be negative, got %d", c.ListLimit))
	}
	if c.PreviewLimit < 0 {
		errs = append(errs, fmt.Errorf("preview_limit must not be negative, got %d", c.PreviewLimit))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func validFormat(f string) bool {
	for _, v := range Formats {
		if v == f {
			return true
		}
	}
	return false
}
