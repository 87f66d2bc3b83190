package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect run
	// behavior, keep these in sync:
	// - CLI flags in internal/cli/run.go
	// - defaults in New and defaultMap
	Runtime Runtime `koanf:"runtime"`
	Output  Output  `koanf:"output"`
	Secrets Secrets `koanf:"secrets"`
	Lint    Lint    `koanf:"lint"`
	Status  Status  `koanf:"status"`
}

type Runtime struct {
	// Manifest is an explicit manifest path (see --manifest). Empty means
	// discovery in the working directory.
	Manifest string `koanf:"manifest"`

	// Concurrency controls how many env-matrix jobs run in parallel
	// (see --concurrency). Must be >= 1.
	Concurrency int `koanf:"concurrency"`

	// Timeout is the global timeout for the whole run (see --timeout).
	// Must be > 0.
	Timeout time.Duration `koanf:"timeout"`

	// StepTimeout bounds a single step when the manifest does not.
	StepTimeout time.Duration `koanf:"step_timeout"`

	// Verbose enables debug logging, including subprocess output echoing.
	Verbose bool `koanf:"verbose"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format
	// (see --console-format). Allowed values: text, json, ndjson.
	ConsoleFormat string `koanf:"console_format"`

	// ConsoleFilterStatus filters console output by step status
	// (see --console-filter-status). Allowed values: OK, FAILED, RETRIED, SKIPPED, ERROR.
	ConsoleFilterStatus []string `koanf:"console_filter_status"`

	// Report writes a Markdown run report to this path (see --report).
	Report string `koanf:"report"`

	// Out writes structured output to this path (see --out).
	Out string `koanf:"out"`

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, inferred from the file extension.
	OutFormat string `koanf:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `koanf:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `koanf:"no_console"`
}

type Secrets struct {
	// Key is the secretbox key used to open "secure:" manifest values,
	// hex or base64 encoded (see --secret-key, PLUMERUN_SECRET_KEY).
	Key string `koanf:"key"`
}

type Lint struct {
	// Ignore lists check IDs that validate must not report.
	Ignore []string `koanf:"ignore"`
}

type Status struct {
	// Enabled turns on GitHub commit status reporting. The manifest's
	// notifications block can also enable it.
	Enabled bool `koanf:"enabled"`

	// Context is the status context string shown on the commit.
	Context string `koanf:"context"`

	// Token is an explicit GitHub token. Empty falls back to GITHUB_TOKEN
	// and then the gh CLI.
	Token string `koanf:"token"`
}

func New() *Config {
	return &Config{
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency: 1,
			Timeout:     50 * time.Minute,
			StepTimeout: 10 * time.Minute,
		},
		Status: Status{
			Context: "plumerun",
		},
	}
}

// Load builds a Config from layered sources: built-in defaults, then a TOML
// file (explicit path, ./.plumerun.toml, or $HOME/.plumerun.toml), then
// PLUMERUN_-prefixed environment variables. CLI flags are bound afterwards by
// the cli package and win over everything here.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	} else {
		for _, path := range []string{"./.plumerun.toml", "$HOME/.plumerun.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider("PLUMERUN_CFG_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "PLUMERUN_CFG_")
		return strings.Replace(strings.ToLower(s), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := New()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func defaultMap() map[string]interface{} {
	d := New()
	return map[string]interface{}{
		"runtime.concurrency":   d.Runtime.Concurrency,
		"runtime.timeout":       d.Runtime.Timeout,
		"runtime.step_timeout":  d.Runtime.StepTimeout,
		"output.console_format": d.Output.ConsoleFormat,
		"status.context":        d.Status.Context,
	}
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)
	c.Output.Emit = splitCommaList(c.Output.Emit)
	c.Lint.Ignore = splitCommaList(c.Lint.Ignore)

	if c.Runtime.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Runtime.Concurrency)
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.Runtime.StepTimeout <= 0 {
		return errors.New("step timeout must be > 0")
	}

	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	switch c.Output.ConsoleFormat {
	case "text", "json", "ndjson":
	case "":
		return errors.New("--console-format must be one of: text, json, ndjson")
	default:
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for _, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
	}

	if c.Output.OutFormat != "" {
		v := normalizeEnumValue(c.Output.OutFormat)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --out-format: %s (must be one of: json, ndjson)", c.Output.OutFormat)
		}
		c.Output.OutFormat = v
	}
	if c.Output.OutFormat != "" && c.Output.Out == "" {
		return errors.New("--out-format requires --out")
	}

	if c.Output.NoConsole && len(c.Output.Emit) == 0 && c.Output.Out == "" && c.Output.Report == "" {
		return errors.New("--no-console requires at least one of --emit, --out, or --report")
	}

	return nil
}

func normalizeEnumValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
