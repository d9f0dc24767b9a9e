// Package config loads the settings of the graphite tools from TOML or
// YAML files and turns them into Context and device options.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/graphite"
	"github.com/gogpu/graphite/driver/native"
	"github.com/gogpu/graphite/driver/soft"
)

// ErrUnknownFormat is returned for files that are neither TOML nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Decoder decodes one document.
type Decoder interface {
	Decode(v any) error
}

// DecoderFunc creates a Decoder reading from r.
type DecoderFunc func(r io.Reader) Decoder

// TOML decodes TOML, rejecting unknown keys.
func TOML(r io.Reader) Decoder {
	d := toml.NewDecoder(r)
	d.DisallowUnknownFields()
	return d
}

// YAML decodes YAML, rejecting unknown keys.
func YAML(r io.Reader) Decoder {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	return d
}

// DecoderFor returns the decoder for a file name by extension.
func DecoderFor(filename string) (DecoderFunc, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, filename)
	}
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds the settings of a graphite run.
type Config struct {
	// Backend selects the device: "soft", "vulkan", "metal" or "noop".
	Backend string `toml:"backend" yaml:"backend"`

	// LogLevel is one of "debug", "info", "warn", "error" or "off".
	LogLevel string `toml:"log_level" yaml:"log_level"`

	Context ContextConfig `toml:"context" yaml:"context"`
	Soft    SoftConfig    `toml:"soft" yaml:"soft"`
	Native  NativeConfig  `toml:"native" yaml:"native"`
}

// ContextConfig configures the Context.
type ContextConfig struct {
	Label           string   `toml:"label" yaml:"label"`
	BudgetBytes     uint64   `toml:"budget_bytes" yaml:"budget_bytes"`
	TeardownTimeout Duration `toml:"teardown_timeout" yaml:"teardown_timeout"`
}

// SoftConfig configures the software device.
type SoftConfig struct {
	Latency             Duration `toml:"latency" yaml:"latency"`
	MemoryLimit         uint64   `toml:"memory_limit" yaml:"memory_limit"`
	CopyRowAlignment    uint32   `toml:"copy_row_alignment" yaml:"copy_row_alignment"`
	MaxTextureDimension uint32   `toml:"max_texture_dimension" yaml:"max_texture_dimension"`
	Workers             int      `toml:"workers" yaml:"workers"`
}

// NativeConfig configures HAL devices.
type NativeConfig struct {
	PipelineCacheSize int `toml:"pipeline_cache_size" yaml:"pipeline_cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:  "soft",
		LogLevel: "warn",
		Context: ContextConfig{
			Label:           "graphite",
			TeardownTimeout: Duration(graphite.DefaultTeardownTimeout),
		},
	}
}

// Open reads filename over the defaults, picking the decoder by extension.
func Open(filename string) (*Config, error) {
	f, err := DecoderFor(filename)
	if err != nil {
		return nil, err
	}
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	cfg, err := Read(bufio.NewReader(fp), f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", filename, err)
	}
	return cfg, nil
}

// Read decodes a configuration from r over the defaults.
func Read(r io.Reader, f DecoderFunc) (*Config, error) {
	cfg := Default()
	if err := f(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch c.Backend {
	case "soft", "vulkan", "metal", "noop":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Native.PipelineCacheSize < 0 {
		return fmt.Errorf("config: negative pipeline_cache_size %d", c.Native.PipelineCacheSize)
	}
	return nil
}

// LevelOff disables logging.
const LevelOff = slog.Level(100)

// Level returns the slog level of LogLevel.
func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off":
		return LevelOff, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
}

// ContextOptions returns the Context options for c, logging to l.
func (c *Config) ContextOptions(l *slog.Logger) []graphite.ContextOption {
	opts := []graphite.ContextOption{
		graphite.WithLogger(l),
		graphite.WithTeardownTimeout(time.Duration(c.Context.TeardownTimeout)),
	}
	if c.Context.Label != "" {
		opts = append(opts, graphite.WithContextLabel(c.Context.Label))
	}
	if c.Context.BudgetBytes > 0 {
		opts = append(opts, graphite.WithMaxBudgetedBytes(c.Context.BudgetBytes))
	}
	return opts
}

// SoftOptions returns the software device options for c.
func (c *Config) SoftOptions(l *slog.Logger) []soft.Option {
	opts := []soft.Option{soft.WithLogger(l)}
	if c.Soft.Latency > 0 {
		opts = append(opts, soft.WithLatency(time.Duration(c.Soft.Latency)))
	}
	if c.Soft.MemoryLimit > 0 {
		opts = append(opts, soft.WithMemoryLimit(c.Soft.MemoryLimit))
	}
	if c.Soft.CopyRowAlignment > 0 {
		opts = append(opts, soft.WithCopyRowAlignment(c.Soft.CopyRowAlignment))
	}
	if c.Soft.MaxTextureDimension > 0 {
		opts = append(opts, soft.WithMaxTextureDimension(c.Soft.MaxTextureDimension))
	}
	if c.Soft.Workers > 1 {
		opts = append(opts, soft.WithWorkers(c.Soft.Workers))
	}
	return opts
}

// NativeOptions returns the HAL device options for c.
func (c *Config) NativeOptions(l *slog.Logger) []native.Option {
	opts := []native.Option{native.WithLogger(l)}
	if c.Native.PipelineCacheSize > 0 {
		opts = append(opts, native.WithPipelineCacheSize(c.Native.PipelineCacheSize))
	}
	return opts
}
