// Package config loads the cardsim settings from a TOML or YAML file and
// CARDSIM_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CARDSIM_"

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalid           = errors.New("config: invalid configuration")
)

// Config is the complete cardsim configuration.
type Config struct {
	Simulator SimulatorConfig
	PCSC      PCSCConfig
	Server    ServerConfig
	Log       LogConfig
}

// SimulatorConfig describes the simulator endpoint and the channel limits.
type SimulatorConfig struct {
	Host              string
	Port              int
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration // 0 waits forever
	PollInterval      time.Duration
	MaxMessageLength  int
	MaxResponseLength int
	ExtendedLength    bool
}

// PCSCConfig selects a physical reader instead of the simulator.
type PCSCConfig struct {
	Enabled     bool
	ReaderIndex int
}

// ServerConfig drives the loopback simulator.
type ServerConfig struct {
	Listen        string
	ResponseDelay time.Duration
}

// LogConfig drives the logger. File enables a rotated log file next to the
// console output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Simulator: SimulatorConfig{
			Host:              "127.0.0.1",
			Port:              8866,
			ConnectTimeout:    10 * time.Second,
			WriteTimeout:      5 * time.Second,
			ReadTimeout:       5 * time.Second,
			PollInterval:      50 * time.Millisecond,
			MaxMessageLength:  4096,
			MaxResponseLength: 4096,
			ExtendedLength:    true,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8866",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// fileConfig mirrors the file layout. Pointer fields stay nil when the key
// is absent so that defaults survive.
type fileConfig struct {
	Simulator struct {
		Host              *string `toml:"host" yaml:"host"`
		Port              *int    `toml:"port" yaml:"port"`
		ConnectTimeout    *string `toml:"connect_timeout" yaml:"connect_timeout"`
		WriteTimeout      *string `toml:"write_timeout" yaml:"write_timeout"`
		ReadTimeout       *string `toml:"read_timeout" yaml:"read_timeout"`
		PollInterval      *string `toml:"poll_interval" yaml:"poll_interval"`
		MaxMessageLength  *int    `toml:"max_message_length" yaml:"max_message_length"`
		MaxResponseLength *int    `toml:"max_response_length" yaml:"max_response_length"`
		ExtendedLength    *bool   `toml:"extended_length" yaml:"extended_length"`
	} `toml:"simulator" yaml:"simulator"`

	PCSC struct {
		Enabled     *bool `toml:"enabled" yaml:"enabled"`
		ReaderIndex *int  `toml:"reader_index" yaml:"reader_index"`
	} `toml:"pcsc" yaml:"pcsc"`

	Server struct {
		Listen        *string `toml:"listen" yaml:"listen"`
		ResponseDelay *string `toml:"response_delay" yaml:"response_delay"`
	} `toml:"server" yaml:"server"`

	Log struct {
		Level      *string `toml:"level" yaml:"level"`
		File       *string `toml:"file" yaml:"file"`
		MaxSizeMB  *int    `toml:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups *int    `toml:"max_backups" yaml:"max_backups"`
		MaxAgeDays *int    `toml:"max_age_days" yaml:"max_age_days"`
		Compress   *bool   `toml:"compress" yaml:"compress"`
	} `toml:"log" yaml:"log"`
}

// Load builds the configuration: defaults, then the file at path (skipped
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := raw.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s: unknown key %q", ErrInvalid, path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return &raw, nil
}

func (f *fileConfig) apply(cfg *Config) error {
	sim := &cfg.Simulator
	setString(&sim.Host, f.Simulator.Host)
	setInt(&sim.Port, f.Simulator.Port)
	setInt(&sim.MaxMessageLength, f.Simulator.MaxMessageLength)
	setInt(&sim.MaxResponseLength, f.Simulator.MaxResponseLength)
	setBool(&sim.ExtendedLength, f.Simulator.ExtendedLength)

	durations := []struct {
		key string
		dst *time.Duration
		src *string
	}{
		{"simulator.connect_timeout", &sim.ConnectTimeout, f.Simulator.ConnectTimeout},
		{"simulator.write_timeout", &sim.WriteTimeout, f.Simulator.WriteTimeout},
		{"simulator.read_timeout", &sim.ReadTimeout, f.Simulator.ReadTimeout},
		{"simulator.poll_interval", &sim.PollInterval, f.Simulator.PollInterval},
		{"server.response_delay", &cfg.Server.ResponseDelay, f.Server.ResponseDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	setBool(&cfg.PCSC.Enabled, f.PCSC.Enabled)
	setInt(&cfg.PCSC.ReaderIndex, f.PCSC.ReaderIndex)

	setString(&cfg.Server.Listen, f.Server.Listen)

	setString(&cfg.Log.Level, f.Log.Level)
	setString(&cfg.Log.File, f.Log.File)
	setInt(&cfg.Log.MaxSizeMB, f.Log.MaxSizeMB)
	setInt(&cfg.Log.MaxBackups, f.Log.MaxBackups)
	setInt(&cfg.Log.MaxAgeDays, f.Log.MaxAgeDays)
	setBool(&cfg.Log.Compress, f.Log.Compress)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// applyEnvOverrides reads CARDSIM_<SECTION>_<KEY> variables.
// Unlike the file, a malformed value is an error rather than ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("SIMULATOR_HOST", &cfg.Simulator.Host)
	str("SERVER_LISTEN", &cfg.Server.Listen)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	return errors.Join(
		num("SIMULATOR_PORT", &cfg.Simulator.Port),
		dur("SIMULATOR_CONNECT_TIMEOUT", &cfg.Simulator.ConnectTimeout),
		dur("SIMULATOR_WRITE_TIMEOUT", &cfg.Simulator.WriteTimeout),
		dur("SIMULATOR_READ_TIMEOUT", &cfg.Simulator.ReadTimeout),
		dur("SIMULATOR_POLL_INTERVAL", &cfg.Simulator.PollInterval),
		num("SIMULATOR_MAX_MESSAGE_LENGTH", &cfg.Simulator.MaxMessageLength),
		num("SIMULATOR_MAX_RESPONSE_LENGTH", &cfg.Simulator.MaxResponseLength),
		flag("SIMULATOR_EXTENDED_LENGTH", &cfg.Simulator.ExtendedLength),
		flag("PCSC_ENABLED", &cfg.PCSC.Enabled),
		num("PCSC_READER_INDEX", &cfg.PCSC.ReaderIndex),
		dur("SERVER_RESPONSE_DELAY", &cfg.Server.ResponseDelay),
	)
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	sim := c.Simulator
	if sim.Host == "" {
		invalid("simulator.host is empty")
	}
	if sim.Port < 1 || sim.Port > 65535 {
		invalid("simulator.port %d out of range", sim.Port)
	}
	if sim.ConnectTimeout < 0 || sim.WriteTimeout < 0 || sim.ReadTimeout < 0 {
		invalid("simulator timeouts must not be negative")
	}
	if sim.PollInterval <= 0 {
		invalid("simulator.poll_interval must be positive")
	}
	if sim.MaxMessageLength <= 0 || sim.MaxResponseLength <= 0 {
		invalid("simulator message limits must be positive")
	}
	if c.PCSC.ReaderIndex < 0 {
		invalid("pcsc.reader_index %d is negative", c.PCSC.ReaderIndex)
	}
	if c.Server.ResponseDelay < 0 {
		invalid("server.response_delay must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		invalid("log.level %q", c.Log.Level)
	}

	return errors.Join(errs...)
}
