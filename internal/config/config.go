// Package config loads server settings from a file, the environment and flags
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"haws/internal/common"
)

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "HAWS_"

// Transports
const (
	TransportTCP   = "tcp"
	TransportYamux = "yamux"
)

// Route is one route in the config file. Exactly one of Body or File is used.
type Route struct {
	Path string `mapstructure:"path"`
	Body string `mapstructure:"body"`
	File string `mapstructure:"file"`
}

// Config holds the server settings
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Transport      string        `mapstructure:"transport"`
	XorKey         string        `mapstructure:"xor_key"`
	SocksAddr      string        `mapstructure:"socks_addr"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	SingleRead     bool          `mapstructure:"single_read"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	StatusPath     string        `mapstructure:"status_path"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	Tracing        bool          `mapstructure:"tracing"`
	Routes         []Route       `mapstructure:"routes"`
}

// DefaultReadTimeout bounds how long one client may hold the serve loop
// before whatever it sent is dispatched.
const DefaultReadTimeout = 10 * time.Second

// Default returns the settings used when nothing else is configured
func Default() *Config {
	return &Config{
		Host:        "localhost",
		Port:        3000,
		Transport:   TransportTCP,
		ReadTimeout: DefaultReadTimeout,
		LogLevel:    "info",
	}
}

// DefaultPaths are searched when no config file is given
var DefaultPaths = []string{
	"haws.yaml",
	"haws.yml",
	"haws.toml",
	"haws.json",
	filepath.Join("config", "haws.yaml"),
	filepath.Join("config", "haws.toml"),
}

// Load reads the config file at path (or the first of DefaultPaths that
// exists when path is empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = common.FirstExisting(DefaultPaths...)
	}
	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(raw, cfg, true); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		// Page files are relative to the config file.
		for i := range cfg.Routes {
			if f := cfg.Routes[i].File; f != "" && !filepath.IsAbs(f) {
				cfg.Routes[i].File = filepath.Join(filepath.Dir(path), f)
			}
		}
	}

	if err := decode(envOverrides(environ), cfg, false); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw := make(map[string]interface{})
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".json":
		err = json.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raw, nil
}

// envOverrides maps HAWS_PORT=8080 to {"port": "8080"}
func envOverrides(environ []string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		if key == "routes" {
			continue
		}
		out[key] = v
	}
	return out
}

// decode applies input on top of cfg. Strict decoding rejects unknown keys.
func decode(input map[string]interface{}, cfg *Config, strict bool) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Validate checks settings that would otherwise fail at startup
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Transport != TransportTCP && c.Transport != TransportYamux {
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.MaxHeaderBytes < 0 {
		errs = append(errs, errors.New("max_header_bytes must not be negative"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	for i, r := range c.Routes {
		if r.Body != "" && r.File != "" {
			errs = append(errs, fmt.Errorf("route %d (%q): body and file are exclusive", i, r.Path))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns host:port
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
