package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables honoured by Load, the same ones the adb tool reads.
const (
	EnvServerAddress = "ANDROID_ADB_SERVER_ADDRESS"
	EnvServerPort    = "ANDROID_ADB_SERVER_PORT"
	EnvAdbPath       = "ADB_PATH"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5037
)

// Retry configures how long to wait for a server that was just launched.
type Retry struct {
	Mode     string        `yaml:"mode,omitempty"`
	Initial  time.Duration `yaml:"initial,omitempty"`
	Max      time.Duration `yaml:"max,omitempty"`
	Attempts int           `yaml:"attempts,omitempty"`
}

// Log configures the CLI's slog handler.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AdbPath        string        `yaml:"adb_path,omitempty"`
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
	Retry          Retry         `yaml:"retry,omitempty"`
	Log            Log           `yaml:"log,omitempty"`
	MetricsListen  string        `yaml:"metrics_listen,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		AdbPath:        "adb",
		CommandTimeout: 10 * time.Second,
		Retry: Retry{
			Mode:     "exponential",
			Initial:  100 * time.Millisecond,
			Max:      2 * time.Second,
			Attempts: 5,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Dir returns the config directory path.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "adbclient")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "adbclient")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file at path (Path() if empty), returning defaults if
// it doesn't exist, and then applies the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(err, "read config")
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Save writes the config to path (Path() if empty).
func Save(path string, cfg *Config) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write config")
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServerAddress); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup(EnvServerPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvServerPort)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvAdbPath); ok && v != "" {
		c.AdbPath = v
	}
	return nil
}

// Validate checks the fields that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port out of range: %d", c.Port)
	}
	if c.CommandTimeout < 0 {
		return errors.New("command_timeout cannot be negative")
	}
	return nil
}

// Address is the host:port of the adb server.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
