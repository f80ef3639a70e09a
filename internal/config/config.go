package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Executor backend names.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Config is the root of the configuration file.
type Config struct {
	Engine Engine `toml:"engine"`
	Server Server `toml:"server"`
	Log    Log    `toml:"log"`
}

// Engine controls scheduling and execution.
type Engine struct {
	OutRoot     string        `toml:"out_root"`
	MaxParallel int           `toml:"max_parallel"`
	CPUs        int           `toml:"cpus"`
	MemoryMB    int           `toml:"memory_mb"`
	Executor    string        `toml:"executor"`
	Shell       string        `toml:"shell"`
	DrainGrace  time.Duration `toml:"drain_grace"`
	Journal     string        `toml:"journal"`
	Docker      Docker        `toml:"docker"`
}

// Docker configures the docker executor backend.
type Docker struct {
	Binary    string   `toml:"binary"`
	Image     string   `toml:"image"`
	ExtraArgs []string `toml:"extra_args"`
}

// Server configures the socket.io listener and the health check.
type Server struct {
	Listen          string `toml:"listen"`
	HealthcheckPort int    `toml:"healthcheck_port"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: Engine{
			OutRoot:     ".",
			MaxParallel: 4,
			CPUs:        4,
			MemoryMB:    8192,
			Executor:    ExecutorLocal,
			Shell:       "bash",
			DrainGrace:  2 * time.Second,
			Docker: Docker{
				Binary: "docker",
				Image:  "ubuntu:24.04",
			},
		},
		Server: Server{
			Listen: "127.0.0.1:7373",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := Decode(string(raw), cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses TOML text into cfg and rejects unknown keys.
func Decode(text string, cfg *Config) error {
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.OutRoot == "" {
		errs = append(errs, errors.New("engine.out_root must not be empty"))
	}
	if c.Engine.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("engine.max_parallel must be at least 1, got %d", c.Engine.MaxParallel))
	}
	if c.Engine.CPUs < 1 {
		errs = append(errs, fmt.Errorf("engine.cpus must be at least 1, got %d", c.Engine.CPUs))
	}
	if c.Engine.MemoryMB < 1 {
		errs = append(errs, fmt.Errorf("engine.memory_mb must be at least 1, got %d", c.Engine.MemoryMB))
	}
	if c.Engine.DrainGrace < 0 {
		errs = append(errs, errors.New("engine.drain_grace must not be negative"))
	}
	switch c.Engine.Executor {
	case ExecutorLocal:
		if c.Engine.Shell == "" {
			errs = append(errs, errors.New("engine.shell must not be empty"))
		}
	case ExecutorDocker:
		if c.Engine.Docker.Image == "" {
			errs = append(errs, errors.New("engine.docker.image must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.executor must be %q or %q, got %q", ExecutorLocal, ExecutorDocker, c.Engine.Executor))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format))
	}
	if c.Server.HealthcheckPort < 0 {
		errs = append(errs, errors.New("server.healthcheck_port must not be negative"))
	}
	return errors.Join(errs...)
}
