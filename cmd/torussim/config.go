package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/pelletier/go-toml/v2"
)

// envPrefix is prepended to every environment variable name.
const envPrefix = "TORUSSIM_"

// maxFrameDelta caps the per-step delta.
const maxFrameDelta = 0.05

// Config holds the simulation settings. Values are layered, lowest first:
// defaults, TOML file, TORUSSIM_* environment, command-line flags.
type Config struct {
	// Size is the particle grid edge; Size*Size particles are simulated.
	Size int `toml:"size" env:"SIZE"`

	// Steps is the number of steps to run. Zero runs until interrupted.
	Steps int `toml:"steps" env:"STEPS"`

	// FrameDelta is the simulated time per step in seconds.
	FrameDelta float64 `toml:"frame_delta" env:"FRAME_DELTA"`

	// B0 scales the toroidal field perturbation.
	B0 float64 `toml:"b0" env:"B0"`

	// Seed seeds the initial particle distribution.
	Seed int64 `toml:"seed" env:"SEED"`

	ResetEvery    int    `toml:"reset_every" env:"RESET_EVERY"`
	SnapshotEvery int    `toml:"snapshot_every" env:"SNAPSHOT_EVERY"`
	SnapshotSize  int    `toml:"snapshot_size" env:"SNAPSHOT_SIZE"`
	Output        string `toml:"output" env:"OUTPUT"`

	// Backend is "software" or "wgpu".
	Backend string `toml:"backend" env:"BACKEND"`
	Workers int    `toml:"workers" env:"WORKERS"`

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr     string        `toml:"metrics_addr" env:"METRICS_ADDR"`
	ShutdownTimeout time.Duration `toml:"-" env:"SHUTDOWN_TIMEOUT"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
}

// DefaultConfig returns the interactive particle demo settings.
func DefaultConfig() Config {
	return Config{
		Size:            32,
		Steps:           600,
		FrameDelta:      1.0 / 60,
		B0:              10,
		Seed:            1,
		SnapshotSize:    512,
		Output:          ".",
		Backend:         "software",
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// LoadConfig builds a Config from args and environ (KEY=VALUE pairs).
func LoadConfig(args []string, environ map[string]string) (*Config, error) {
	// First pass only finds -config; all flags are declared so parsing
	// does not stop at an unknown one.
	scan := flag.NewFlagSet("torussim", flag.ContinueOnError)
	var scratch Config
	path := bindFlags(scan, &scratch)
	if err := scan.Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if *path != "" {
		if err := loadFile(*path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("torussim: environment: %w", err)
	}

	// Second pass: flags given on the command line override everything.
	fs := flag.NewFlagSet("torussim", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config) *string {
	path := fs.String("config", "", "TOML configuration file")
	fs.IntVar(&cfg.Size, "size", cfg.Size, "particle grid edge (size*size particles)")
	fs.IntVar(&cfg.Steps, "steps", cfg.Steps, "steps to run, 0 runs until interrupted")
	fs.Float64Var(&cfg.FrameDelta, "delta", cfg.FrameDelta, "simulated seconds per step")
	fs.Float64Var(&cfg.B0, "b0", cfg.B0, "toroidal field strength")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for the initial distribution")
	fs.IntVar(&cfg.ResetEvery, "reset-every", cfg.ResetEvery, "reseed particles every n steps")
	fs.IntVar(&cfg.SnapshotEvery, "snapshot-every", cfg.SnapshotEvery, "write a PNG every n steps")
	fs.IntVar(&cfg.SnapshotSize, "snapshot-size", cfg.SnapshotSize, "snapshot edge in pixels")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "snapshot directory")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "compute backend: software or wgpu")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "software backend workers, 0 uses GOMAXPROCS")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "metrics server shutdown timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	return path
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("torussim: config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, len(strict.Errors))
			for i, e := range strict.Errors {
				keys[i] = strings.Join(e.Key(), ".")
			}
			return fmt.Errorf("torussim: config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
		return fmt.Errorf("torussim: config %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and clamps FrameDelta to the step cap.
func (c *Config) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("torussim: size must be positive, got %d", c.Size)
	case c.Steps < 0:
		return fmt.Errorf("torussim: steps must not be negative, got %d", c.Steps)
	case c.FrameDelta <= 0:
		return fmt.Errorf("torussim: frame delta must be positive, got %v", c.FrameDelta)
	case c.ResetEvery < 0 || c.SnapshotEvery < 0:
		return errors.New("torussim: reset and snapshot intervals must not be negative")
	case c.SnapshotEvery > 0 && c.SnapshotSize <= 0:
		return fmt.Errorf("torussim: snapshot size must be positive, got %d", c.SnapshotSize)
	case c.Backend != "software" && c.Backend != "wgpu":
		return fmt.Errorf("torussim: unknown backend %q", c.Backend)
	case c.Workers < 0:
		return fmt.Errorf("torussim: workers must not be negative, got %d", c.Workers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	c.FrameDelta = min(c.FrameDelta, maxFrameDelta)
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("torussim: log level: %w", err)
	}
	return l, nil
}

// environ returns the process environment as a map.
func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
