package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "torussim.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	if *cfg != want {
		t.Errorf("LoadConfig() = %+v, want %+v", *cfg, want)
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	path := writeConfig(t, `
size = 16
steps = 100
b0 = 20.0
backend = "software"
output = "from-file"
`)
	environ := map[string]string{
		"TORUSSIM_STEPS":            "200",
		"TORUSSIM_OUTPUT":           "from-env",
		"TORUSSIM_SHUTDOWN_TIMEOUT": "2s",
		"UNRELATED":                 "x",
	}
	cfg, err := LoadConfig([]string{"-config", path, "-output", "from-flag", "-workers", "3"}, environ)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"size from file", cfg.Size, 16},
		{"b0 from file", cfg.B0, 20.0},
		{"steps from env over file", cfg.Steps, 200},
		{"output from flag over env", cfg.Output, "from-flag"},
		{"workers from flag", cfg.Workers, 3},
		{"timeout from env", cfg.ShutdownTimeout, 2 * time.Second},
		{"default kept", cfg.SnapshotSize, 512},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		environ map[string]string
		file    string
		wantMsg string
	}{
		{"unknown flag", []string{"-nope"}, nil, "", "flag provided but not defined"},
		{"missing file", []string{"-config", "/does/not/exist.toml"}, nil, "", "config"},
		{"unknown key", nil, nil, "colour = \"red\"\n", "colour"},
		{"bad toml", nil, nil, "size = [\n", "config"},
		{"bad env", nil, map[string]string{"TORUSSIM_SIZE": "big"}, "", "environment"},
		{"invalid value", []string{"-size", "0"}, nil, "", "size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if tt.file != "" {
				args = append([]string{"-config", writeConfig(t, tt.file)}, args...)
			}
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := LoadConfig(args, environ)
			if err == nil {
				t.Fatal("LoadConfig() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadConfig_Help(t *testing.T) {
	_, err := LoadConfig([]string{"-h"}, map[string]string{})
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("LoadConfig(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative steps", func(c *Config) { c.Steps = -1 }, true},
		{"zero delta", func(c *Config) { c.FrameDelta = 0 }, true},
		{"negative reset", func(c *Config) { c.ResetEvery = -2 }, true},
		{"snapshot without size", func(c *Config) { c.SnapshotEvery = 1; c.SnapshotSize = 0 }, true},
		{"size unused without snapshots", func(c *Config) { c.SnapshotSize = 0 }, false},
		{"unknown backend", func(c *Config) { c.Backend = "opencl" }, true},
		{"wgpu backend", func(c *Config) { c.Backend = "wgpu" }, false},
		{"negative workers", func(c *Config) { c.Workers = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ClampsFrameDelta(t *testing.T) {
	c := DefaultConfig()
	c.FrameDelta = 0.5
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.FrameDelta != maxFrameDelta {
		t.Errorf("FrameDelta = %v, want %v", c.FrameDelta, maxFrameDelta)
	}
}

func TestConfig_Level(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "debug"
	if l, err := c.Level(); err != nil || l != slog.LevelDebug {
		t.Errorf("Level() = %v, %v; want debug", l, err)
	}
}
