// Package config holds runtime-wide configuration: tracing options and
// module-subsystem pool sizing, generalized from the teacher's flat
// Config/ServerLogConfig pair into the init options context_init accepts
// (spec §6 "Context handle").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	units "github.com/docker/go-units"
)

// Level mirrors the tracing subsystem's level lattice, ordered from most to
// least severe so that "L <= max-level" (spec §4.2 "Level filtering")
// reduces to a plain integer compare.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// ParseLevel parses the teacher's lowercase level strings.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off", "":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "warn":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return LevelOff, fmt.Errorf("unknown tracing level %q", s)
	}
}

// TracingConfig is the tracing-subsystem enablement block from spec §4.2
// ("Enablement"). FormatBufferSize accepts human-readable sizes ("4KiB")
// via docker/go-units, matching the teacher's byte-size fields in
// types.Storage/types.Image.
type TracingConfig struct {
	FormatBufferSizeHuman string `json:"format_buffer_size"`
	MaxLevel              string `json:"max_level"`
	AutoRegisterThread    bool   `json:"auto_register_thread"`
	AppName               string `json:"app_name"`

	// FormatBufferSize is the resolved byte size, populated by Resolve.
	FormatBufferSize int `json:"-"`
	// ResolvedLevel is the resolved Level, populated by Resolve.
	ResolvedLevel Level `json:"-"`
}

// Resolve parses the human-readable fields into their machine forms.
// Called once at context init.
func (t *TracingConfig) Resolve() error {
	if t.FormatBufferSizeHuman == "" {
		t.FormatBufferSize = 1024
	} else {
		n, err := units.RAMInBytes(t.FormatBufferSizeHuman)
		if err != nil {
			return fmt.Errorf("parse format_buffer_size %q: %w", t.FormatBufferSizeHuman, err)
		}
		if n < 0 {
			return fmt.Errorf("format_buffer_size %q must not be negative", t.FormatBufferSizeHuman)
		}
		t.FormatBufferSize = int(n)
	}

	lvl, err := ParseLevel(t.MaxLevel)
	if err != nil {
		return err
	}
	t.ResolvedLevel = lvl
	return nil
}

// ModuleConfig sizes the worker pool used for concurrent export-section
// scans during loading-set staging (spec §4.3 "set_append_modules").
type ModuleConfig struct {
	// ScanPoolSize bounds the goroutines used to scan multiple
	// set_append_modules paths concurrently. Defaults to NumCPU.
	ScanPoolSize int `json:"scan_pool_size"`
}

// Config is the full set of context_init options.
type Config struct {
	Tracing TracingConfig `json:"tracing"`
	Module  ModuleConfig  `json:"module"`
}

// Default returns a Config with sensible defaults: tracing disabled (no
// subscribers attached yet — the caller must still add some for events to
// flow), matching spec §4.2 "when disabled... every operation is a cheap
// default-valued no-op".
func Default() *Config {
	return &Config{
		Tracing: TracingConfig{
			FormatBufferSizeHuman: "1KiB",
			MaxLevel:              "off",
			AppName:               "fimo",
		},
		Module: ModuleConfig{
			ScanPoolSize: runtime.NumCPU(),
		},
	}
}

// Load reads a JSON config file, falling back to Default on a missing file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Tracing.Resolve(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path supplied by the host
	if err != nil {
		if os.IsNotExist(err) {
			if rerr := cfg.Tracing.Resolve(); rerr != nil {
				return nil, rerr
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Module.ScanPoolSize <= 0 {
		cfg.Module.ScanPoolSize = runtime.NumCPU()
	}
	if err := cfg.Tracing.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}
