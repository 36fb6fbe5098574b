// Package config resolves tagsync's deployment configuration.
//
// Precedence, lowest to highest: built-in defaults, the config file, CLI
// overrides. Config files are YAML (.yaml, .yml) or JSON with comments
// (.json, .jsonc). Durations are written as Go duration strings ("150ms").
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tagsync/internal/perftags"
)

// DefaultDatabase is the relational store path used when none is configured.
const DefaultDatabase = "tagsync.db"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrUnsupportedFormat  = errors.New("unsupported config file format")
)

// Config is the resolved configuration.
type Config struct {
	Database string
	LogLevel string
	Engine   perftags.Config

	// Source is the config file that was loaded, empty when none was.
	Source string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		LogLevel: "info",
		Engine:   perftags.DefaultConfig(),
	}
}

// Overrides are CLI flag values. Zero values leave the configured value alone.
type Overrides struct {
	Database    string
	LogLevel    string
	EnginePath  string
	DatabaseDir string
	ArchiveDir  string
	Maintenance *bool
}

// Load resolves the configuration from defaults, the file at path (if
// path is non-empty) and overrides.
func Load(path string, overrides Overrides) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = file.merge(cfg)
		cfg.Source = path
	}

	cfg = overrides.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Database == "":
		return errors.New("database path cannot be empty")
	case c.Engine.EnginePath == "":
		return errors.New("engine path cannot be empty")
	case c.Engine.InputPath == "" || c.Engine.OutputPath == "":
		return errors.New("exchange file paths cannot be empty")
	case c.Engine.InputPath == c.Engine.OutputPath:
		return fmt.Errorf("input and output exchange files must differ (both %q)", c.Engine.InputPath)
	case c.Engine.Newline == "":
		return errors.New("newline cannot be empty")
	case c.Engine.FlushInterval < 0:
		return errors.New("flush interval cannot be negative")
	}

	t := c.Engine.Timeouts
	for _, timeout := range []struct {
		name string
		d    Duration
	}{
		{"insert", Duration(t.Insert)},
		{"pairing", Duration(t.Pairing)},
		{"read", Duration(t.Read)},
		{"flush", Duration(t.Flush)},
		{"transaction", Duration(t.Transaction)},
		{"close", Duration(t.Close)},
		{"exit", Duration(t.Exit)},
	} {
		if timeout.d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", timeout.name, timeout.d)
		}
	}
	return nil
}

// ReadFile parses the config file at path, choosing the format by extension.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var file File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &file)
	case ".json", ".jsonc":
		err = decodeJSONC(data, &file)
	default:
		return File{}, fmt.Errorf("%w %q: %s", ErrUnsupportedFormat, ext, path)
	}
	if err != nil {
		return File{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return file, nil
}

func decodeYAML(data []byte, v any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return nil
}

func decodeJSONC(data []byte, v any) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func (o Overrides) apply(cfg Config) Config {
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.EnginePath != "" {
		cfg.Engine.EnginePath = o.EnginePath
	}
	if o.DatabaseDir != "" {
		cfg.Engine.DatabaseDir = o.DatabaseDir
	}
	if o.ArchiveDir != "" {
		cfg.Engine.ArchiveDir = o.ArchiveDir
	}
	if o.Maintenance != nil {
		cfg.Engine.Maintenance = *o.Maintenance
	}
	return cfg
}
