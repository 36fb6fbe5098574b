package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration. Unset fields keep their defaults.
type File struct {
	Database string     `yaml:"database,omitempty" json:"database,omitempty"`
	LogLevel string     `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Engine   EngineFile `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// EngineFile configures the tag index engine process.
type EngineFile struct {
	Path          string       `yaml:"path,omitempty" json:"path,omitempty"`
	Input         string       `yaml:"input,omitempty" json:"input,omitempty"`
	Output        string       `yaml:"output,omitempty" json:"output,omitempty"`
	DatabaseDir   string       `yaml:"database_dir,omitempty" json:"database_dir,omitempty"`
	Newline       string       `yaml:"newline,omitempty" json:"newline,omitempty"`
	Maintenance   *bool        `yaml:"maintenance,omitempty" json:"maintenance,omitempty"`
	FlushInterval *Duration    `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
	ArchiveDir    string       `yaml:"archive_dir,omitempty" json:"archive_dir,omitempty"`
	Timeouts      TimeoutsFile `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
}

// TimeoutsFile holds per-command timeouts.
type TimeoutsFile struct {
	Insert      Duration `yaml:"insert,omitempty" json:"insert,omitempty"`
	Pairing     Duration `yaml:"pairing,omitempty" json:"pairing,omitempty"`
	Read        Duration `yaml:"read,omitempty" json:"read,omitempty"`
	Flush       Duration `yaml:"flush,omitempty" json:"flush,omitempty"`
	Transaction Duration `yaml:"transaction,omitempty" json:"transaction,omitempty"`
	Close       Duration `yaml:"close,omitempty" json:"close,omitempty"`
	Exit        Duration `yaml:"exit,omitempty" json:"exit,omitempty"`
}

// FromConfig renders cfg in file form, every field populated.
func FromConfig(cfg Config) File {
	e := cfg.Engine
	maintenance := e.Maintenance
	flush := Duration(e.FlushInterval)
	return File{
		Database: cfg.Database,
		LogLevel: cfg.LogLevel,
		Engine: EngineFile{
			Path:          e.EnginePath,
			Input:         e.InputPath,
			Output:        e.OutputPath,
			DatabaseDir:   e.DatabaseDir,
			Newline:       e.Newline,
			Maintenance:   &maintenance,
			FlushInterval: &flush,
			ArchiveDir:    e.ArchiveDir,
			Timeouts: TimeoutsFile{
				Insert:      Duration(e.Timeouts.Insert),
				Pairing:     Duration(e.Timeouts.Pairing),
				Read:        Duration(e.Timeouts.Read),
				Flush:       Duration(e.Timeouts.Flush),
				Transaction: Duration(e.Timeouts.Transaction),
				Close:       Duration(e.Timeouts.Close),
				Exit:        Duration(e.Timeouts.Exit),
			},
		},
	}
}

func (f File) merge(base Config) Config {
	setString(&base.Database, f.Database)
	setString(&base.LogLevel, f.LogLevel)

	e, t := f.Engine, &base.Engine.Timeouts
	setString(&base.Engine.EnginePath, e.Path)
	setString(&base.Engine.InputPath, e.Input)
	setString(&base.Engine.OutputPath, e.Output)
	setString(&base.Engine.DatabaseDir, e.DatabaseDir)
	setString(&base.Engine.Newline, e.Newline)
	setString(&base.Engine.ArchiveDir, e.ArchiveDir)
	if e.Maintenance != nil {
		base.Engine.Maintenance = *e.Maintenance
	}
	if e.FlushInterval != nil {
		base.Engine.FlushInterval = time.Duration(*e.FlushInterval)
	}

	setDuration(&t.Insert, e.Timeouts.Insert)
	setDuration(&t.Pairing, e.Timeouts.Pairing)
	setDuration(&t.Read, e.Timeouts.Read)
	setDuration(&t.Flush, e.Timeouts.Flush)
	setDuration(&t.Transaction, e.Timeouts.Transaction)
	setDuration(&t.Close, e.Timeouts.Close)
	setDuration(&t.Exit, e.Timeouts.Exit)
	return base
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func parseDuration(s string) (Duration, error) {
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
