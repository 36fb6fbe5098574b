package perftags

import "time"

// Default exchange locations, matching the engine's own defaults.
const (
	DefaultEnginePath  = "perftags.exe"
	DefaultInputPath   = "perf-input.txt"
	DefaultOutputPath  = "perf-output.txt"
	DefaultDatabaseDir = "database/tag-pairings"
	DefaultNewline     = "\r\n"
)

// Timeouts bounds how long each class of command waits for the completion token.
type Timeouts struct {
	// Insert covers insert_files and insert_tags.
	Insert time.Duration
	// Pairing covers insert_tag_pairings, toggle_tag_pairings and delete_tag_pairings.
	Pairing time.Duration
	// Read covers read_files_tags.
	Read time.Duration
	// Flush covers flush_files, purge_unused_files, delete_tags and delete_taggables.
	Flush time.Duration
	// Transaction covers begin_transaction and end_transaction.
	Transaction time.Duration
	// Close covers the exit handshake.
	Close time.Duration
	// Exit bounds the wait for the process to terminate after the exit handshake.
	Exit time.Duration
}

// Config describes how to launch and talk to the engine.
type Config struct {
	EnginePath  string
	InputPath   string
	OutputPath  string
	DatabaseDir string

	// Newline terminates command lines and the completion token.
	Newline string

	// Maintenance is the answer given when the engine asks to run
	// maintenance during the exit handshake.
	Maintenance bool

	// FlushInterval is how often unflushed changes are flushed while no
	// engine transaction is open. Zero disables periodic flushing.
	FlushInterval time.Duration

	// ArchiveDir, when set, receives a copy of every command line and the
	// input payload that accompanied it.
	ArchiveDir string

	Timeouts Timeouts
}

// DefaultTimeouts returns the per-command defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Insert:      time.Second,
		Pairing:     100 * time.Millisecond,
		Read:        100 * time.Millisecond,
		Flush:       30 * time.Minute,
		Transaction: 30 * time.Minute,
		Close:       30 * time.Minute,
		Exit:        10 * time.Second,
	}
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		EnginePath:    DefaultEnginePath,
		InputPath:     DefaultInputPath,
		OutputPath:    DefaultOutputPath,
		DatabaseDir:   DefaultDatabaseDir,
		Newline:       DefaultNewline,
		FlushInterval: 15 * time.Second,
		Timeouts:      DefaultTimeouts(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EnginePath == "" {
		c.EnginePath = d.EnginePath
	}
	if c.InputPath == "" {
		c.InputPath = d.InputPath
	}
	if c.OutputPath == "" {
		c.OutputPath = d.OutputPath
	}
	if c.DatabaseDir == "" {
		c.DatabaseDir = d.DatabaseDir
	}
	if c.Newline == "" {
		c.Newline = d.Newline
	}
	t := &c.Timeouts
	if t.Insert == 0 {
		t.Insert = d.Timeouts.Insert
	}
	if t.Pairing == 0 {
		t.Pairing = d.Timeouts.Pairing
	}
	if t.Read == 0 {
		t.Read = d.Timeouts.Read
	}
	if t.Flush == 0 {
		t.Flush = d.Timeouts.Flush
	}
	if t.Transaction == 0 {
		t.Transaction = d.Timeouts.Transaction
	}
	if t.Close == 0 {
		t.Close = d.Timeouts.Close
	}
	if t.Exit == 0 {
		t.Exit = d.Timeouts.Exit
	}
	return c
}
