// Package config loads ladybug settings and builds the components they
// select.
//
// Settings come from defaults, an optional YAML file and LADYBUG_*
// environment variables, in increasing order of precedence:
//
//	LADYBUG_STORAGE_TYPE=relational LADYBUG_STORAGE_RELATIONAL_DSN=/var/lib/ladybug.db ladybug list
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/capture"
	"github.com/wearefrank/ladybug-sub002/internal/rerun"
	"github.com/wearefrank/ladybug-sub002/internal/storage/relational"
)

// Storage types.
const (
	StorageMemory     = "memory"
	StorageRelational = "relational"
	StorageFailover   = "failover"
)

// Config is the top-level configuration.
// Field tags use mapstructure for viper unmarshalling and yaml for output.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Sweep    SweepConfig    `mapstructure:"sweep" yaml:"sweep"`
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Rerun    RerunConfig    `mapstructure:"rerun" yaml:"rerun"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is memory, relational, or failover (relational with a memory
	// alternative).
	Type       string           `mapstructure:"type" yaml:"type"`
	Name       string           `mapstructure:"name" yaml:"name"`
	InitialID  int64            `mapstructure:"initial_id" yaml:"initial_id"`
	Relational RelationalConfig `mapstructure:"relational" yaml:"relational"`
}

// RelationalConfig holds the relational backend settings.
type RelationalConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
	Table      string `mapstructure:"table" yaml:"table"`
	ReportText bool   `mapstructure:"report_text" yaml:"report_text"`
}

// CaptureConfig holds capture engine limits.
type CaptureConfig struct {
	MaxCheckpoints   int    `mapstructure:"max_checkpoints" yaml:"max_checkpoints"`
	MaxMessageLength int    `mapstructure:"max_message_length" yaml:"max_message_length"`
	Charset          string `mapstructure:"charset" yaml:"charset"`
	AsyncFlush       bool   `mapstructure:"async_flush" yaml:"async_flush"`
}

// SweepConfig holds the housekeeping timeouts.
type SweepConfig struct {
	Interval                 time.Duration `mapstructure:"interval" yaml:"interval"`
	ThreadsTimeout           time.Duration `mapstructure:"threads_timeout" yaml:"threads_timeout"`
	MessageCapturerTimeout   time.Duration `mapstructure:"message_capturer_timeout" yaml:"message_capturer_timeout"`
	WaitForMainThread        bool          `mapstructure:"wait_for_main_thread" yaml:"wait_for_main_thread"`
	LogDiagnosticsBeforeDrop bool          `mapstructure:"log_diagnostics_before_drop" yaml:"log_diagnostics_before_drop"`
	DiagnosticsMinAge        time.Duration `mapstructure:"diagnostics_min_age" yaml:"diagnostics_min_age"`
	DiagnosticsMaxAge        time.Duration `mapstructure:"diagnostics_max_age" yaml:"diagnostics_max_age"`
}

// MetadataConfig points at the extracted field definitions.
type MetadataConfig struct {
	FieldsFile string `mapstructure:"fields_file" yaml:"fields_file"`
}

// RerunConfig holds rerun settings.
type RerunConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Defaults.
const (
	DefaultStorageType            = StorageMemory
	DefaultStorageName            = "debug"
	DefaultSweepInterval          = 10 * time.Second
	DefaultThreadsTimeout         = 60 * time.Second
	DefaultMessageCapturerTimeout = 30 * time.Second
)

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case StorageMemory, StorageRelational, StorageFailover:
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown type %q", c.Storage.Type))
	}
	if c.Storage.Type != StorageMemory {
		if _, ok := relational.DialectFor(c.Storage.Relational.Driver); !ok {
			errs = append(errs, fmt.Errorf("storage.relational.driver: unsupported driver %q", c.Storage.Relational.Driver))
		}
	}
	if c.Storage.InitialID < 0 {
		errs = append(errs, errors.New("storage.initial_id: must not be negative"))
	}
	if c.Capture.MaxCheckpoints <= 0 {
		errs = append(errs, errors.New("capture.max_checkpoints: must be positive"))
	}
	if c.Capture.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("capture.max_message_length: must be positive"))
	}
	if c.Sweep.DiagnosticsMaxAge < c.Sweep.DiagnosticsMinAge {
		errs = append(errs, errors.New("sweep.diagnostics_max_age: must not be below diagnostics_min_age"))
	}
	if c.Rerun.Timeout <= 0 {
		errs = append(errs, errors.New("rerun.timeout: must be positive"))
	}
	return errors.Join(errs...)
}

// SweepOptions converts the sweep settings for capture.Engine.Sweep.
func (c *Config) SweepOptions() capture.SweepOptions {
	return capture.SweepOptions{
		ThreadsTimeout:           c.Sweep.ThreadsTimeout,
		MessageCapturerTimeout:   c.Sweep.MessageCapturerTimeout,
		WaitForMainThread:        c.Sweep.WaitForMainThread,
		LogDiagnosticsBeforeDrop: c.Sweep.LogDiagnosticsBeforeDrop,
		DiagnosticsMinAge:        c.Sweep.DiagnosticsMinAge,
		DiagnosticsMaxAge:        c.Sweep.DiagnosticsMaxAge,
	}
}

func defaults() map[string]any {
	return map[string]any{
		"storage.type":                      DefaultStorageType,
		"storage.name":                      DefaultStorageName,
		"storage.initial_id":                0,
		"storage.relational.driver":         relational.DefaultDriver,
		"storage.relational.dsn":            "ladybug.db",
		"storage.relational.table":          relational.DefaultTable,
		"storage.relational.report_text":    false,
		"capture.max_checkpoints":           capture.DefaultMaxCheckpoints,
		"capture.max_message_length":        capture.DefaultMaxMessageLength,
		"capture.charset":                   "UTF-8",
		"capture.async_flush":               false,
		"sweep.interval":                    DefaultSweepInterval,
		"sweep.threads_timeout":             DefaultThreadsTimeout,
		"sweep.message_capturer_timeout":    DefaultMessageCapturerTimeout,
		"sweep.wait_for_main_thread":        false,
		"sweep.log_diagnostics_before_drop": false,
		"sweep.diagnostics_min_age":         time.Duration(0),
		"sweep.diagnostics_max_age":         time.Duration(0),
		"metadata.fields_file":              "",
		"rerun.timeout":                     rerun.DefaultTimeout,
	}
}
