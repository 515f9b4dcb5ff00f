// Package config loads and saves the remindctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/engine"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of remindctl.
type Config struct {
	// Database is the path of the sqlite file holding rules and alarms.
	Database string `yaml:"database" json:"database"`
	// Calendar is the logical database commands operate on by default.
	Calendar string `yaml:"calendar" json:"calendar"`
	// Timezone is an IANA name, or "Local" for the system zone.
	Timezone string `yaml:"timezone" json:"timezone"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel" json:"logLevel"`

	Alarms AlarmConfig `yaml:"alarms" json:"alarms"`
	Cache  CacheConfig `yaml:"cache" json:"cache"`
	Feed   FeedConfig  `yaml:"feed" json:"feed"`

	// RangeDays is the default window of the range and export commands.
	RangeDays int `yaml:"rangeDays" json:"rangeDays"`
}

// AlarmConfig tunes the scheduler.
type AlarmConfig struct {
	// SnoozeMinutes is the default snooze delay.
	SnoozeMinutes int `yaml:"snoozeMinutes" json:"snoozeMinutes"`
	// OldAlarmPolicy is "all" or "latest-per-item".
	OldAlarmPolicy string `yaml:"oldAlarmPolicy" json:"oldAlarmPolicy"`
	// OverdueDays limits how far back overdue alarms are recovered.
	OverdueDays int `yaml:"overdueDays" json:"overdueDays"`
	// MaxIterations bounds a single search.
	MaxIterations int `yaml:"maxIterations" json:"maxIterations"`
	// NonBlocking makes commands fail instead of waiting for the lock.
	NonBlocking bool `yaml:"nonBlocking" json:"nonBlocking"`
}

// CacheConfig mirrors engine.CacheConfig in minutes.
type CacheConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	TTLMinutes     int  `yaml:"ttlMinutes" json:"ttlMinutes"`
	MaxEntries     int  `yaml:"maxEntries" json:"maxEntries"`
	CleanupMinutes int  `yaml:"cleanupMinutes" json:"cleanupMinutes"`
	MaxRangeYears  int  `yaml:"maxRangeYears" json:"maxRangeYears"`
}

// FeedConfig configures the iCalendar feed served by "remindctl serve".
type FeedConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// Username and Password enable Basic authentication when both are set.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// PastDays and AheadDays bound the published window around now.
	PastDays  int `yaml:"pastDays" json:"pastDays"`
	AheadDays int `yaml:"aheadDays" json:"aheadDays"`
}

// DefaultConfig returns a configuration with every field set.
func DefaultConfig() *Config {
	return &Config{
		Database:  "libremind.db",
		Calendar:  "default",
		Timezone:  "Local",
		LogLevel:  "info",
		RangeDays: 7,
		Alarms: AlarmConfig{
			SnoozeMinutes:  10,
			OldAlarmPolicy: alarms.PolicyActivateAll,
			OverdueDays:    366,
			MaxIterations:  alarms.DefaultMaxIterations,
		},
		Cache: CacheConfig{
			Enabled:        true,
			TTLMinutes:     int(engine.DefaultCacheConfig.TTL / time.Minute),
			MaxEntries:     engine.DefaultCacheConfig.MaxEntries,
			CleanupMinutes: int(engine.DefaultCacheConfig.CleanupInterval / time.Minute),
			MaxRangeYears:  10,
		},
		Feed: FeedConfig{
			Addr:      "127.0.0.1:8645",
			PastDays:  7,
			AheadDays: 90,
		},
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.Calendar == "" {
		c.Calendar = d.Calendar
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RangeDays <= 0 {
		c.RangeDays = d.RangeDays
	}
	if c.Alarms.SnoozeMinutes <= 0 {
		c.Alarms.SnoozeMinutes = d.Alarms.SnoozeMinutes
	}
	if c.Alarms.OldAlarmPolicy == "" {
		c.Alarms.OldAlarmPolicy = d.Alarms.OldAlarmPolicy
	}
	if c.Alarms.OverdueDays <= 0 {
		c.Alarms.OverdueDays = d.Alarms.OverdueDays
	}
	if c.Alarms.MaxIterations <= 0 {
		c.Alarms.MaxIterations = d.Alarms.MaxIterations
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = d.Cache.TTLMinutes
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.Cache.CleanupMinutes <= 0 {
		c.Cache.CleanupMinutes = d.Cache.CleanupMinutes
	}
	if c.Cache.MaxRangeYears <= 0 {
		c.Cache.MaxRangeYears = d.Cache.MaxRangeYears
	}
	if c.Feed.Addr == "" {
		c.Feed.Addr = d.Feed.Addr
	}
	if c.Feed.PastDays < 0 {
		c.Feed.PastDays = d.Feed.PastDays
	}
	if c.Feed.AheadDays <= 0 {
		c.Feed.AheadDays = d.Feed.AheadDays
	}
}

// Validate reports fields that cannot be used even after Normalize.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := alarms.ParsePolicy(c.Alarms.OldAlarmPolicy); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Level resolves LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// SnoozeDelay is the default snooze delay.
func (c *Config) SnoozeDelay() time.Duration {
	return time.Duration(c.Alarms.SnoozeMinutes) * time.Minute
}

// RangeWindow is the default range window.
func (c *Config) RangeWindow() time.Duration {
	return time.Duration(c.RangeDays) * 24 * time.Hour
}

// LockMode maps NonBlocking onto the scheduler lock mode.
func (c *Config) LockMode() alarms.LockMode {
	if c.Alarms.NonBlocking {
		return alarms.NonBlocking
	}
	return alarms.Blocking
}

// OverdueHorizon is OverdueDays in seconds.
func (c *Config) OverdueHorizon() int64 {
	return int64(c.Alarms.OverdueDays) * 24 * 3600
}

// Engine builds the engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		CacheEnabled: c.Cache.Enabled,
		CacheConfig: engine.CacheConfig{
			TTL:             time.Duration(c.Cache.TTLMinutes) * time.Minute,
			MaxEntries:      c.Cache.MaxEntries,
			CleanupInterval: time.Duration(c.Cache.CleanupMinutes) * time.Minute,
		},
		MaxRangeSpan: int64(c.Cache.MaxRangeYears) * 366 * 24 * 3600,
	}
}

// Load reads the configuration at path. A missing file is created with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) (err error) {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".remindctl-config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
