package commands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/alarms/storage/sqlite"
	"github.com/cyp0633/libremind/engine"
	"github.com/cyp0633/libremind/internal/config"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
)

// app holds what a command needs once the configuration is loaded
type app struct {
	configPath string
	calendar   string

	cfg       *config.Config
	loc       *time.Location
	logger    *slog.Logger
	store     *sqlite.Store
	engine    *engine.Engine
	scheduler *alarms.Scheduler

	// set by tests
	timer alarms.Timer
	now   func() time.Time
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "remindctl.yaml"
	}
	return filepath.Join(dir, "libremind", "config.yaml")
}

// open loads the configuration and wires store, engine and scheduler
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.calendar == "" {
		a.calendar = cfg.Calendar
	}
	if a.now == nil {
		a.now = time.Now
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if a.loc, err = cfg.Location(); err != nil {
		return err
	}

	path := cfg.Database
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(a.configPath), path)
	}
	store, err := sqlite.Open(path, sqlite.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.store = store
	if err := store.OpenDatabase(ctx, a.calendar, a.now().Unix()); err != nil {
		return errors.Join(err, a.close())
	}

	a.engine = engine.New(
		engine.WithOffset(rules.LocationOffset(a.loc)),
		engine.WithConfig(cfg.Engine()),
		engine.WithLogger(a.logger),
	)

	policy, err := alarms.ParsePolicy(cfg.Alarms.OldAlarmPolicy)
	if err != nil {
		return errors.Join(err, a.close())
	}
	opts := []alarms.Option{
		alarms.WithEngine(a.engine),
		alarms.WithPolicy(policy),
		alarms.WithLogger(a.logger),
		alarms.WithClock(a.now),
		alarms.WithMaxIterations(cfg.Alarms.MaxIterations),
		alarms.WithLockMode(cfg.LockMode()),
		alarms.WithOverdueHorizon(cfg.OverdueHorizon()),
	}
	if a.timer != nil {
		opts = append(opts, alarms.WithTimer(a.timer))
	}
	a.scheduler = alarms.NewScheduler(store, opts...)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Close())
		a.scheduler = nil
	}
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

// run opens the app around fn
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.open(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close())
	}()
	return fn(ctx)
}

// titles resolves item titles for the databases present in entries
func (a *app) titles(ctx context.Context, keys ...occurrence.ItemKey) (map[occurrence.ItemKey]string, error) {
	out := make(map[occurrence.ItemKey]string)
	done := make(map[string]bool)
	for _, k := range keys {
		if done[k.DB] {
			continue
		}
		done[k.DB] = true
		var items []sqlite.Item
		err := a.locked(ctx, func() (err error) {
			items, err = a.store.Items(ctx, k.DB)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out[it.Key] = it.Title
		}
	}
	return out, nil
}

// locked runs fn under the scheduler's lock, which guards every store access
func (a *app) locked(ctx context.Context, fn func() error) error {
	lock := a.scheduler.Lock()
	if err := lock.AcquireMode(ctx, a.cfg.LockMode()); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// ringing lists the active alarms of every open calendar that are not
// snoozed, oldest first.
func (a *app) ringing(ctx context.Context) ([]alarms.ActiveAlarm, error) {
	var out []alarms.ActiveAlarm
	err := a.locked(ctx, func() error {
		names, err := a.store.OpenDatabases(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			list, err := a.store.ListActive(ctx, name)
			if err != nil {
				return err
			}
			for _, al := range list {
				if al.Snooze.IsAbsent() {
					out = append(out, al)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(x, y alarms.ActiveAlarm) int {
		if c := cmp.Compare(x.OriginAlarm, y.OriginAlarm); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	return out, nil
}

func (a *app) item(id int64) occurrence.ItemKey {
	return occurrence.ItemKey{DB: a.calendar, ID: id}
}

func (a *app) notify(ctx context.Context, kind alarms.TriggerKind, id int64) error {
	if err := a.scheduler.Notify(ctx, alarms.Trigger{Kind: kind, DB: a.calendar, Item: id}); err != nil {
		return fmt.Errorf("reschedule alarms: %w", err)
	}
	return nil
}
