// memory based implementation for testing purposes and short-lived processes
package memory

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
)

// Store implements alarms.Store using in-memory maps
type Store struct {
	mu     sync.RWMutex
	dbs    map[string]*database
	logger *slog.Logger
}

type database struct {
	open       bool
	lastSearch int64
	dismissed  bool
	items      map[int64]rules.RuleSet
	alarms     map[string]alarms.ActiveAlarm // key: alarm ID
}

var _ alarms.Store = (*Store)(nil)

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		dbs:    make(map[string]*database),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func notFound(what string, args ...any) error {
	return fmt.Errorf("%w: %s", alarms.ErrNotFound, fmt.Sprintf(what, args...))
}

// get returns a database, open or not. The caller holds mu.
func (s *Store) get(name string) (*database, error) {
	db, ok := s.dbs[name]
	if !ok {
		return nil, notFound("database %q", name)
	}
	return db, nil
}

// Database operations

// OpenDatabase opens name, creating it with the given watermark if it does
// not exist yet. Reopening keeps the stored watermark.
func (s *Store) OpenDatabase(_ context.Context, name string, lastSearch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[name]
	if !ok {
		db = &database{
			lastSearch: lastSearch,
			items:      make(map[int64]rules.RuleSet),
			alarms:     make(map[string]alarms.ActiveAlarm),
		}
		s.dbs[name] = db
		s.logger.Info("database created", "db", name, "last_search", lastSearch)
	}
	db.open = true
	return nil
}

// CloseDatabase removes name from the search without dropping its data
func (s *Store) CloseDatabase(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	db.open = false
	s.logger.Info("database closed", "db", name)
	return nil
}

// OpenDatabases implements alarms.Store
func (s *Store) OpenDatabases(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name, db := range s.dbs {
		if db.open {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// LastSearch implements alarms.Store
func (s *Store) LastSearch(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return db.lastSearch, nil
}

// SetLastSearch implements alarms.Store
func (s *Store) SetLastSearch(_ context.Context, name string, t int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	db.lastSearch = t
	return nil
}

// MarkDismissed implements alarms.Store
func (s *Store) MarkDismissed(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	db.dismissed = true
	return nil
}

// Dismissed reports whether an alarm of name was dismissed since the flag
// was last cleared.
func (s *Store) Dismissed(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.get(name)
	if err != nil {
		return false, err
	}
	return db.dismissed, nil
}

// ClearDismissed resets the flag reported by Dismissed, e.g. after a save
func (s *Store) ClearDismissed(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	db.dismissed = false
	return nil
}

// Item operations

// PutRules creates or replaces the rule set of an item
func (s *Store) PutRules(_ context.Context, item occurrence.ItemKey, set rules.RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(item.DB)
	if err != nil {
		return err
	}
	db.items[item.ID] = slices.Clone(set)
	s.logger.Debug("rules stored", "item", item, "count", len(set))
	return nil
}

// DeleteItem removes an item and its rules. Active alarms are left to
// alarms.Scheduler.ItemDeleted.
func (s *Store) DeleteItem(_ context.Context, item occurrence.ItemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(item.DB)
	if err != nil {
		return err
	}
	if _, ok := db.items[item.ID]; !ok {
		return notFound("item %s", item)
	}
	delete(db.items, item.ID)
	return nil
}

// Rules implements alarms.Store
func (s *Store) Rules(_ context.Context, item occurrence.ItemKey) (rules.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.get(item.DB)
	if err != nil {
		return nil, err
	}
	return slices.Clone(db.items[item.ID]), nil
}

// ItemIDs implements alarms.Store
func (s *Store) ItemIDs(_ context.Context, name string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(db.items)), nil
}

// Alarm operations

// ListActive implements alarms.Store. Alarms are ordered by start.
func (s *Store) ListActive(_ context.Context, name string) ([]alarms.ActiveAlarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.get(name)
	if err != nil {
		return nil, err
	}
	list := slices.Collect(maps.Values(db.alarms))
	slices.SortFunc(list, func(a, b alarms.ActiveAlarm) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.ID, b.ID))
	})
	return list, nil
}

// InsertActive implements alarms.Store
func (s *Store) InsertActive(_ context.Context, alarm alarms.ActiveAlarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(alarm.Item.DB)
	if err != nil {
		return err
	}
	if _, exists := db.alarms[alarm.ID]; exists {
		return fmt.Errorf("alarm %s already exists", alarm.ID)
	}
	db.alarms[alarm.ID] = alarm
	return nil
}

// UpdateSnooze implements alarms.Store
func (s *Store) UpdateSnooze(_ context.Context, name, id string, snooze mo.Option[int64]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	alarm, ok := db.alarms[id]
	if !ok {
		return notFound("alarm %s", id)
	}
	alarm.Snooze = snooze
	db.alarms[id] = alarm
	return nil
}

// Delete implements alarms.Store
func (s *Store) Delete(_ context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.get(name)
	if err != nil {
		return err
	}
	if _, ok := db.alarms[id]; !ok {
		return notFound("alarm %s", id)
	}
	delete(db.alarms, id)
	return nil
}
