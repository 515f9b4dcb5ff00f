// Package sqlite persists item rules, search watermarks and active alarms
// in a SQLite database. Rule sets are stored as rulexml documents.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/cyp0633/libremind/rules/rulexml"
	"github.com/samber/mo"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store implements alarms.Store on SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ alarms.Store = (*Store)(nil)

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

// Open opens or creates the database file at path. ":memory:" gives a
// private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a second connection would see a different :memory: database
	db.SetMaxOpenConns(1)

	s, err := New(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection and creates the schema if needed
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(what string, args ...any) error {
	return fmt.Errorf("%w: %s", alarms.ErrNotFound, fmt.Sprintf(what, args...))
}

// affected turns an update touching no row into ErrNotFound
func affected(res sql.Result, err error, what string, args ...any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, args...)
	}
	return nil
}

func nullable(o mo.Option[int64]) sql.NullInt64 {
	v, ok := o.Get()
	return sql.NullInt64{Int64: v, Valid: ok}
}

func option(n sql.NullInt64) mo.Option[int64] {
	if n.Valid {
		return mo.Some(n.Int64)
	}
	return mo.None[int64]()
}

// Database operations

// OpenDatabase opens name, creating it with the given watermark if it does
// not exist yet. Reopening keeps the stored watermark.
func (s *Store) OpenDatabase(ctx context.Context, name string, lastSearch int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO databases (name, is_open, last_search) VALUES (?, 1, ?)
         ON CONFLICT(name) DO UPDATE SET is_open = 1`,
		name, lastSearch,
	)
	if err != nil {
		return fmt.Errorf("open database %q: %w", name, err)
	}
	s.logger.Debug("database opened", "db", name)
	return nil
}

// CloseDatabase removes name from the search without dropping its data
func (s *Store) CloseDatabase(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE databases SET is_open = 0 WHERE name = ?", name)
	return affected(res, err, "database %q", name)
}

// OpenDatabases implements alarms.Store
func (s *Store) OpenDatabases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM databases WHERE is_open = 1 ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LastSearch implements alarms.Store
func (s *Store) LastSearch(ctx context.Context, name string) (int64, error) {
	var t int64
	err := s.db.QueryRowContext(ctx, "SELECT last_search FROM databases WHERE name = ?", name).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("database %q", name)
	}
	return t, err
}

// SetLastSearch implements alarms.Store
func (s *Store) SetLastSearch(ctx context.Context, name string, t int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE databases SET last_search = ? WHERE name = ?", t, name)
	return affected(res, err, "database %q", name)
}

// MarkDismissed implements alarms.Store
func (s *Store) MarkDismissed(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE databases SET dismissed = 1 WHERE name = ?", name)
	return affected(res, err, "database %q", name)
}

// Dismissed reports whether an alarm of name was dismissed since the flag
// was last cleared.
func (s *Store) Dismissed(ctx context.Context, name string) (bool, error) {
	var dismissed bool
	err := s.db.QueryRowContext(ctx, "SELECT dismissed FROM databases WHERE name = ?", name).Scan(&dismissed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("database %q", name)
	}
	return dismissed, err
}

// ClearDismissed resets the flag reported by Dismissed
func (s *Store) ClearDismissed(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE databases SET dismissed = 0 WHERE name = ?", name)
	return affected(res, err, "database %q", name)
}

// Item operations

// Item is a stored item with its decoded rules
type Item struct {
	Key   occurrence.ItemKey
	Title string
	Rules rules.RuleSet
}

// AddItem stores a new item under the next free ID of db
func (s *Store) AddItem(ctx context.Context, db, title string, set rules.RuleSet) (occurrence.ItemKey, error) {
	if _, err := s.LastSearch(ctx, db); err != nil {
		return occurrence.ItemKey{}, err
	}
	doc, err := rulexml.Encode(set)
	if err != nil {
		return occurrence.ItemKey{}, fmt.Errorf("encode rules: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO items (db, id, title, rules)
         VALUES (?, (SELECT COALESCE(MAX(id), 0) + 1 FROM items WHERE db = ?), ?, ?)
         RETURNING id`,
		db, db, title, string(doc),
	).Scan(&id)
	if err != nil {
		return occurrence.ItemKey{}, fmt.Errorf("insert item: %w", err)
	}

	key := occurrence.ItemKey{DB: db, ID: id}
	s.logger.Info("item added", "item", key, "rules", len(set))
	return key, nil
}

// PutRules creates or replaces the rule set of an item
func (s *Store) PutRules(ctx context.Context, item occurrence.ItemKey, set rules.RuleSet) error {
	doc, err := rulexml.Encode(set)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (db, id, rules) VALUES (?, ?, ?)
         ON CONFLICT(db, id) DO UPDATE SET rules = excluded.rules`,
		item.DB, item.ID, string(doc),
	)
	if err != nil {
		return fmt.Errorf("store rules of %s: %w", item, err)
	}
	return nil
}

// DeleteItem removes an item and its rules. Active alarms are left to
// alarms.Scheduler.ItemDeleted.
func (s *Store) DeleteItem(ctx context.Context, item occurrence.ItemKey) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE db = ? AND id = ?", item.DB, item.ID)
	return affected(res, err, "item %s", item)
}

// Items lists the items of db ordered by ID
func (s *Store) Items(ctx context.Context, db string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, rules FROM items WHERE db = ? ORDER BY id", db)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type row struct {
		id          int64
		title, text string
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.title, &r.text); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		key := occurrence.ItemKey{DB: db, ID: r.id}
		set, err := rulexml.Decode([]byte(r.text))
		if err != nil {
			return nil, fmt.Errorf("decode rules of %s: %w", key, err)
		}
		items = append(items, Item{Key: key, Title: r.title, Rules: set})
	}
	return items, nil
}

// Rules implements alarms.Store
func (s *Store) Rules(ctx context.Context, item occurrence.ItemKey) (rules.RuleSet, error) {
	var text string
	err := s.db.QueryRowContext(ctx, "SELECT rules FROM items WHERE db = ? AND id = ?", item.DB, item.ID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules of %s: %w", item, err)
	}
	set, err := rulexml.Decode([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("decode rules of %s: %w", item, err)
	}
	return set, nil
}

// ItemIDs implements alarms.Store
func (s *Store) ItemIDs(ctx context.Context, db string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM items WHERE db = ? ORDER BY id", db)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Alarm operations

// ListActive implements alarms.Store. Alarms are ordered by start.
func (s *Store) ListActive(ctx context.Context, db string) ([]alarms.ActiveAlarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item, start_at, end_at, origin_alarm, snooze
         FROM active_alarms WHERE db = ? ORDER BY start_at, id`,
		db,
	)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []alarms.ActiveAlarm
	for rows.Next() {
		var (
			a           alarms.ActiveAlarm
			end, snooze sql.NullInt64
		)
		a.Item.DB = db
		if err := rows.Scan(&a.ID, &a.Item.ID, &a.Start, &end, &a.OriginAlarm, &snooze); err != nil {
			return nil, err
		}
		a.End = option(end)
		a.Snooze = option(snooze)
		list = append(list, a)
	}
	return list, rows.Err()
}

// InsertActive implements alarms.Store
func (s *Store) InsertActive(ctx context.Context, a alarms.ActiveAlarm) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_alarms (id, db, item, start_at, end_at, origin_alarm, snooze)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Item.DB, a.Item.ID, a.Start, nullable(a.End), a.OriginAlarm, nullable(a.Snooze),
	)
	if err != nil {
		return fmt.Errorf("insert alarm %s: %w", a.ID, err)
	}
	return nil
}

// UpdateSnooze implements alarms.Store
func (s *Store) UpdateSnooze(ctx context.Context, db, id string, snooze mo.Option[int64]) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE active_alarms SET snooze = ? WHERE db = ? AND id = ?",
		nullable(snooze), db, id,
	)
	return affected(res, err, "alarm %s", id)
}

// Delete implements alarms.Store
func (s *Store) Delete(ctx context.Context, db, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM active_alarms WHERE db = ? AND id = ?", db, id)
	return affected(res, err, "alarm %s", id)
}
