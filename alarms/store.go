package alarms

import (
	"context"
	"errors"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
)

var (
	// ErrNotFound is returned by stores for unknown databases, items or alarms
	ErrNotFound = errors.New("not found")
	// ErrLockUnavailable is returned when the global lock cannot be acquired
	// under the caller's lock mode
	ErrLockUnavailable = errors.New("lock unavailable")
	// ErrSearchStarved is returned when a search does not settle within the
	// configured number of iterations
	ErrSearchStarved = errors.New("alarm search did not settle")
	// ErrClosed is returned by operations on a closed scheduler
	ErrClosed = errors.New("scheduler closed")
)

// ActiveAlarm is an alarm that has been reached and not yet dismissed
type ActiveAlarm struct {
	ID          string
	Item        occurrence.ItemKey
	Start       int64
	End         mo.Option[int64]
	OriginAlarm int64            // alarm instant of the occurrence
	Snooze      mo.Option[int64] // replaces OriginAlarm for scheduling when set
}

// Trigger returns the instant the alarm is scheduled for
func (a ActiveAlarm) Trigger() int64 {
	return a.Snooze.OrElse(a.OriginAlarm)
}

// Occurrence returns the occurrence the alarm was activated for
func (a ActiveAlarm) Occurrence() occurrence.Occurrence {
	return occurrence.Occurrence{Start: a.Start, End: a.End, Alarm: mo.Some(a.OriginAlarm)}
}

// key identifies the occurrence behind an alarm
func (a ActiveAlarm) key() alarmKey {
	return alarmKey{item: a.Item, start: a.Start, end: a.End}
}

type alarmKey struct {
	item  occurrence.ItemKey
	start int64
	end   mo.Option[int64]
}

func entryKey(e occurrence.Entry) alarmKey {
	return alarmKey{item: e.Item, start: e.Start, end: e.End}
}

// AlarmRef addresses an active alarm in one database
type AlarmRef struct {
	DB string
	ID string
}

// ItemRuleStore gives read access to item rules and owns the per-database
// search watermark.
type ItemRuleStore interface {
	// Rules returns the rule set of an item; an empty set for items without rules.
	Rules(ctx context.Context, item occurrence.ItemKey) (rules.RuleSet, error)
	// LastSearch returns the watermark of db.
	LastSearch(ctx context.Context, db string) (int64, error)
	// SetLastSearch moves the watermark of db.
	SetLastSearch(ctx context.Context, db string, t int64) error
}

// AlarmStore persists active alarms.
type AlarmStore interface {
	// OpenDatabases lists the databases taking part in the search.
	OpenDatabases(ctx context.Context) ([]string, error)
	// ItemIDs lists the items of db.
	ItemIDs(ctx context.Context, db string) ([]int64, error)
	// ListActive lists the active alarms of db.
	ListActive(ctx context.Context, db string) ([]ActiveAlarm, error)
	// InsertActive stores a new active alarm; its ID is already set.
	InsertActive(ctx context.Context, alarm ActiveAlarm) error
	// UpdateSnooze sets or clears the snooze instant of an alarm.
	UpdateSnooze(ctx context.Context, db, id string, snooze mo.Option[int64]) error
	// Delete removes an alarm.
	Delete(ctx context.Context, db, id string) error
	// MarkDismissed records that db changed through a dismissal.
	MarkDismissed(ctx context.Context, db string) error
}

// Store is the full collaborator contract of the Scheduler
type Store interface {
	ItemRuleStore
	AlarmStore
}
