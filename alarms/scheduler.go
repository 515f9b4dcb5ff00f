// Package alarms keeps a single timer armed for the nearest pending alarm
// across all open databases and maintains the active alarms: activation,
// snooze, dismissal and reconciliation with item deletion and undo.
//
// Every operation runs under a global Lock shared with the collaborators
// that edit rules, watermarks and alarms. Subscribers receive events
// synchronously while that lock is held and must not call back into the
// Scheduler.
package alarms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/libremind/engine"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// State of the scheduler's timer
type State int

const (
	Idle State = iota
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of the scheduler state. FireAt is set while Armed.
type Status struct {
	State  State
	FireAt mo.Option[int64]
}

const (
	// DefaultMaxIterations bounds the passes of one search
	DefaultMaxIterations = 64
	// DefaultOverdueHorizon limits how far back, in seconds, a search looks
	// for overdue alarms when a watermark is very old.
	DefaultOverdueHorizon = 366 * 24 * 3600
	// MaxArmDelay caps a single timer wait. A later alarm is reached by
	// searching again when the capped timer wakes up.
	MaxArmDelay = 24 * time.Hour
)

// Scheduler owns the alarm timer
type Scheduler struct {
	store          Store
	engine         *engine.Engine
	ownsEngine     bool
	policy         OldAlarmPolicy
	timer          Timer
	clock          func() time.Time
	logger         *slog.Logger
	lock           *Lock
	mode           LockMode
	maxIterations  int
	overdueHorizon int64
	events         bus

	// guarded by lock
	fireAt     int64
	pending    []occurrence.Entry
	stopper    Stopper
	generation uint64
	closed     bool

	statusMu sync.Mutex
	state    State
}

// Option represents a configuration option for the Scheduler
type Option func(*Scheduler)

// WithEngine sets the rule engine; by default the scheduler creates one
// with the default configuration.
func WithEngine(e *engine.Engine) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithPolicy sets the old alarm policy, ActivateAll by default
func WithPolicy(p OldAlarmPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithTimer sets the timer implementation, RealTimer by default
func WithTimer(t Timer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.timer = t
		}
	}
}

// WithClock sets the source of the current time
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger for the scheduler
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxIterations bounds the passes of one search
func WithMaxIterations(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithLock shares an existing global lock
func WithLock(l *Lock) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.lock = l
		}
	}
}

// WithLockMode sets how caller-initiated operations wait for the lock.
// Timer firings always block.
func WithLockMode(mode LockMode) Option {
	return func(s *Scheduler) {
		s.mode = mode
	}
}

// WithOverdueHorizon replaces DefaultOverdueHorizon
func WithOverdueHorizon(seconds int64) Option {
	return func(s *Scheduler) {
		if seconds > 0 {
			s.overdueHorizon = seconds
		}
	}
}

// NewScheduler creates an idle scheduler. Call Search to arm it.
func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		policy:         ActivateAll,
		timer:          RealTimer{},
		clock:          time.Now,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		mode:           Blocking,
		maxIterations:  DefaultMaxIterations,
		overdueHorizon: DefaultOverdueHorizon,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New(engine.WithLogger(s.logger))
		s.ownsEngine = true
	}
	if s.lock == nil {
		s.lock = NewLock()
	}
	return s
}

// Lock returns the global lock so collaborators can share it
func (s *Scheduler) Lock() *Lock {
	return s.lock
}

// Subscribe registers fn for every event and returns a function removing it
func (s *Scheduler) Subscribe(fn func(Event)) func() {
	return s.events.subscribe(fn)
}

// Status returns the current state
func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := Status{State: s.state, FireAt: mo.None[int64]()}
	if s.state == Armed {
		st.FireAt = mo.Some(s.fireAt)
	}
	return st
}

func (s *Scheduler) setState(state State) {
	s.statusMu.Lock()
	s.state = state
	s.statusMu.Unlock()
}

func (s *Scheduler) now() int64 {
	return s.clock().Unix()
}

// enter acquires the lock for a caller-initiated operation
func (s *Scheduler) enter(ctx context.Context) error {
	if err := s.lock.AcquireMode(ctx, s.mode); err != nil {
		return err
	}
	if s.closed {
		s.lock.Release()
		return ErrClosed
	}
	return nil
}

// Search recomputes the nearest alarm, activates overdue ones and rearms
// the timer.
func (s *Scheduler) Search(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.lock.Release()
	return s.search(ctx)
}

// TriggerKind names an external change that requires a new search
type TriggerKind int

const (
	RuleEdited TriggerKind = iota
	ItemInserted
	DatabaseOpened
	DatabaseClosed
)

func (k TriggerKind) String() string {
	switch k {
	case RuleEdited:
		return "rule_edited"
	case ItemInserted:
		return "item_inserted"
	case DatabaseOpened:
		return "database_opened"
	case DatabaseClosed:
		return "database_closed"
	default:
		return "unknown"
	}
}

// Trigger describes the change; Item is zero for database triggers
type Trigger struct {
	Kind TriggerKind
	DB   string
	Item int64
}

// Notify reports an external change and searches again
func (s *Scheduler) Notify(ctx context.Context, t Trigger) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.lock.Release()
	s.logger.Debug("search triggered", "trigger", t.Kind.String(), "db", t.DB, "item", t.Item)
	return s.search(ctx)
}

// SnoozeInstant rounds now+delay up to the next whole minute
func SnoozeInstant(now int64, delay time.Duration) int64 {
	return ((now+int64(delay/time.Second))/60 + 1) * 60
}

// Snooze moves the given alarms to SnoozeInstant and searches once. It
// returns the new trigger instant.
func (s *Scheduler) Snooze(ctx context.Context, refs []AlarmRef, delay time.Duration) (int64, error) {
	if err := s.enter(ctx); err != nil {
		return 0, err
	}
	defer s.lock.Release()

	at := SnoozeInstant(s.now(), delay)
	var errs []error
	for _, ref := range refs {
		if err := s.store.UpdateSnooze(ctx, ref.DB, ref.ID, mo.Some(at)); err != nil {
			errs = append(errs, fmt.Errorf("snooze alarm %s in %s: %w", ref.ID, ref.DB, err))
			continue
		}
		s.logger.Info("alarm snoozed", "db", ref.DB, "id", ref.ID, "until", at)
	}
	if err := s.search(ctx); err != nil {
		errs = append(errs, err)
	}
	return at, errors.Join(errs...)
}

// Dismiss deletes the given alarms and searches once
func (s *Scheduler) Dismiss(ctx context.Context, refs []AlarmRef) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.lock.Release()

	var errs []error
	for _, ref := range refs {
		if err := s.dismiss(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.search(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) dismiss(ctx context.Context, ref AlarmRef) error {
	active, err := s.store.ListActive(ctx, ref.DB)
	if err != nil {
		return fmt.Errorf("list alarms of %s: %w", ref.DB, err)
	}
	for _, a := range active {
		if a.ID != ref.ID {
			continue
		}
		if err := s.store.Delete(ctx, ref.DB, ref.ID); err != nil {
			return fmt.Errorf("dismiss alarm %s: %w", ref.ID, err)
		}
		if err := s.store.MarkDismissed(ctx, ref.DB); err != nil {
			return fmt.Errorf("mark %s dismissed: %w", ref.DB, err)
		}
		s.logger.Info("alarm dismissed", "db", ref.DB, "id", ref.ID, "item", a.Item)
		s.events.publish(Event{Kind: AlarmDismissed, Alarm: a, Next: mo.None[int64]()})
		return nil
	}
	return fmt.Errorf("dismiss alarm %s in %s: %w", ref.ID, ref.DB, ErrNotFound)
}

// ItemDeleted removes the active alarms of a deleted item and searches
// again. The removed alarms are returned so an undo can restore them.
func (s *Scheduler) ItemDeleted(ctx context.Context, item occurrence.ItemKey) ([]ActiveAlarm, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	active, err := s.store.ListActive(ctx, item.DB)
	if err != nil {
		return nil, fmt.Errorf("list alarms of %s: %w", item.DB, err)
	}
	var removed []ActiveAlarm
	for _, a := range active {
		if a.Item != item {
			continue
		}
		if err := s.store.Delete(ctx, item.DB, a.ID); err != nil {
			return removed, fmt.Errorf("delete alarm %s: %w", a.ID, err)
		}
		removed = append(removed, a)
	}
	s.logger.Debug("item deleted", "item", item, "alarms", len(removed))
	return removed, s.search(ctx)
}

// ItemRestored puts back alarms returned by ItemDeleted, after the owning
// item and its rules were restored, and searches again.
func (s *Scheduler) ItemRestored(ctx context.Context, item occurrence.ItemKey, restored []ActiveAlarm) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.lock.Release()

	for _, a := range restored {
		if a.Item != item {
			return fmt.Errorf("alarm %s belongs to %s, not %s", a.ID, a.Item, item)
		}
		if err := s.store.InsertActive(ctx, a); err != nil {
			return fmt.Errorf("restore alarm %s: %w", a.ID, err)
		}
	}
	s.logger.Debug("item restored", "item", item, "alarms", len(restored))
	return s.search(ctx)
}

// Occurrences lists the occurrences of every open item intersecting
// [mint, maxt], merged with all active alarms. Active alarms are listed at
// their trigger instant and replace the occurrence they were activated for.
func (s *Scheduler) Occurrences(ctx context.Context, mint, maxt int64) ([]occurrence.Entry, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	dbs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	acc := occurrence.NewRangeAccumulator(mint, maxt)
	seen := make(map[alarmKey]bool)
	var items []engine.ItemRules
	for _, d := range dbs {
		items = append(items, d.items...)
		for _, a := range d.active {
			seen[a.key()] = true
			acc.AddUnconditional(occurrence.Entry{
				Item:       a.Item,
				Rule:       -1,
				Occurrence: occurrence.Occurrence{Start: a.Start, End: a.End, Alarm: mo.Some(a.Trigger())},
			})
		}
	}

	entries, err := s.engine.Range(items, mint, maxt)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !seen[entryKey(e)] {
			acc.AddUnconditional(e)
		}
	}
	return acc.Sorted(), nil
}

// Close cancels the timer; later operations fail with ErrClosed.
func (s *Scheduler) Close() error {
	if err := s.lock.Acquire(context.Background()); err != nil {
		return err
	}
	defer s.lock.Release()
	if s.closed {
		return nil
	}
	s.cancel()
	s.closed = true
	s.setState(Idle)
	if s.ownsEngine {
		s.engine.Close()
	}
	return nil
}

// dbState is what one search pass reads from a database
type dbState struct {
	name       string
	lastSearch int64
	items      []engine.ItemRules
	active     []ActiveAlarm
}

func (s *Scheduler) load(ctx context.Context) ([]dbState, error) {
	names, err := s.store.OpenDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}

	dbs := make([]dbState, 0, len(names))
	for _, name := range names {
		d := dbState{name: name}
		if d.lastSearch, err = s.store.LastSearch(ctx, name); err != nil {
			return nil, fmt.Errorf("read watermark of %s: %w", name, err)
		}
		ids, err := s.store.ItemIDs(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", name, err)
		}
		for _, id := range ids {
			key := occurrence.ItemKey{DB: name, ID: id}
			set, err := s.store.Rules(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read rules of %s: %w", key, err)
			}
			if len(set) > 0 {
				d.items = append(d.items, engine.ItemRules{Key: key, Rules: set})
			}
		}
		if d.active, err = s.store.ListActive(ctx, name); err != nil {
			return nil, fmt.Errorf("list alarms of %s: %w", name, err)
		}
		dbs = append(dbs, d)
	}
	return dbs, nil
}

func activeIndex(dbs []dbState) map[alarmKey]ActiveAlarm {
	index := make(map[alarmKey]ActiveAlarm)
	for _, d := range dbs {
		for _, a := range d.active {
			index[a.key()] = a
		}
	}
	return index
}

// overdue returns the alarms reached since each watermark (fresh) and the
// snoozed alarms whose snooze instant has passed (due).
func (s *Scheduler) overdue(dbs []dbState, now int64) (fresh, due []ActiveAlarm, err error) {
	for _, d := range dbs {
		for _, a := range d.active {
			if snooze, ok := a.Snooze.Get(); ok && snooze <= now {
				due = append(due, a)
			}
		}
		if d.lastSearch >= now || len(d.items) == 0 {
			continue
		}

		mint := max(d.lastSearch+1, now-s.overdueHorizon)
		entries, err := s.engine.Range(d.items, mint, now)
		if err != nil {
			return nil, nil, fmt.Errorf("overdue scan of %s: %w", d.name, err)
		}
		for _, e := range entries {
			alarm, ok := e.Alarm.Get()
			if !ok || alarm < mint || alarm > now {
				continue
			}
			fresh = append(fresh, ActiveAlarm{
				Item:        e.Item,
				Start:       e.Start,
				End:         e.End,
				OriginAlarm: alarm,
				Snooze:      mo.None[int64](),
			})
		}
	}
	return fresh, due, nil
}

// nearest searches every open item for the next trigger instant. Snoozed
// alarms take part at their snooze instant; occurrences already active at
// their original alarm are dropped from the tie set.
func (s *Scheduler) nearest(dbs []dbState) *occurrence.NearestAccumulator {
	acc := occurrence.NewNearestAccumulator()
	for _, d := range dbs {
		for _, item := range d.items {
			s.engine.Next(acc, item, d.lastSearch)
		}
	}
	for _, d := range dbs {
		for _, a := range d.active {
			if snooze, ok := a.Snooze.Get(); ok {
				acc.Consider(d.lastSearch, occurrence.Entry{
					Item:       a.Item,
					Rule:       -1,
					Occurrence: occurrence.Occurrence{Start: a.Start, End: a.End, Alarm: mo.Some(snooze)},
				})
			}
		}
		for _, a := range d.active {
			acc.TryRemoveDuplicate(a.Item, a.Start, a.End, mo.Some(a.OriginAlarm))
		}
	}
	return acc
}

// activate stores a new active alarm for a, or, when its occurrence is
// already active, clears a snooze.
func (s *Scheduler) activate(ctx context.Context, a ActiveAlarm, active map[alarmKey]ActiveAlarm) error {
	k := a.key()
	if existing, ok := active[k]; ok {
		if existing.Snooze.IsAbsent() {
			return nil
		}
		if err := s.store.UpdateSnooze(ctx, existing.Item.DB, existing.ID, mo.None[int64]()); err != nil {
			return fmt.Errorf("clear snooze of alarm %s: %w", existing.ID, err)
		}
		existing.Snooze = mo.None[int64]()
		active[k] = existing
		s.logger.Info("snoozed alarm due", "id", existing.ID, "item", existing.Item)
		s.events.publish(Event{Kind: AlarmSnoozedOff, Alarm: existing, Next: mo.None[int64]()})
		return nil
	}

	a.ID = uuid.NewString()
	a.Snooze = mo.None[int64]()
	if err := s.store.InsertActive(ctx, a); err != nil {
		return fmt.Errorf("activate alarm for %s: %w", a.Item, err)
	}
	active[k] = a
	s.logger.Info("alarm activated", "id", a.ID, "item", a.Item, "start", a.Start, "alarm", a.OriginAlarm)
	s.events.publish(Event{Kind: AlarmActivated, Alarm: a, Next: mo.None[int64]()})
	return nil
}

// advance moves every watermark below t up to t
func (s *Scheduler) advance(ctx context.Context, dbs []dbState, t int64) error {
	for _, d := range dbs {
		if d.lastSearch >= t {
			continue
		}
		if err := s.store.SetLastSearch(ctx, d.name, t); err != nil {
			return fmt.Errorf("advance watermark of %s: %w", d.name, err)
		}
	}
	return nil
}

// search runs until the scheduler is armed or idle. The lock is held.
func (s *Scheduler) search(ctx context.Context) error {
	s.cancel()
	for i := 0; i < s.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			s.setState(Idle)
			return err
		}
		now := s.now()
		dbs, err := s.load(ctx)
		if err != nil {
			s.setState(Idle)
			return err
		}

		fresh, due, err := s.overdue(dbs, now)
		if err != nil {
			s.setState(Idle)
			return err
		}
		if len(fresh) > 0 || len(due) > 0 {
			s.setState(Firing)
			chosen := s.policy.Choose(fresh)
			s.logger.Info("activating overdue alarms", "fresh", len(fresh), "chosen", len(chosen), "snoozed", len(due))
			active := activeIndex(dbs)
			for _, a := range append(chosen, due...) {
				if err := s.activate(ctx, a, active); err != nil {
					s.setState(Idle)
					return err
				}
			}
			if err := s.advance(ctx, dbs, now); err != nil {
				s.setState(Idle)
				return err
			}
			continue
		}

		acc := s.nearest(dbs)
		best, ok := acc.Best().Get()
		switch {
		case !ok:
			if err := s.advance(ctx, dbs, now); err != nil {
				s.setState(Idle)
				return err
			}
			s.setState(Idle)
			s.logger.Debug("no pending alarms")
			s.events.publish(Event{Kind: SearchCompleted, Next: mo.None[int64]()})
			return nil
		case best <= now:
			// reached through a start or end boundary only
			if err := s.advance(ctx, dbs, now); err != nil {
				s.setState(Idle)
				return err
			}
		default:
			s.arm(best, now, acc.Flat())
			s.logger.Debug("timer armed", "at", best, "in", best-now, "ties", len(s.pending))
			s.events.publish(Event{Kind: SearchCompleted, Next: mo.Some(best)})
			return nil
		}
	}

	s.setState(Idle)
	s.logger.Error("alarm search did not settle", "iterations", s.maxIterations)
	return fmt.Errorf("%w after %d iterations", ErrSearchStarved, s.maxIterations)
}

func (s *Scheduler) arm(best, now int64, ties []occurrence.Entry) {
	s.generation++
	gen := s.generation
	s.fireAt = best
	s.pending = ties
	s.stopper = s.timer.AfterFunc(armDelay(best, now), func() { s.fire(gen) })
	s.setState(Armed)
}

// armDelay is best-now, capped at MaxArmDelay so the conversion to a
// Duration cannot overflow for far-future alarms.
func armDelay(best, now int64) time.Duration {
	wait := best - now
	if wait > int64(MaxArmDelay/time.Second) {
		return MaxArmDelay
	}
	return time.Duration(wait) * time.Second
}

// cancel stops the armed timer, if any. A callback that already started
// sees a newer generation and does nothing.
func (s *Scheduler) cancel() {
	if s.stopper != nil {
		s.stopper.Stop()
		s.stopper = nil
	}
	s.generation++
	s.pending = nil
	s.setState(Idle)
}

func (s *Scheduler) fire(gen uint64) {
	ctx := context.Background()
	if err := s.lock.Acquire(ctx); err != nil {
		s.logger.Error("timer firing could not take the lock", "error", err)
		return
	}
	defer s.lock.Release()

	if s.closed || gen != s.generation {
		s.logger.Debug("ignoring stale timer firing", "generation", gen)
		return
	}
	if err := s.fireLocked(ctx); err != nil {
		s.logger.Error("alarm firing failed", "error", err)
	}
}

// fireLocked activates the alarms tied at the armed instant, advances the
// watermarks to it and searches again. A wake-up before the armed instant
// only searches again.
func (s *Scheduler) fireLocked(ctx context.Context) error {
	best, ties := s.fireAt, s.pending
	s.stopper = nil
	if now := s.now(); best > now {
		s.logger.Debug("timer woke early", "at", best, "now", now)
		return s.search(ctx)
	}
	s.setState(Firing)

	dbs, err := s.load(ctx)
	if err != nil {
		s.setState(Idle)
		return err
	}
	active := activeIndex(dbs)
	for _, e := range ties {
		alarm, ok := e.Alarm.Get()
		if !ok || alarm != best {
			continue
		}
		a := ActiveAlarm{Item: e.Item, Start: e.Start, End: e.End, OriginAlarm: alarm, Snooze: mo.None[int64]()}
		if err := s.activate(ctx, a, active); err != nil {
			s.setState(Idle)
			return err
		}
	}
	if err := s.advance(ctx, dbs, best); err != nil {
		s.setState(Idle)
		return err
	}
	return s.search(ctx)
}
