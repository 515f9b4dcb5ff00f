// Package icalbridge converts between iCalendar data and rule sets.
//
// Import maps each VEVENT onto the rule kinds of package rules. Calendar
// based rules are built with rules.StandardUTC over the wall clock of the
// import location, so they must be evaluated by an engine using the offset
// of that same location. Export writes occurrences as plain VEVENTs with a
// DATE-TIME VALARM trigger.
package icalbridge

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/libremind/rules"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// ErrUnsupported is returned for events whose recurrence has no rule
// equivalent
var ErrUnsupported = errors.New("unsupported recurrence")

// MaxExpanded bounds the occurrences a finite RRULE (COUNT or UNTIL) may be
// expanded into.
const MaxExpanded = 1000

// Item is one imported event
type Item struct {
	UID     string
	Summary string
	Rules   rules.RuleSet
}

// Import reads every VEVENT from r. Events that cannot be converted are
// skipped and reported in the joined error; the other items are still
// returned.
func Import(r io.Reader, loc *time.Location) ([]Item, error) {
	if loc == nil {
		loc = time.UTC
	}

	var (
		items []Item
		errs  []error
	)
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return items, fmt.Errorf("decode calendar: %w", err)
		}
		for _, ev := range cal.Events() {
			item, err := convertEvent(ev.Component, loc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			items = append(items, item)
		}
	}
	return items, errors.Join(errs...)
}

// event holds the fields of a VEVENT relevant to rules
type event struct {
	start  time.Time
	end    mo.Option[time.Time]
	before mo.Option[int64] // alarm, seconds before start
}

func (e event) relEnd() mo.Option[int64] {
	if end, ok := e.end.Get(); ok && end.After(e.start) {
		return mo.Some(int64(end.Sub(e.start) / time.Second))
	}
	return mo.None[int64]()
}

func convertEvent(comp *ical.Component, loc *time.Location) (Item, error) {
	uid, _ := comp.Props.Text(ical.PropUID)
	summary, _ := comp.Props.Text(ical.PropSummary)
	item := Item{UID: uid, Summary: summary}
	fail := func(err error) (Item, error) {
		return Item{}, fmt.Errorf("event %q: %w", uid, err)
	}

	var ev event
	start, err := comp.Props.DateTime(ical.PropDateTimeStart, loc)
	if err != nil {
		return fail(fmt.Errorf("DTSTART: %w", err))
	}
	ev.start = start.In(loc)
	ev.end = eventEnd(comp, ev.start, loc)
	ev.before = alarmBefore(comp, ev, loc)

	prop := comp.Props.Get(ical.PropRecurrenceRule)
	if prop == nil || prop.Value == "" {
		once, err := onceRule(ev)
		if err != nil {
			return fail(err)
		}
		item.Rules = rules.RuleSet{once}
	} else {
		opt, err := rrule.StrToROption(prop.Value)
		if err != nil {
			return fail(fmt.Errorf("RRULE %q: %w", prop.Value, err))
		}
		opt.Dtstart = ev.start
		set, err := recurrenceRules(ev, *opt)
		if err != nil {
			return fail(err)
		}
		item.Rules = set
	}

	exceptions, err := exceptionRules(comp, loc)
	if err != nil {
		return fail(err)
	}
	item.Rules = append(item.Rules, exceptions...)
	return item, nil
}

func eventEnd(comp *ical.Component, start time.Time, loc *time.Location) mo.Option[time.Time] {
	if end, err := comp.Props.DateTime(ical.PropDateTimeEnd, loc); err == nil {
		return mo.Some(end)
	}
	if prop := comp.Props.Get(ical.PropDuration); prop != nil {
		if d, err := prop.Duration(); err == nil {
			return mo.Some(start.Add(d))
		}
	}
	return mo.None[time.Time]()
}

// alarmBefore reads the first VALARM with a usable trigger
func alarmBefore(comp *ical.Component, ev event, loc *time.Location) mo.Option[int64] {
	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		if trigger.ValueType() == ical.ValueDateTime {
			at, err := trigger.DateTime(loc)
			if err != nil {
				continue
			}
			return mo.Some(int64(ev.start.Sub(at) / time.Second))
		}
		d, err := trigger.Duration()
		if err != nil {
			continue
		}
		anchor := ev.start
		if related := trigger.Params.Get("RELATED"); strings.EqualFold(related, "END") {
			anchor = ev.end.OrElse(ev.start)
		}
		return mo.Some(int64(ev.start.Sub(anchor.Add(d)) / time.Second))
	}
	return mo.None[int64]()
}

func onceRule(ev event) (rules.Rule, error) {
	p := rules.OnceParams{Start: ev.start.Unix(), End: mo.None[int64](), Alarm: mo.None[int64]()}
	if end, ok := ev.relEnd().Get(); ok {
		p.End = mo.Some(p.Start + end)
	}
	if before, ok := ev.before.Get(); ok {
		p.Alarm = mo.Some(p.Start - before)
	}
	return built(rules.NewOccurOnce(p, rules.Meta{Standard: rules.StandardLocal}))
}

func built[R rules.Rule](r R, err error) (rules.Rule, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// naive maps t onto its wall clock in its own location, encoded as UTC
func naive(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

func recurrenceRules(ev event, opt rrule.ROption) (rules.RuleSet, error) {
	if opt.Count > 0 || !opt.Until.IsZero() {
		return expand(ev, opt)
	}
	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return nil, unsupported("BY parts of %s", opt.RRuleString())
	}
	interval := max(opt.Interval, 1)
	meta := rules.Meta{Standard: rules.StandardUTC}
	end, alarm := ev.relEnd(), ev.before

	var (
		r   rules.Rule
		err error
	)
	switch opt.Freq {
	case rrule.MINUTELY, rrule.HOURLY, rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 {
			return nil, unsupported("BY parts on %s", opt.Freq)
		}
		unit := map[rrule.Frequency]int64{rrule.MINUTELY: 60, rrule.HOURLY: 3600, rrule.DAILY: 86400}[opt.Freq]
		r, err = built(rules.NewOccurRegularly(rules.RegularlyParams{
			RefStart: naive(ev.start),
			Interval: int64(interval) * unit,
			End:      end,
			Alarm:    alarm,
		}, meta))

	case rrule.WEEKLY:
		if len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 {
			return nil, unsupported("BY parts on WEEKLY")
		}
		period := int64(interval) * 7 * 86400
		if len(opt.Byweekday) == 0 {
			r, err = built(rules.NewOccurRegularly(rules.RegularlyParams{
				RefStart: naive(ev.start), Interval: period, End: end, Alarm: alarm,
			}, meta))
			break
		}
		// one reference start per weekday, in the week of DTSTART
		monday := naive(ev.start) - int64((int(ev.start.Weekday())+6)%7)*86400
		var refs []int64
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, unsupported("numbered weekday on WEEKLY")
			}
			refs = append(refs, monday+int64(wd.Day())*86400)
		}
		r, err = built(rules.NewOccurRegularlyGroup(rules.RegularlyGroupParams{
			RefStarts: refs, Interval: period, End: end, Alarm: alarm,
		}, meta))

	case rrule.MONTHLY:
		months, merr := monthSet(ev.start, opt.Bymonth, interval)
		if merr != nil {
			return nil, merr
		}
		r, err = monthlyRule(ev, opt, months, meta)

	case rrule.YEARLY:
		return yearlyRules(ev, opt, interval, meta)

	default:
		return nil, unsupported("frequency %s", opt.Freq)
	}
	if err != nil {
		return nil, err
	}
	return rules.RuleSet{r}, nil
}

// monthSet lists the months of a MONTHLY rule. An interval is only
// representable when it divides the year.
func monthSet(start time.Time, bymonth []int, interval int) ([]int, error) {
	if len(bymonth) > 0 {
		if interval != 1 {
			return nil, unsupported("BYMONTH with INTERVAL=%d", interval)
		}
		return slices.Clone(bymonth), nil
	}
	if 12%interval != 0 {
		return nil, unsupported("monthly INTERVAL=%d", interval)
	}
	var months []int
	for m := int(start.Month()); len(months) < 12/interval; m += interval {
		months = append(months, (m-1)%12+1)
	}
	return months, nil
}

func monthlyRule(ev event, opt rrule.ROption, months []int, meta rules.Meta) (rules.Rule, error) {
	hh, mm := ev.start.Hour(), ev.start.Minute()
	end, alarm := ev.relEnd(), ev.before

	switch {
	case len(opt.Byweekday) > 0 && len(opt.Bymonthday) > 0:
		return nil, unsupported("BYDAY with BYMONTHDAY")

	case len(opt.Byweekday) > 0:
		if len(opt.Byweekday) > 1 {
			return nil, unsupported("several BYDAY values on MONTHLY")
		}
		wd := opt.Byweekday[0]
		p := rules.MonthlyWeekdayParams{Months: months, Weekday: wd.Day(), Hour: hh, Minute: mm, End: end, Alarm: alarm}
		switch n := wd.N(); {
		case n > 0:
			p.Number = n
			return built(rules.NewOccurMonthlyWeekdayDirect(p, meta))
		case n < 0:
			p.Number = -n
			return built(rules.NewOccurMonthlyWeekdayInverse(p, meta))
		default:
			return nil, unsupported("unnumbered BYDAY on MONTHLY")
		}

	default:
		day := ev.start.Day()
		if len(opt.Bymonthday) > 1 {
			return nil, unsupported("several BYMONTHDAY values")
		}
		if len(opt.Bymonthday) == 1 {
			day = opt.Bymonthday[0]
		}
		p := rules.MonthlyNumberParams{Months: months, Hour: hh, Minute: mm, End: end, Alarm: alarm}
		if day < 0 {
			p.Day = -day
			return built(rules.NewOccurMonthlyNumberInverse(p, meta))
		}
		p.Day = day
		return built(rules.NewOccurMonthlyNumberDirect(p, meta))
	}
}

func yearlyRules(ev event, opt rrule.ROption, interval int, meta rules.Meta) (rules.RuleSet, error) {
	if len(opt.Byweekday) > 0 {
		return nil, unsupported("BYDAY on YEARLY")
	}
	months := opt.Bymonth
	if len(months) == 0 {
		months = []int{int(ev.start.Month())}
	}
	days := opt.Bymonthday
	if len(days) == 0 {
		days = []int{ev.start.Day()}
	}
	for _, d := range days {
		if d < 1 {
			return nil, unsupported("negative BYMONTHDAY on YEARLY")
		}
	}
	hh, mm := ev.start.Hour(), ev.start.Minute()

	if len(months) == 1 && len(days) == 1 {
		r, err := built(rules.NewOccurYearlySingle(rules.YearlySingleParams{
			Interval: interval,
			RefYear:  ev.start.Year(),
			Month:    months[0],
			Day:      days[0],
			Hour:     hh,
			Minute:   mm,
			End:      ev.relEnd(),
			Alarm:    ev.before,
		}, meta))
		if err != nil {
			return nil, err
		}
		return rules.RuleSet{r}, nil
	}

	if interval != 1 {
		return nil, unsupported("several yearly dates with INTERVAL=%d", interval)
	}
	var dates []rules.YearlyDate
	for _, m := range months {
		for _, d := range days {
			dates = append(dates, rules.YearlyDate{Month: m, Day: d, Hour: hh, Minute: mm})
		}
	}
	r, err := built(rules.NewOccurYearlyGroup(rules.YearlyGroupParams{Dates: dates, End: ev.relEnd(), Alarm: ev.before}, meta))
	if err != nil {
		return nil, err
	}
	return rules.RuleSet{r}, nil
}

// expand turns a finite recurrence into one OccurOnce per occurrence
func expand(ev event, opt rrule.ROption) (rules.RuleSet, error) {
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("RRULE: %w", err)
	}
	if opt.Count > MaxExpanded {
		return nil, unsupported("COUNT=%d above %d", opt.Count, MaxExpanded)
	}

	var set rules.RuleSet
	next := rr.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		if len(set) == MaxExpanded {
			return nil, unsupported("more than %d occurrences", MaxExpanded)
		}
		occ := ev
		if end, ok := ev.end.Get(); ok {
			occ.end = mo.Some(t.Add(end.Sub(ev.start)))
		}
		occ.start = t
		r, err := onceRule(occ)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

// exceptionRules turns EXDATE values into one-second exception spans
func exceptionRules(comp *ical.Component, loc *time.Location) (rules.RuleSet, error) {
	var set rules.RuleSet
	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		for _, value := range strings.Split(prop.Value, ",") {
			single := ical.NewProp(ical.PropExceptionDates)
			single.Params = prop.Params
			single.Value = strings.TrimSpace(value)
			t, err := single.DateTime(loc)
			if err != nil {
				return nil, fmt.Errorf("EXDATE %q: %w", value, err)
			}
			r, err := built(rules.NewExceptOnce(rules.ExceptOnceParams{
				Start: t.Unix(),
				End:   t.Unix() + 1,
			}, rules.Meta{Standard: rules.StandardLocal}))
			if err != nil {
				return nil, err
			}
			set = append(set, r)
		}
	}
	return set, nil
}
