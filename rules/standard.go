package rules

import (
	"iter"
	"time"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// OffsetFunc returns the UTC offset, in seconds east of UTC, in force at the
// given instant. StandardUTC rules consult it for every produced start, end
// and alarm instant, never once per rule, because two occurrences of the same
// rule may fall on different sides of a DST transition.
type OffsetFunc func(instant int64) int64

// LocationOffset builds an OffsetFunc from a time zone database location.
func LocationOffset(loc *time.Location) OffsetFunc {
	return func(instant int64) int64 {
		_, offset := time.Unix(instant, 0).In(loc).Zone()
		return int64(offset)
	}
}

// FixedOffset always returns the same offset.
func FixedOffset(seconds int64) OffsetFunc {
	return func(int64) int64 { return seconds }
}

// reprojectMargin widens naive scan windows of StandardUTC rules so that the
// offset difference between a window edge and a candidate near it is covered.
const reprojectMargin = 6 * hour

// MaxSkippedPeriods bounds the number of consecutive calendar periods
// (months or yearly steps) a scan may skip without producing an occurrence
// before it gives up. Four hundred years cover the whole leap cycle.
const MaxSkippedPeriods = 400 * 12

func (m Meta) reprojects(offset OffsetFunc) bool {
	return m.Standard == StandardUTC && offset != nil
}

func (m Meta) margin(offset OffsetFunc) int64 {
	if m.reprojects(offset) {
		return reprojectMargin
	}
	return 0
}

// toNaive maps an instant onto the naive frame of the rule.
func (m Meta) toNaive(t int64, offset OffsetFunc) int64 {
	if !m.reprojects(offset) {
		return t
	}
	return t + offset(t)
}

// wallToInstant returns the instant at which the naive wall-clock value t
// is shown. The offsets in force a day before and a day after are tried; a
// candidate is valid when the offset at the candidate instant agrees. In a
// fold both are valid and the earlier instant wins. In a gap neither is
// valid and the earlier offset is used, so 02:30 during a one hour forward
// jump becomes 03:30 on the new offset.
func wallToInstant(t int64, offset OffsetFunc) int64 {
	before, after := offset(t-day), offset(t+day)
	if before == after {
		return t - before
	}
	early, late := t-before, t-after
	if early > late {
		early, late = late, early
	}
	switch {
	case offset(early) == t-early:
		return early
	case offset(late) == t-late:
		return late
	default:
		return t - before
	}
}

// reproject maps a naive occurrence onto instants, looking up the offset for
// each instant separately.
func (m Meta) reproject(o occurrence.Occurrence, offset OffsetFunc) occurrence.Occurrence {
	if !m.reprojects(offset) {
		return o
	}
	shift := func(t int64) int64 { return wallToInstant(t, offset) }

	out := occurrence.Occurrence{Start: shift(o.Start), End: mo.None[int64](), Alarm: mo.None[int64]()}
	if end, ok := o.End.Get(); ok {
		e := shift(end)
		if e <= out.Start {
			// a forward DST jump inside the span; keep its civil duration
			e = out.Start + (end - o.Start)
		}
		out.End = mo.Some(e)
	}
	if alarm, ok := o.Alarm.Get(); ok {
		out.Alarm = mo.Some(shift(alarm))
	}
	return out
}

// naiveSeq yields a rule's occurrences in its naive frame in ascending start
// order, beginning with the first one starting at or after from.
type naiveSeq func(from int64) iter.Seq[occurrence.Occurrence]

// scanner turns a naiveSeq into the Range and NextAfter queries.
type scanner struct {
	meta Meta
	back int64 // OverlapSpan
	lead int64 // largest distance from an early alarm to its start
	seq  naiveSeq
}

func (s scanner) rangeSeq(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return func(yield func(occurrence.Occurrence) bool) {
		if mint > maxt {
			return
		}
		margin := s.meta.margin(offset)
		lo := s.meta.toNaive(mint-s.back, offset) - margin
		hi := s.meta.toNaive(maxt+s.lead, offset) + margin

		for o := range s.seq(lo) {
			if o.Start > hi {
				return
			}
			o = s.meta.reproject(o, offset)
			if !o.Intersects(mint, maxt) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

func (s scanner) nextSeq(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return func(yield func(occurrence.Occurrence) bool) {
		margin := s.meta.margin(offset)
		lo := s.meta.toNaive(base-s.back, offset) - margin

		for o := range s.seq(lo) {
			o = s.meta.reproject(o, offset)
			if bound != nil {
				if b, ok := bound(); ok && o.Beyond(b+margin) {
					return
				}
			}
			if o.Latest() <= base {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// relative holds the end and alarm of periodic rules, both relative to the
// start of each occurrence.
type relative struct {
	End   mo.Option[int64] // duration after start
	Alarm mo.Option[int64] // seconds before start; negative for late alarms
}

func (r relative) occurrence(start int64) occurrence.Occurrence {
	o := occurrence.Occurrence{Start: start, End: mo.None[int64](), Alarm: mo.None[int64]()}
	if end, ok := r.End.Get(); ok {
		o.End = mo.Some(start + end)
	}
	if alarm, ok := r.Alarm.Get(); ok {
		o.Alarm = mo.Some(start - alarm)
	}
	return o
}

// back is max(end, -alarm, 0).
func (r relative) back() int64 {
	span := int64(0)
	if end, ok := r.End.Get(); ok && end > span {
		span = end
	}
	if alarm, ok := r.Alarm.Get(); ok && -alarm > span {
		span = -alarm
	}
	return span
}

func (r relative) lead() int64 {
	if alarm, ok := r.Alarm.Get(); ok && alarm > 0 {
		return alarm
	}
	return 0
}

func (r relative) validate(kind Kind) error {
	if end, ok := r.End.Get(); ok && end <= 0 {
		return badRule(kind, "relative end must be positive, got %d", end)
	}
	return nil
}

func (r relative) scanner(meta Meta, seq naiveSeq) scanner {
	return scanner{meta: meta, back: r.back(), lead: r.lead(), seq: seq}
}

func validateMeta(kind Kind, meta Meta) error {
	if meta.Standard != StandardLocal && meta.Standard != StandardUTC {
		return badRule(kind, "unknown time standard %d", int(meta.Standard))
	}
	return nil
}

func validateClock(kind Kind, hh, mm int) error {
	if hh < 0 || hh > 23 {
		return badRule(kind, "hour %d out of range", hh)
	}
	if mm < 0 || mm > 59 {
		return badRule(kind, "minute %d out of range", mm)
	}
	return nil
}
