package occurrence

import (
	"fmt"
	"slices"

	"github.com/samber/mo"
)

// ItemKey identifies an item inside one of the open databases
type ItemKey struct {
	DB string // database identifier, e.g. the file the item lives in
	ID int64  // item identifier inside DB
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s:%d", k.DB, k.ID)
}

// Occurrence is one concrete instance in time produced by a rule.
// All instants are seconds since the Unix epoch.
type Occurrence struct {
	Start int64
	End   mo.Option[int64] // strictly after Start when present
	Alarm mo.Option[int64] // may be before, at or after Start
}

// Entry scopes an occurrence to the (item, rule index) pair that produced it
type Entry struct {
	Item ItemKey
	Rule int
	Occurrence
}

// EndOrStart returns End if present, Start otherwise.
func (o Occurrence) EndOrStart() int64 {
	return o.End.OrElse(o.Start)
}

// Intersects reports whether the occurrence's span [Start, EndOrStart] or its
// alarm instant falls inside the closed window [mint, maxt].
func (o Occurrence) Intersects(mint, maxt int64) bool {
	if o.Start <= maxt && o.EndOrStart() >= mint {
		return true
	}
	if alarm, ok := o.Alarm.Get(); ok {
		return alarm >= mint && alarm <= maxt
	}
	return false
}

// Candidates returns the trigger instants of the occurrence (start, end and
// alarm, absent ones dropped) in ascending order.
func (o Occurrence) Candidates() []int64 {
	out := make([]int64, 0, 3)
	out = append(out, o.Start)
	if end, ok := o.End.Get(); ok {
		out = append(out, end)
	}
	if alarm, ok := o.Alarm.Get(); ok {
		out = append(out, alarm)
	}
	slices.Sort(out)
	return out
}

// Latest returns the largest trigger instant of the occurrence.
func (o Occurrence) Latest() int64 {
	c := o.Candidates()
	return c[len(c)-1]
}

// Beyond reports whether both the start and the alarm (if any) lie strictly
// after bound. An ascending occurrence stream may stop once this holds.
func (o Occurrence) Beyond(bound int64) bool {
	if o.Start <= bound {
		return false
	}
	if alarm, ok := o.Alarm.Get(); ok && alarm <= bound {
		return false
	}
	return true
}

// Excepted reports whether an exception span [start, end] removes o.
// A plain exception matches occurrences starting inside the span; an
// inclusive one also matches occurrences whose own span overlaps it.
func Excepted(o Occurrence, start, end int64, inclusive bool) bool {
	if o.Start >= start && o.Start <= end {
		return true
	}
	return inclusive && o.Start <= end && o.EndOrStart() >= start
}
