package rules

import (
	"cmp"
	"errors"
	"iter"
	"slices"
	"sort"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// YearlySingleParams describes one date repeating every Interval years,
// anchored on RefYear.
type YearlySingleParams struct {
	Interval int
	RefYear  int
	Month    int
	Day      int
	Hour     int
	Minute   int
	End      mo.Option[int64]
	Alarm    mo.Option[int64]
}

// OccurYearlySingle occurs on Month/Day of every year congruent to RefYear
// modulo Interval. February 29 only matches leap years.
type OccurYearlySingle struct {
	meta   Meta
	params YearlySingleParams
}

// NewOccurYearlySingle validates p and builds the rule
func NewOccurYearlySingle(p YearlySingleParams, meta Meta) (OccurYearlySingle, error) {
	const kind = KindOccurYearlySingle
	if err := validateMeta(kind, meta); err != nil {
		return OccurYearlySingle{}, err
	}
	if p.Interval <= 0 {
		return OccurYearlySingle{}, badRule(kind, "interval must be positive, got %d", p.Interval)
	}
	if p.RefYear < 1 || p.RefYear > 9999 {
		return OccurYearlySingle{}, badRule(kind, "reference year %d out of range", p.RefYear)
	}
	if p.Month < 1 || p.Month > 12 {
		return OccurYearlySingle{}, badRule(kind, "month %d out of range", p.Month)
	}
	if p.Day < 1 || p.Day > maxDaysIn(p.Month) {
		return OccurYearlySingle{}, badRule(kind, "day %d never exists in month %d", p.Day, p.Month)
	}
	if err := validateClock(kind, p.Hour, p.Minute); err != nil {
		return OccurYearlySingle{}, err
	}
	if err := (relative{End: p.End, Alarm: p.Alarm}).validate(kind); err != nil {
		return OccurYearlySingle{}, err
	}
	if p.Month == 2 && p.Day == 29 && !reachesLeapYear(p.RefYear, p.Interval) {
		return OccurYearlySingle{}, badRule(kind, "every %d years from %d never hits a leap year", p.Interval, p.RefYear)
	}
	return OccurYearlySingle{meta: meta, params: p}, nil
}

// reachesLeapYear reports whether ref + k*interval is a leap year for some k.
// The leap pattern repeats every 400 years.
func reachesLeapYear(ref, interval int) bool {
	for k := 0; k < 400; k++ {
		if isLeap(ref + k*interval) {
			return true
		}
	}
	return false
}

func (r OccurYearlySingle) Kind() Kind                 { return KindOccurYearlySingle }
func (r OccurYearlySingle) Meta() Meta                 { return r.meta }
func (r OccurYearlySingle) Params() YearlySingleParams { return r.params }
func (OccurYearlySingle) sealed()                      {}

func (r OccurYearlySingle) relative() relative {
	return relative{End: r.params.End, Alarm: r.params.Alarm}
}

func (r OccurYearlySingle) OverlapSpan() int64 { return r.relative().back() }

func (r OccurYearlySingle) seq(from int64) iter.Seq[occurrence.Occurrence] {
	p, rel := r.params, r.relative()
	return func(yield func(occurrence.Occurrence) bool) {
		fromYear, _, _, _, _ := civilFields(from)
		// first year at or after fromYear congruent to RefYear
		year := fromYear + floorMod(p.RefYear-fromYear, p.Interval)
		for skipped := 0; skipped < MaxSkippedPeriods; year += p.Interval {
			start, err := civilTime(year, p.Month, p.Day, p.Hour, p.Minute)
			if errors.Is(err, errInvalidDate) || start < from {
				skipped++
				continue
			}
			skipped = 0
			if !yield(rel.occurrence(start)) {
				return
			}
		}
	}
}

func (r OccurYearlySingle) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.relative().scanner(r.meta, r.seq).rangeSeq(mint, maxt, offset)
}

func (r OccurYearlySingle) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.relative().scanner(r.meta, r.seq).nextSeq(base, bound, offset)
}

// YearlyDate is one month/day/time of a yearly group
type YearlyDate struct {
	Month  int
	Day    int
	Hour   int
	Minute int
}

// code orders dates inside a year.
func (d YearlyDate) code() int {
	return ((d.Month*100+d.Day)*100+d.Hour)*100 + d.Minute
}

// YearlyGroupParams lists the dates of a yearly group
type YearlyGroupParams struct {
	Dates []YearlyDate
	End   mo.Option[int64]
	Alarm mo.Option[int64]
}

// OccurYearlyGroup occurs every year on each of its dates. Dates are kept in
// three buckets (outside February, February of common years, February of
// leap years) merged into one sorted list per kind of year.
type OccurYearlyGroup struct {
	meta   Meta
	params YearlyGroupParams
	common []YearlyDate
	leap   []YearlyDate
}

// NewOccurYearlyGroup validates p and builds the rule
func NewOccurYearlyGroup(p YearlyGroupParams, meta Meta) (OccurYearlyGroup, error) {
	const kind = KindOccurYearlyGroup
	if err := validateMeta(kind, meta); err != nil {
		return OccurYearlyGroup{}, err
	}
	if len(p.Dates) == 0 {
		return OccurYearlyGroup{}, badRule(kind, "no dates")
	}
	if err := (relative{End: p.End, Alarm: p.Alarm}).validate(kind); err != nil {
		return OccurYearlyGroup{}, err
	}

	dates := slices.Clone(p.Dates)
	for _, d := range dates {
		if d.Month < 1 || d.Month > 12 {
			return OccurYearlyGroup{}, badRule(kind, "month %d out of range", d.Month)
		}
		if d.Day < 1 || d.Day > maxDaysIn(d.Month) {
			return OccurYearlyGroup{}, badRule(kind, "day %d never exists in month %d", d.Day, d.Month)
		}
		if err := validateClock(kind, d.Hour, d.Minute); err != nil {
			return OccurYearlyGroup{}, err
		}
	}
	slices.SortFunc(dates, func(a, b YearlyDate) int { return cmp.Compare(a.code(), b.code()) })
	dates = slices.Compact(dates)
	p.Dates = dates

	var nonFeb, febCommon, febLeap []YearlyDate
	for _, d := range dates {
		switch {
		case d.Month != 2:
			nonFeb = append(nonFeb, d)
		case d.Day <= 28:
			febCommon = append(febCommon, d)
			febLeap = append(febLeap, d)
		default:
			febLeap = append(febLeap, d)
		}
	}
	merge := func(feb []YearlyDate) []YearlyDate {
		out := append(slices.Clone(nonFeb), feb...)
		slices.SortFunc(out, func(a, b YearlyDate) int { return cmp.Compare(a.code(), b.code()) })
		return out
	}

	return OccurYearlyGroup{
		meta:   meta,
		params: p,
		common: merge(febCommon),
		leap:   merge(febLeap),
	}, nil
}

func (r OccurYearlyGroup) Kind() Kind { return KindOccurYearlyGroup }
func (r OccurYearlyGroup) Meta() Meta { return r.meta }
func (OccurYearlyGroup) sealed()      {}

func (r OccurYearlyGroup) Params() YearlyGroupParams {
	p := r.params
	p.Dates = slices.Clone(p.Dates)
	return p
}

func (r OccurYearlyGroup) relative() relative {
	return relative{End: r.params.End, Alarm: r.params.Alarm}
}

func (r OccurYearlyGroup) OverlapSpan() int64 { return r.relative().back() }

func (r OccurYearlyGroup) datesOf(year int) []YearlyDate {
	if isLeap(year) {
		return r.leap
	}
	return r.common
}

func (r OccurYearlyGroup) seq(from int64) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return func(yield func(occurrence.Occurrence) bool) {
		year, month, dayOfMonth, hh, mm := civilFields(from)
		fromCode := YearlyDate{Month: month, Day: dayOfMonth, Hour: hh, Minute: mm}.code()

		dates := r.datesOf(year)
		i := sort.Search(len(dates), func(i int) bool { return dates[i].code() >= fromCode })
		for skipped := 0; skipped < MaxSkippedPeriods; {
			if i >= len(dates) {
				year++
				dates = r.datesOf(year)
				i = 0
				skipped++
				continue
			}
			d := dates[i]
			i++
			start, err := civilTime(year, d.Month, d.Day, d.Hour, d.Minute)
			if errors.Is(err, errInvalidDate) || start < from {
				continue
			}
			skipped = 0
			if !yield(rel.occurrence(start)) {
				return
			}
		}
	}
}

func (r OccurYearlyGroup) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.relative().scanner(r.meta, r.seq).rangeSeq(mint, maxt, offset)
}

func (r OccurYearlyGroup) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.relative().scanner(r.meta, r.seq).nextSeq(base, bound, offset)
}
