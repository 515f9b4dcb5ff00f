package rules

import (
	"errors"
	"iter"
	"slices"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// MonthlyNumberParams selects a day number in each of a set of months.
// For the inverse variant Day counts backward from the end of the month,
// 1 being the last day.
type MonthlyNumberParams struct {
	Months []int // 1-12
	Day    int
	Hour   int
	Minute int
	End    mo.Option[int64]
	Alarm  mo.Option[int64]
}

// MonthlyWeekdayParams selects the Number-th Weekday (0 is Monday) in each of
// a set of months. For the inverse variant Number counts from the end of the
// month.
type MonthlyWeekdayParams struct {
	Months  []int
	Weekday int
	Number  int
	Hour    int
	Minute  int
	End     mo.Option[int64]
	Alarm   mo.Option[int64]
}

// monthly is the machinery shared by the four monthly variants; resolve maps
// a (year, month) onto the day of month to use, which may not exist.
type monthly struct {
	kind    Kind
	meta    Meta
	months  []int
	hh, mm  int
	rel     relative
	resolve func(year, month int) int
}

func normalizeMonths(kind Kind, months []int) ([]int, error) {
	if len(months) == 0 {
		return nil, badRule(kind, "no months selected")
	}
	out := slices.Clone(months)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, m := range out {
		if m < 1 || m > 12 {
			return nil, badRule(kind, "month %d out of range", m)
		}
	}
	return out, nil
}

// longestMonth returns the length of the longest selected month in its
// longest year.
func longestMonth(months []int) int {
	longest := 0
	for _, m := range months {
		longest = max(longest, maxDaysIn(m))
	}
	return longest
}

func (m monthly) seq(from int64) iter.Seq[occurrence.Occurrence] {
	return func(yield func(occurrence.Occurrence) bool) {
		selected := [13]bool{}
		for _, month := range m.months {
			selected[month] = true
		}

		year, month, _, _, _ := civilFields(from)
		for skipped := 0; skipped < MaxSkippedPeriods; year, month = nextMonth(year, month) {
			if !selected[month] {
				skipped++
				continue
			}
			start, err := civilTime(year, month, m.resolve(year, month), m.hh, m.mm)
			if errors.Is(err, errInvalidDate) || start < from {
				skipped++
				continue
			}
			skipped = 0
			if !yield(m.rel.occurrence(start)) {
				return
			}
		}
	}
}

func (m monthly) scanner() scanner {
	return m.rel.scanner(m.meta, m.seq)
}

func newMonthly(kind Kind, meta Meta, months []int, hh, mm int, rel relative) (monthly, error) {
	if err := validateMeta(kind, meta); err != nil {
		return monthly{}, err
	}
	months, err := normalizeMonths(kind, months)
	if err != nil {
		return monthly{}, err
	}
	if err := validateClock(kind, hh, mm); err != nil {
		return monthly{}, err
	}
	if err := rel.validate(kind); err != nil {
		return monthly{}, err
	}
	return monthly{kind: kind, meta: meta, months: months, hh: hh, mm: mm, rel: rel}, nil
}

// OccurMonthlyNumberDirect occurs on day Day of every selected month. Months
// too short for Day are skipped.
type OccurMonthlyNumberDirect struct {
	monthly
	params MonthlyNumberParams
}

// NewOccurMonthlyNumberDirect validates p and builds the rule. Day must
// exist in at least one selected month.
func NewOccurMonthlyNumberDirect(p MonthlyNumberParams, meta Meta) (OccurMonthlyNumberDirect, error) {
	const kind = KindOccurMonthlyNumberDirect
	m, err := newMonthly(kind, meta, p.Months, p.Hour, p.Minute, relative{End: p.End, Alarm: p.Alarm})
	if err != nil {
		return OccurMonthlyNumberDirect{}, err
	}
	if p.Day < 1 || p.Day > longestMonth(m.months) {
		return OccurMonthlyNumberDirect{}, badRule(kind, "day %d never exists in months %v", p.Day, m.months)
	}
	p.Months = m.months
	m.resolve = func(int, int) int { return p.Day }
	return OccurMonthlyNumberDirect{monthly: m, params: p}, nil
}

// OccurMonthlyNumberInverse occurs on the Day-th day counted from the end of
// every selected month.
type OccurMonthlyNumberInverse struct {
	monthly
	params MonthlyNumberParams
}

// NewOccurMonthlyNumberInverse validates p and builds the rule.
func NewOccurMonthlyNumberInverse(p MonthlyNumberParams, meta Meta) (OccurMonthlyNumberInverse, error) {
	const kind = KindOccurMonthlyNumberInverse
	m, err := newMonthly(kind, meta, p.Months, p.Hour, p.Minute, relative{End: p.End, Alarm: p.Alarm})
	if err != nil {
		return OccurMonthlyNumberInverse{}, err
	}
	if p.Day < 1 || p.Day > longestMonth(m.months) {
		return OccurMonthlyNumberInverse{}, badRule(kind, "inverse day %d never exists in months %v", p.Day, m.months)
	}
	p.Months = m.months
	m.resolve = func(year, month int) int { return daysIn(year, month) - p.Day + 1 }
	return OccurMonthlyNumberInverse{monthly: m, params: p}, nil
}

// OccurMonthlyWeekdayDirect occurs on the Number-th Weekday of every selected
// month; months with fewer such weekdays are skipped.
type OccurMonthlyWeekdayDirect struct {
	monthly
	params MonthlyWeekdayParams
}

func validateWeekday(kind Kind, p MonthlyWeekdayParams) error {
	if p.Weekday < 0 || p.Weekday > 6 {
		return badRule(kind, "weekday %d out of range", p.Weekday)
	}
	// every month has a fifth occurrence of some weekday in some year
	if p.Number < 1 || p.Number > 5 {
		return badRule(kind, "weekday number %d out of range", p.Number)
	}
	return nil
}

// NewOccurMonthlyWeekdayDirect validates p and builds the rule.
func NewOccurMonthlyWeekdayDirect(p MonthlyWeekdayParams, meta Meta) (OccurMonthlyWeekdayDirect, error) {
	const kind = KindOccurMonthlyWeekdayDirect
	m, err := newMonthly(kind, meta, p.Months, p.Hour, p.Minute, relative{End: p.End, Alarm: p.Alarm})
	if err != nil {
		return OccurMonthlyWeekdayDirect{}, err
	}
	if err := validateWeekday(kind, p); err != nil {
		return OccurMonthlyWeekdayDirect{}, err
	}
	p.Months = m.months
	m.resolve = func(year, month int) int {
		first := weekday(year, month, 1)
		return 1 + (p.Weekday-first+7)%7 + (p.Number-1)*7
	}
	return OccurMonthlyWeekdayDirect{monthly: m, params: p}, nil
}

// OccurMonthlyWeekdayInverse occurs on the Number-th last Weekday of every
// selected month.
type OccurMonthlyWeekdayInverse struct {
	monthly
	params MonthlyWeekdayParams
}

// NewOccurMonthlyWeekdayInverse validates p and builds the rule.
func NewOccurMonthlyWeekdayInverse(p MonthlyWeekdayParams, meta Meta) (OccurMonthlyWeekdayInverse, error) {
	const kind = KindOccurMonthlyWeekdayInverse
	m, err := newMonthly(kind, meta, p.Months, p.Hour, p.Minute, relative{End: p.End, Alarm: p.Alarm})
	if err != nil {
		return OccurMonthlyWeekdayInverse{}, err
	}
	if err := validateWeekday(kind, p); err != nil {
		return OccurMonthlyWeekdayInverse{}, err
	}
	p.Months = m.months
	m.resolve = func(year, month int) int {
		last := daysIn(year, month)
		lastWeekday := weekday(year, month, last)
		return last - (lastWeekday-p.Weekday+7)%7 - (p.Number-1)*7
	}
	return OccurMonthlyWeekdayInverse{monthly: m, params: p}, nil
}

func (r OccurMonthlyNumberDirect) Kind() Kind   { return r.kind }
func (r OccurMonthlyNumberInverse) Kind() Kind  { return r.kind }
func (r OccurMonthlyWeekdayDirect) Kind() Kind  { return r.kind }
func (r OccurMonthlyWeekdayInverse) Kind() Kind { return r.kind }

func (m monthly) Meta() Meta         { return m.meta }
func (m monthly) OverlapSpan() int64 { return m.rel.back() }
func (monthly) sealed()              {}

func (m monthly) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return m.scanner().rangeSeq(mint, maxt, offset)
}

func (m monthly) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return m.scanner().nextSeq(base, bound, offset)
}

func (r OccurMonthlyNumberDirect) Params() MonthlyNumberParams {
	p := r.params
	p.Months = slices.Clone(p.Months)
	return p
}

func (r OccurMonthlyNumberInverse) Params() MonthlyNumberParams {
	p := r.params
	p.Months = slices.Clone(p.Months)
	return p
}

func (r OccurMonthlyWeekdayDirect) Params() MonthlyWeekdayParams {
	p := r.params
	p.Months = slices.Clone(p.Months)
	return p
}

func (r OccurMonthlyWeekdayInverse) Params() MonthlyWeekdayParams {
	p := r.params
	p.Months = slices.Clone(p.Months)
	return p
}
