/*
Package rules implements the temporal rules attached to outliner items and
their evaluation.

Every rule kind exposes two queries:

  - Range(mint, maxt) yields every occurrence whose span or alarm intersects
    the closed window, including occurrences starting before mint whose end
    or late alarm falls inside it, and occurrences starting after maxt whose
    early alarm falls inside it.
  - NextAfter(base, bound) yields occurrences in ascending start order,
    beginning with the first one having a trigger instant after base, and
    stops once an occurrence's start and alarm both lie beyond bound.

Rules are immutable values built by their New… constructors:

	r, err := rules.NewOccurRegularly(rules.RegularlyParams{
		RefStart: 1000,
		Interval: 3600,
		End:      mo.Some[int64](1800),
		Alarm:    mo.None[int64](),
	}, rules.Meta{Standard: rules.StandardLocal})
	if errors.Is(err, rules.ErrBadRule) {
		// reject the edit
	}
	for o := range r.Range(0, 10000, nil) {
		fmt.Println(o.Start)
	}

Dates that do not exist in a given year (February 30, the fifth Monday of a
short month) are skipped during evaluation; constructors only reject
parameters that can never produce an occurrence.
*/
package rules

var (
	_ Rule      = OccurOnce{}
	_ Rule      = OccurRegularly{}
	_ Rule      = OccurRegularlyGroup{}
	_ Rule      = OccurMonthlyNumberDirect{}
	_ Rule      = OccurMonthlyNumberInverse{}
	_ Rule      = OccurMonthlyWeekdayDirect{}
	_ Rule      = OccurMonthlyWeekdayInverse{}
	_ Rule      = OccurYearlySingle{}
	_ Rule      = OccurYearlyGroup{}
	_ Exception = ExceptOnce{}
	_ Exception = ExceptRegularly{}
)
