package engine

import (
	"testing"
	"time"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var local = rules.Meta{Standard: rules.StandardLocal}

func regularly(t *testing.T, ref, interval int64, end, alarm mo.Option[int64]) rules.Rule {
	t.Helper()
	r, err := rules.NewOccurRegularly(rules.RegularlyParams{RefStart: ref, Interval: interval, End: end, Alarm: alarm}, local)
	require.NoError(t, err)
	return r
}

func once(t *testing.T, start int64, alarm mo.Option[int64]) rules.Rule {
	t.Helper()
	r, err := rules.NewOccurOnce(rules.OnceParams{Start: start, End: mo.None[int64](), Alarm: alarm}, local)
	require.NoError(t, err)
	return r
}

func exceptOnce(t *testing.T, start, end int64, inclusive bool) rules.Rule {
	t.Helper()
	r, err := rules.NewExceptOnce(rules.ExceptOnceParams{Start: start, End: end, Inclusive: inclusive}, local)
	require.NoError(t, err)
	return r
}

func startsOf(entries []occurrence.Entry) []int64 {
	var out []int64
	for _, e := range entries {
		out = append(out, e.Start)
	}
	return out
}

var (
	itemA = occurrence.ItemKey{DB: "main", ID: 1}
	itemB = occurrence.ItemKey{DB: "main", ID: 2}
	itemC = occurrence.ItemKey{DB: "other", ID: 7}
)

func TestEngine_Range(t *testing.T) {
	e := New(WithConfig(DisabledCacheConfig))
	defer e.Close()

	items := []ItemRules{
		{Key: itemA, Rules: rules.RuleSet{regularly(t, 1000, 3600, mo.Some[int64](1800), mo.None[int64]())}},
		{Key: itemB, Rules: rules.RuleSet{once(t, 4600, mo.None[int64]()), once(t, 20000, mo.None[int64]())}},
	}

	got, err := e.Range(items, 0, 10000)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 4600, 4600, 8200}, startsOf(got))
	assert.Equal(t, itemA, got[1].Item)
	assert.Equal(t, itemB, got[2].Item)
	assert.Equal(t, 0, got[2].Rule)
}

func TestEngine_RangeAppliesExceptions(t *testing.T) {
	e := New(WithConfig(DisabledCacheConfig))
	defer e.Close()

	items := []ItemRules{
		{Key: itemA, Rules: rules.RuleSet{
			exceptOnce(t, 4000, 5000, false),
			regularly(t, 1000, 3600, mo.Some[int64](1800), mo.None[int64]()),
			exceptOnce(t, 9000, 9500, true),
		}},
		// exceptions of A never touch B
		{Key: itemB, Rules: rules.RuleSet{once(t, 4600, mo.None[int64]())}},
	}

	got, err := e.Range(items, 0, 10000)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 4600}, startsOf(got))
	assert.Equal(t, itemB, got[1].Item)
	assert.Equal(t, 1, got[0].Rule)
}

func TestEngine_RangeWithPreseeded(t *testing.T) {
	e := New()
	defer e.Close()

	acc := occurrence.NewRangeAccumulator(0, 100)
	acc.AddUnconditional(occurrence.Entry{Item: itemC, Rule: -1, Occurrence: occurrence.Occurrence{Start: -5000}})
	require.NoError(t, e.RangeWith(acc, []ItemRules{{Key: itemA, Rules: rules.RuleSet{once(t, 50, mo.None[int64]())}}}))

	assert.Equal(t, []int64{-5000, 50}, startsOf(acc.Sorted()))
}

func TestEngine_RangeTooWide(t *testing.T) {
	e := New(WithConfig(Config{MaxRangeSpan: 100}))
	defer e.Close()

	_, err := e.Range(nil, 0, 101)
	assert.ErrorIs(t, err, ErrRangeTooWide)
	_, err = e.Range(nil, 0, 100)
	assert.NoError(t, err)
}

func TestEngine_RangeCache(t *testing.T) {
	e := New(WithConfig(Config{CacheEnabled: true, CacheConfig: CacheConfig{TTL: time.Minute, MaxEntries: 10}}))
	defer e.Close()

	items := []ItemRules{{Key: itemA, Rules: rules.RuleSet{regularly(t, 0, 100, mo.None[int64](), mo.None[int64]())}}}

	first, err := e.Range(items, 0, 1000)
	require.NoError(t, err)
	second, err := e.Range(items, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := e.CacheStats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.ActiveEntries)

	// a different rule set for the same item misses
	items[0].Rules = rules.RuleSet{regularly(t, 50, 100, mo.None[int64](), mo.None[int64]())}
	third, err := e.Range(items, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(50), third[0].Start)
	assert.Equal(t, 2, e.CacheStats().Misses)
}

func TestEngine_NextTie(t *testing.T) {
	e := New()
	defer e.Close()

	items := []ItemRules{
		{Key: itemA, Rules: rules.RuleSet{once(t, 500, mo.None[int64]())}},
		{Key: itemB, Rules: rules.RuleSet{regularly(t, 500, 1000, mo.None[int64](), mo.None[int64]())}},
		{Key: itemC, Rules: rules.RuleSet{once(t, 700, mo.None[int64]())}},
	}

	acc := e.NextAll(items, 100)
	assert.Equal(t, mo.Some[int64](500), acc.Best())
	results := acc.Results()
	assert.Len(t, results, 2)
	assert.NotContains(t, results, itemC)
}

func TestEngine_NextUsesAlarmsAndWatermark(t *testing.T) {
	e := New()
	defer e.Close()

	items := []ItemRules{
		// alarm one hour before each start
		{Key: itemA, Rules: rules.RuleSet{regularly(t, 0, 86400, mo.None[int64](), mo.Some[int64](3600))}},
		{Key: itemB, Rules: rules.RuleSet{once(t, 90000, mo.None[int64]())}},
	}

	acc := e.NextAll(items, 0)
	assert.Equal(t, mo.Some[int64](86400-3600), acc.Best())

	// once the alarm is handled the start itself is the next trigger
	acc = e.NextAll(items, 86400-3600)
	assert.Equal(t, mo.Some[int64](86400), acc.Best())

	acc = e.NextAll(items, 86400)
	assert.Equal(t, mo.Some[int64](90000), acc.Best())
	assert.Contains(t, acc.Results(), itemB)
}

func TestEngine_NextExceptionKeepsBest(t *testing.T) {
	e := New()
	defer e.Close()

	items := []ItemRules{
		{Key: itemA, Rules: rules.RuleSet{
			regularly(t, 1000, 1000, mo.None[int64](), mo.None[int64]()),
			exceptOnce(t, 1500, 2500, false),
		}},
	}

	acc := e.NextAll(items, 1000)
	assert.Equal(t, mo.Some[int64](2000), acc.Best())
	assert.Empty(t, acc.Results())

	acc = e.NextAll(items, 2000)
	assert.Equal(t, mo.Some[int64](3000), acc.Best())
	assert.Len(t, acc.Flat(), 1)
}

func TestEngine_NextMonthlyPruned(t *testing.T) {
	e := New()
	defer e.Close()

	monthly, err := rules.NewOccurMonthlyNumberDirect(rules.MonthlyNumberParams{
		Months: []int{2},
		Day:    29,
		End:    mo.None[int64](),
		Alarm:  mo.None[int64](),
	}, local)
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	soon := base + 3600
	items := []ItemRules{
		{Key: itemA, Rules: rules.RuleSet{once(t, soon, mo.None[int64]())}},
		{Key: itemB, Rules: rules.RuleSet{monthly}},
	}

	acc := e.NextAll(items, base)
	assert.Equal(t, mo.Some(soon), acc.Best())
	assert.NotContains(t, acc.Results(), itemB)

	// alone, the leap day is found years ahead
	acc = e.NextAll(items[1:], base)
	assert.Equal(t, mo.Some(time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC).Unix()), acc.Best())
}

func TestEngine_UTCStandardUsesOffset(t *testing.T) {
	e := New(WithOffset(rules.FixedOffset(-3600)))
	defer e.Close()

	r, err := rules.NewOccurOnce(rules.OnceParams{Start: 10000, End: mo.None[int64](), Alarm: mo.None[int64]()}, rules.Meta{Standard: rules.StandardUTC})
	require.NoError(t, err)

	got, err := e.Range([]ItemRules{{Key: itemA, Rules: rules.RuleSet{r}}}, 0, 20000)
	require.NoError(t, err)
	assert.Equal(t, []int64{13600}, startsOf(got))
	assert.NotNil(t, e.Offset())
}
