package occurrence

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	itemA = ItemKey{DB: "main", ID: 1}
	itemB = ItemKey{DB: "main", ID: 2}
	itemC = ItemKey{DB: "work", ID: 1}
)

func at(item ItemKey, start int64) Entry {
	return Entry{Item: item, Occurrence: Occurrence{Start: start, End: mo.None[int64](), Alarm: mo.None[int64]()}}
}

func spanning(item ItemKey, start, end int64) Entry {
	e := at(item, start)
	e.End = mo.Some(end)
	return e
}

func TestOccurrence_Intersects(t *testing.T) {
	tests := []struct {
		name     string
		o        Occurrence
		expected bool
	}{
		{"start inside", Occurrence{Start: 150}, true},
		{"span covers window", Occurrence{Start: 50, End: mo.Some[int64](250)}, true},
		{"ends at mint", Occurrence{Start: 50, End: mo.Some[int64](100)}, true},
		{"ends before", Occurrence{Start: 50, End: mo.Some[int64](99)}, false},
		{"starts after", Occurrence{Start: 201}, false},
		{"alarm inside", Occurrence{Start: 300, Alarm: mo.Some[int64](180)}, true},
		{"alarm outside", Occurrence{Start: 300, Alarm: mo.Some[int64](20)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.o.Intersects(100, 200))
		})
	}
}

func TestOccurrence_Candidates(t *testing.T) {
	o := Occurrence{Start: 100, End: mo.Some[int64](200), Alarm: mo.Some[int64](40)}
	assert.Equal(t, []int64{40, 100, 200}, o.Candidates())
	assert.Equal(t, int64(200), o.Latest())
	assert.False(t, o.Beyond(50))
	assert.True(t, o.Beyond(39))
	assert.True(t, Occurrence{Start: 100}.Beyond(99))
	assert.False(t, Occurrence{Start: 100}.Beyond(100))
}

func TestExcepted(t *testing.T) {
	o := Occurrence{Start: 90, End: mo.Some[int64](120)}
	assert.False(t, Excepted(o, 100, 200, false))
	assert.True(t, Excepted(o, 100, 200, true))
	assert.True(t, Excepted(Occurrence{Start: 100}, 100, 200, false))
	assert.True(t, Excepted(Occurrence{Start: 200}, 100, 200, false))
	assert.False(t, Excepted(Occurrence{Start: 201}, 100, 200, true))
}

func TestRangeAccumulator(t *testing.T) {
	acc := NewRangeAccumulator(100, 200)

	assert.True(t, acc.Add(at(itemA, 150)))
	assert.True(t, acc.Add(spanning(itemB, 50, 120)))
	assert.False(t, acc.Add(at(itemB, 250)))
	assert.True(t, acc.Add(at(itemC, 150)))
	acc.AddUnconditional(at(itemC, 900))
	assert.Equal(t, 4, acc.Len())

	lo, hi, ok := acc.ItemBounds(itemC)
	require.True(t, ok)
	assert.Equal(t, int64(150), lo)
	assert.Equal(t, int64(900), hi)

	sorted := acc.Sorted()
	require.Len(t, sorted, 4)
	assert.Equal(t, itemB, sorted[0].Item)
	// equal starts keep insertion order
	assert.Equal(t, itemA, sorted[1].Item)
	assert.Equal(t, itemC, sorted[2].Item)
	assert.Equal(t, int64(900), sorted[3].Start)

	acc.Except(itemB, 100, 130, false)
	assert.Equal(t, 4, acc.Len())
	acc.Except(itemB, 100, 130, true)
	assert.Equal(t, 3, acc.Len())
	_, _, ok = acc.ItemBounds(itemB)
	assert.False(t, ok)

	mint, maxt := acc.Window()
	assert.Equal(t, int64(100), mint)
	assert.Equal(t, int64(200), maxt)
}

func TestNearestAccumulator_Tie(t *testing.T) {
	acc := NewNearestAccumulator()

	assert.True(t, acc.Consider(0, at(itemA, 500)))
	assert.True(t, acc.Consider(0, at(itemB, 500)))
	assert.False(t, acc.Consider(0, at(itemC, 700)))

	assert.Equal(t, mo.Some[int64](500), acc.Best())
	results := acc.Results()
	assert.Len(t, results, 2)
	assert.Contains(t, results, itemA)
	assert.Contains(t, results, itemB)
	assert.NotContains(t, results, itemC)
}

func TestNearestAccumulator_ResetOnStrictlyLess(t *testing.T) {
	acc := NewNearestAccumulator()

	acc.Consider(0, at(itemC, 700))
	acc.Consider(0, at(itemA, 500))
	acc.Consider(0, at(itemA, 500))

	b, ok := acc.Bound()
	require.True(t, ok)
	assert.Equal(t, int64(500), b)
	assert.Len(t, acc.Flat(), 2)
	assert.NotContains(t, acc.Results(), itemC)
}

func TestNearestAccumulator_SkipsHandledInstants(t *testing.T) {
	acc := NewNearestAccumulator()

	// start already handled, end still pending
	assert.True(t, acc.Consider(150, spanning(itemA, 100, 300)))
	assert.Equal(t, mo.Some[int64](300), acc.Best())

	// nothing left after lastSearch
	assert.False(t, acc.Consider(400, spanning(itemB, 100, 300)))

	alarmed := at(itemB, 400)
	alarmed.Alarm = mo.Some[int64](250)
	assert.True(t, acc.Consider(150, alarmed))
	assert.Equal(t, mo.Some[int64](250), acc.Best())
}

func TestNearestAccumulator_Except(t *testing.T) {
	acc := NewNearestAccumulator()
	acc.Consider(0, at(itemA, 500))
	acc.Consider(0, at(itemB, 500))

	acc.Except(itemA, 400, 600, false)
	assert.Len(t, acc.Results(), 1)
	acc.Except(itemB, 400, 600, false)
	assert.Empty(t, acc.Results())
	// the bound survives so the search stays pruned
	assert.Equal(t, mo.Some[int64](500), acc.Best())
}

func TestNearestAccumulator_TryRemoveDuplicate(t *testing.T) {
	acc := NewNearestAccumulator()
	e := at(itemA, 500)
	e.Alarm = mo.Some[int64](450)
	acc.Consider(0, e)
	acc.Consider(0, e)

	assert.False(t, acc.TryRemoveDuplicate(itemA, 500, mo.None[int64](), mo.None[int64]()))
	assert.True(t, acc.TryRemoveDuplicate(itemA, 500, mo.None[int64](), mo.Some[int64](450)))
	assert.Len(t, acc.Flat(), 1)
	assert.True(t, acc.TryRemoveDuplicate(itemA, 500, mo.None[int64](), mo.Some[int64](450)))
	assert.Empty(t, acc.Flat())
	assert.False(t, acc.TryRemoveDuplicate(itemA, 500, mo.None[int64](), mo.Some[int64](450)))
}

func TestNearestAccumulator_FlatOrder(t *testing.T) {
	acc := NewNearestAccumulator()
	acc.Consider(0, at(itemC, 10))
	acc.Consider(0, at(itemB, 10))
	acc.Consider(0, at(itemA, 10))

	var items []ItemKey
	for _, e := range acc.Flat() {
		items = append(items, e.Item)
	}
	assert.Equal(t, []ItemKey{itemA, itemB, itemC}, items)
	assert.Equal(t, "work:1", itemC.String())
}

func TestNearestAccumulator_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("best is the minimum pending instant and ties are all kept", prop.ForAll(
		func(startTimes []int64, lastSearch int64) bool {
			acc := NewNearestAccumulator()
			pending := []int64{}
			for i, s := range startTimes {
				acc.Consider(lastSearch, at(ItemKey{DB: "db", ID: int64(i % 4)}, s))
				if s > lastSearch {
					pending = append(pending, s)
				}
			}
			if len(pending) == 0 {
				return acc.Best().IsAbsent() && len(acc.Flat()) == 0
			}
			lowest := slices.Min(pending)
			count := 0
			for _, s := range pending {
				if s == lowest {
					count++
				}
			}
			best, ok := acc.Bound()
			return ok && best == lowest && len(acc.Flat()) == count
		},
		gen.SliceOf(gen.Int64Range(0, 50)),
		gen.Int64Range(0, 50),
	))

	properties.Property("range exceptions commute", prop.ForAll(
		func(startTimes []int64, a, b int64) bool {
			build := func() *RangeAccumulator {
				acc := NewRangeAccumulator(0, 100)
				for _, s := range startTimes {
					acc.Add(at(itemA, s))
				}
				return acc
			}
			first := build()
			first.Except(itemA, a, a+10, false)
			first.Except(itemA, b, b+5, true)
			second := build()
			second.Except(itemA, b, b+5, true)
			second.Except(itemA, a, a+10, false)
			return slices.Equal(first.Sorted(), second.Sorted())
		},
		gen.SliceOf(gen.Int64Range(0, 100)),
		gen.Int64Range(0, 100),
		gen.Int64Range(0, 100),
	))

	properties.TestingRun(t)
}
