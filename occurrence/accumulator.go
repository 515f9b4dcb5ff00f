package occurrence

import (
	"maps"
	"slices"
	"sort"

	"github.com/samber/mo"
)

// RangeAccumulator collects the occurrences of many items that intersect a
// bounded window.
type RangeAccumulator struct {
	mint, maxt int64
	items      map[ItemKey][]rangeEntry
	seq        int
}

type rangeEntry struct {
	Entry
	seq int // insertion order, used as tiebreak
}

// NewRangeAccumulator creates an accumulator for the closed window [mint, maxt]
func NewRangeAccumulator(mint, maxt int64) *RangeAccumulator {
	return &RangeAccumulator{
		mint:  mint,
		maxt:  maxt,
		items: make(map[ItemKey][]rangeEntry),
	}
}

// Window returns the bounds the accumulator was created with.
func (a *RangeAccumulator) Window() (mint, maxt int64) {
	return a.mint, a.maxt
}

// Add keeps e only if it intersects the window and reports whether it was kept.
func (a *RangeAccumulator) Add(e Entry) bool {
	if !e.Intersects(a.mint, a.maxt) {
		return false
	}
	a.AddUnconditional(e)
	return true
}

// AddUnconditional keeps e without checking the window.
func (a *RangeAccumulator) AddUnconditional(e Entry) {
	a.items[e.Item] = append(a.items[e.Item], rangeEntry{Entry: e, seq: a.seq})
	a.seq++
}

// Except removes the accumulated occurrences of item matched by the
// exception span [start, end].
func (a *RangeAccumulator) Except(item ItemKey, start, end int64, inclusive bool) {
	list, ok := a.items[item]
	if !ok {
		return
	}
	list = slices.DeleteFunc(list, func(re rangeEntry) bool {
		return Excepted(re.Occurrence, start, end, inclusive)
	})
	if len(list) == 0 {
		delete(a.items, item)
		return
	}
	a.items[item] = list
}

// ItemBounds returns the smallest start and the largest end (or start) among
// the occurrences accumulated for item.
func (a *RangeAccumulator) ItemBounds(item ItemKey) (lo, hi int64, ok bool) {
	list := a.items[item]
	for i, re := range list {
		if i == 0 || re.Start < lo {
			lo = re.Start
		}
		if i == 0 || re.EndOrStart() > hi {
			hi = re.EndOrStart()
		}
	}
	return lo, hi, len(list) > 0
}

// Len returns the number of accumulated occurrences.
func (a *RangeAccumulator) Len() int {
	n := 0
	for _, list := range a.items {
		n += len(list)
	}
	return n
}

// Sorted flattens all items into one list ordered by start; ties keep
// insertion order.
func (a *RangeAccumulator) Sorted() []Entry {
	flat := make([]rangeEntry, 0, a.Len())
	for _, list := range a.items {
		flat = append(flat, list...)
	}
	sort.Slice(flat, func(i, j int) bool {
		if flat[i].Start != flat[j].Start {
			return flat[i].Start < flat[j].Start
		}
		return flat[i].seq < flat[j].seq
	})

	out := make([]Entry, len(flat))
	for i, re := range flat {
		out[i] = re.Entry
	}
	return out
}

// NearestAccumulator searches online for the nearest trigger instant across
// many items. Only the occurrences tied at the current best instant are kept.
type NearestAccumulator struct {
	best    mo.Option[int64]
	results map[ItemKey][]Entry
}

// NewNearestAccumulator creates an empty accumulator
func NewNearestAccumulator() *NearestAccumulator {
	return &NearestAccumulator{
		best:    mo.None[int64](),
		results: make(map[ItemKey][]Entry),
	}
}

// Consider offers e to the search. Trigger instants at or before lastSearch
// were handled by a previous pass and are ignored. It reports whether e
// entered the tie set.
func (a *NearestAccumulator) Consider(lastSearch int64, e Entry) bool {
	var t int64
	found := false
	for _, c := range e.Candidates() {
		if c > lastSearch {
			t = c
			found = true
			break
		}
	}
	if !found {
		return false
	}

	best, ok := a.best.Get()
	switch {
	case !ok || t < best:
		a.best = mo.Some(t)
		a.results = map[ItemKey][]Entry{e.Item: {e}}
	case t == best:
		a.results[e.Item] = append(a.results[e.Item], e)
	default:
		return false
	}
	return true
}

// Except removes the tied occurrences of item matched by the exception span.
// The best instant is left untouched even if the tie set becomes empty.
func (a *NearestAccumulator) Except(item ItemKey, start, end int64, inclusive bool) {
	list, ok := a.results[item]
	if !ok {
		return
	}
	list = slices.DeleteFunc(list, func(e Entry) bool {
		return Excepted(e.Occurrence, start, end, inclusive)
	})
	if len(list) == 0 {
		delete(a.results, item)
		return
	}
	a.results[item] = list
}

// TryRemoveDuplicate removes at most one tied occurrence of item with exactly
// the given start, end and alarm. It reports whether one was removed.
func (a *NearestAccumulator) TryRemoveDuplicate(item ItemKey, start int64, end, alarm mo.Option[int64]) bool {
	list := a.results[item]
	for i, e := range list {
		if e.Start == start && e.End == end && e.Alarm == alarm {
			list = slices.Delete(list, i, i+1)
			if len(list) == 0 {
				delete(a.results, item)
			} else {
				a.results[item] = list
			}
			return true
		}
	}
	return false
}

// ItemBounds returns the smallest start and largest end (or start) among the
// tied occurrences of item.
func (a *NearestAccumulator) ItemBounds(item ItemKey) (lo, hi int64, ok bool) {
	list := a.results[item]
	for i, e := range list {
		if i == 0 || e.Start < lo {
			lo = e.Start
		}
		if i == 0 || e.EndOrStart() > hi {
			hi = e.EndOrStart()
		}
	}
	return lo, hi, len(list) > 0
}

// Best returns the nearest trigger instant found so far.
func (a *NearestAccumulator) Best() mo.Option[int64] {
	return a.best
}

// Bound is Best in the (value, ok) form used as a pruning bound by rule
// evaluators.
func (a *NearestAccumulator) Bound() (int64, bool) {
	return a.best.Get()
}

// Results returns a copy of the tie set keyed by item.
func (a *NearestAccumulator) Results() map[ItemKey][]Entry {
	out := make(map[ItemKey][]Entry, len(a.results))
	for k, v := range a.results {
		out[k] = slices.Clone(v)
	}
	return out
}

// Flat returns the tie set as a single list ordered by item key.
func (a *NearestAccumulator) Flat() []Entry {
	keys := slices.SortedFunc(maps.Keys(a.results), func(x, y ItemKey) int {
		if x.DB != y.DB {
			if x.DB < y.DB {
				return -1
			}
			return 1
		}
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})
	var out []Entry
	for _, k := range keys {
		out = append(out, a.results[k]...)
	}
	return out
}
