package rules

import (
	"iter"
	"slices"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// RegularlyParams describes occurrences repeating every Interval seconds
// from a reference start.
type RegularlyParams struct {
	RefStart int64
	Interval int64
	End      mo.Option[int64] // relative to each start
	Alarm    mo.Option[int64] // seconds before each start
}

// OccurRegularly occurs at RefStart + k*Interval for every integer k
type OccurRegularly struct {
	meta   Meta
	params RegularlyParams
}

// NewOccurRegularly validates p and builds the rule
func NewOccurRegularly(p RegularlyParams, meta Meta) (OccurRegularly, error) {
	if err := validateMeta(KindOccurRegularly, meta); err != nil {
		return OccurRegularly{}, err
	}
	if p.Interval <= 0 {
		return OccurRegularly{}, badRule(KindOccurRegularly, "interval must be positive, got %d", p.Interval)
	}
	rel := relative{End: p.End, Alarm: p.Alarm}
	if err := rel.validate(KindOccurRegularly); err != nil {
		return OccurRegularly{}, err
	}
	return OccurRegularly{meta: meta, params: p}, nil
}

func (r OccurRegularly) Kind() Kind              { return KindOccurRegularly }
func (r OccurRegularly) Meta() Meta              { return r.meta }
func (r OccurRegularly) Params() RegularlyParams { return r.params }
func (OccurRegularly) sealed()                   {}

func (r OccurRegularly) relative() relative {
	return relative{End: r.params.End, Alarm: r.params.Alarm}
}

func (r OccurRegularly) OverlapSpan() int64 { return r.relative().back() }

// periodic yields ref + k*interval for every k with a start at or after from.
func periodic(ref, interval int64, rel relative) naiveSeq {
	return func(from int64) iter.Seq[occurrence.Occurrence] {
		return func(yield func(occurrence.Occurrence) bool) {
			start := ref + ceilDiv(from-ref, interval)*interval
			for ; ; start += interval {
				if !yield(rel.occurrence(start)) {
					return
				}
			}
		}
	}
}

func (r OccurRegularly) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, periodic(r.params.RefStart, r.params.Interval, rel)).rangeSeq(mint, maxt, offset)
}

func (r OccurRegularly) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, periodic(r.params.RefStart, r.params.Interval, rel)).nextSeq(base, bound, offset)
}

// RegularlyGroupParams describes several reference starts sharing one
// interval
type RegularlyGroupParams struct {
	RefStarts []int64
	Interval  int64
	End       mo.Option[int64]
	Alarm     mo.Option[int64]
}

// OccurRegularlyGroup is the union of one OccurRegularly stream per
// reference start, merged in ascending order.
type OccurRegularlyGroup struct {
	meta   Meta
	params RegularlyGroupParams
}

// NewOccurRegularlyGroup validates p and builds the rule. Reference starts
// are sorted; two of them congruent modulo the interval would produce
// duplicate occurrences and are rejected.
func NewOccurRegularlyGroup(p RegularlyGroupParams, meta Meta) (OccurRegularlyGroup, error) {
	const kind = KindOccurRegularlyGroup
	if err := validateMeta(kind, meta); err != nil {
		return OccurRegularlyGroup{}, err
	}
	if p.Interval <= 0 {
		return OccurRegularlyGroup{}, badRule(kind, "interval must be positive, got %d", p.Interval)
	}
	if len(p.RefStarts) == 0 {
		return OccurRegularlyGroup{}, badRule(kind, "no reference starts")
	}
	if err := (relative{End: p.End, Alarm: p.Alarm}).validate(kind); err != nil {
		return OccurRegularlyGroup{}, err
	}

	p.RefStarts = slices.Clone(p.RefStarts)
	slices.Sort(p.RefStarts)
	phases := make(map[int64]int64, len(p.RefStarts))
	for _, ref := range p.RefStarts {
		phase := ref - floorDiv(ref, p.Interval)*p.Interval
		if prev, dup := phases[phase]; dup {
			return OccurRegularlyGroup{}, badRule(kind, "reference starts %d and %d coincide", prev, ref)
		}
		phases[phase] = ref
	}
	return OccurRegularlyGroup{meta: meta, params: p}, nil
}

func (r OccurRegularlyGroup) Kind() Kind { return KindOccurRegularlyGroup }
func (r OccurRegularlyGroup) Meta() Meta { return r.meta }
func (OccurRegularlyGroup) sealed()      {}

func (r OccurRegularlyGroup) Params() RegularlyGroupParams {
	p := r.params
	p.RefStarts = slices.Clone(p.RefStarts)
	return p
}

func (r OccurRegularlyGroup) relative() relative {
	return relative{End: r.params.End, Alarm: r.params.Alarm}
}

func (r OccurRegularlyGroup) OverlapSpan() int64 { return r.relative().back() }

func (r OccurRegularlyGroup) seq(rel relative) naiveSeq {
	refs, interval := r.params.RefStarts, r.params.Interval
	return func(from int64) iter.Seq[occurrence.Occurrence] {
		return func(yield func(occurrence.Occurrence) bool) {
			next := make([]int64, len(refs))
			for i, ref := range refs {
				next[i] = ref + ceilDiv(from-ref, interval)*interval
			}
			for {
				lowest := 0
				for i := 1; i < len(next); i++ {
					if next[i] < next[lowest] {
						lowest = i
					}
				}
				if !yield(rel.occurrence(next[lowest])) {
					return
				}
				next[lowest] += interval
			}
		}
	}
}

func (r OccurRegularlyGroup) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, r.seq(rel)).rangeSeq(mint, maxt, offset)
}

func (r OccurRegularlyGroup) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, r.seq(rel)).nextSeq(base, bound, offset)
}
