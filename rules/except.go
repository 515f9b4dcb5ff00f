package rules

import (
	"iter"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// ExceptOnceParams describes one exception span
type ExceptOnceParams struct {
	Start     int64
	End       int64
	Inclusive bool
}

// ExceptOnce removes the occurrences of its item that start inside
// [Start, End], or, when Inclusive, that overlap it.
type ExceptOnce struct {
	meta   Meta
	params ExceptOnceParams
}

// NewExceptOnce validates p and builds the rule
func NewExceptOnce(p ExceptOnceParams, meta Meta) (ExceptOnce, error) {
	if err := validateMeta(KindExceptOnce, meta); err != nil {
		return ExceptOnce{}, err
	}
	if p.End <= p.Start {
		return ExceptOnce{}, badRule(KindExceptOnce, "end %d not after start %d", p.End, p.Start)
	}
	return ExceptOnce{meta: meta, params: p}, nil
}

func (r ExceptOnce) Kind() Kind               { return KindExceptOnce }
func (r ExceptOnce) Meta() Meta               { return r.meta }
func (r ExceptOnce) Params() ExceptOnceParams { return r.params }
func (r ExceptOnce) Inclusive() bool          { return r.params.Inclusive }
func (r ExceptOnce) OverlapSpan() int64       { return r.params.End - r.params.Start }
func (ExceptOnce) sealed()                    {}

func (r ExceptOnce) scanner() scanner {
	span := occurrence.Occurrence{Start: r.params.Start, End: mo.Some(r.params.End), Alarm: mo.None[int64]()}
	return scanner{
		meta: r.meta,
		back: r.OverlapSpan(),
		seq: func(from int64) iter.Seq[occurrence.Occurrence] {
			return func(yield func(occurrence.Occurrence) bool) {
				if span.Start >= from {
					yield(span)
				}
			}
		},
	}
}

func (r ExceptOnce) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.scanner().rangeSeq(mint, maxt, offset)
}

func (r ExceptOnce) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.scanner().nextSeq(base, bound, offset)
}

// ExceptRegularlyParams describes an exception span repeating every Interval
// seconds
type ExceptRegularlyParams struct {
	RefStart  int64
	Interval  int64
	End       int64 // span length
	Inclusive bool
}

// ExceptRegularly applies the ExceptOnce matching once per period
type ExceptRegularly struct {
	meta   Meta
	params ExceptRegularlyParams
}

// NewExceptRegularly validates p and builds the rule
func NewExceptRegularly(p ExceptRegularlyParams, meta Meta) (ExceptRegularly, error) {
	const kind = KindExceptRegularly
	if err := validateMeta(kind, meta); err != nil {
		return ExceptRegularly{}, err
	}
	if p.Interval <= 0 {
		return ExceptRegularly{}, badRule(kind, "interval must be positive, got %d", p.Interval)
	}
	if p.End <= 0 {
		return ExceptRegularly{}, badRule(kind, "relative end must be positive, got %d", p.End)
	}
	return ExceptRegularly{meta: meta, params: p}, nil
}

func (r ExceptRegularly) Kind() Kind                    { return KindExceptRegularly }
func (r ExceptRegularly) Meta() Meta                    { return r.meta }
func (r ExceptRegularly) Params() ExceptRegularlyParams { return r.params }
func (r ExceptRegularly) Inclusive() bool               { return r.params.Inclusive }
func (r ExceptRegularly) OverlapSpan() int64            { return r.params.End }
func (ExceptRegularly) sealed()                         {}

func (r ExceptRegularly) relative() relative {
	return relative{End: mo.Some(r.params.End), Alarm: mo.None[int64]()}
}

func (r ExceptRegularly) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, periodic(r.params.RefStart, r.params.Interval, rel)).rangeSeq(mint, maxt, offset)
}

func (r ExceptRegularly) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	rel := r.relative()
	return rel.scanner(r.meta, periodic(r.params.RefStart, r.params.Interval, rel)).nextSeq(base, bound, offset)
}
