package rules

import (
	"iter"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/samber/mo"
)

// OnceParams describes a single occurrence with absolute instants
type OnceParams struct {
	Start int64
	End   mo.Option[int64]
	Alarm mo.Option[int64]
}

// OccurOnce occurs exactly once
type OccurOnce struct {
	meta   Meta
	params OnceParams
}

// NewOccurOnce validates p and builds the rule
func NewOccurOnce(p OnceParams, meta Meta) (OccurOnce, error) {
	if err := validateMeta(KindOccurOnce, meta); err != nil {
		return OccurOnce{}, err
	}
	if end, ok := p.End.Get(); ok && end <= p.Start {
		return OccurOnce{}, badRule(KindOccurOnce, "end %d not after start %d", end, p.Start)
	}
	return OccurOnce{meta: meta, params: p}, nil
}

func (r OccurOnce) Kind() Kind         { return KindOccurOnce }
func (r OccurOnce) Meta() Meta         { return r.meta }
func (r OccurOnce) Params() OnceParams { return r.params }
func (OccurOnce) sealed()              {}

func (r OccurOnce) OverlapSpan() int64 {
	span := int64(0)
	if end, ok := r.params.End.Get(); ok {
		span = max(span, end-r.params.Start)
	}
	if alarm, ok := r.params.Alarm.Get(); ok {
		span = max(span, alarm-r.params.Start)
	}
	return span
}

func (r OccurOnce) scanner() scanner {
	lead := int64(0)
	if alarm, ok := r.params.Alarm.Get(); ok {
		lead = max(lead, r.params.Start-alarm)
	}
	return scanner{
		meta: r.meta,
		back: r.OverlapSpan(),
		lead: lead,
		seq: func(from int64) iter.Seq[occurrence.Occurrence] {
			return func(yield func(occurrence.Occurrence) bool) {
				if r.params.Start >= from {
					yield(occurrence.Occurrence{Start: r.params.Start, End: r.params.End, Alarm: r.params.Alarm})
				}
			}
		},
	}
}

func (r OccurOnce) Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.scanner().rangeSeq(mint, maxt, offset)
}

func (r OccurOnce) NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence] {
	return r.scanner().nextSeq(base, bound, offset)
}
