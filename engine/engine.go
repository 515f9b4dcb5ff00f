// Package engine drives rule evaluation over many items: range listings
// (positive rules first, then each item's exceptions) and the search for the
// globally nearest trigger instant.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/cyp0633/libremind/rules/rulexml"
)

// ErrRangeTooWide is returned for windows wider than Config.MaxRangeSpan
var ErrRangeTooWide = errors.New("range window too wide")

// ItemRules is the rule set of one item
type ItemRules struct {
	Key   occurrence.ItemKey
	Rules rules.RuleSet
}

// Engine evaluates rule sets. It is safe for concurrent use.
type Engine struct {
	offset rules.OffsetFunc
	logger *slog.Logger
	config Config
	cache  *RangeCache
}

// Option represents a configuration option for the Engine
type Option func(*Engine)

// WithOffset sets the offset function used by UTC-standard rules. Without
// it those rules are evaluated like local ones.
func WithOffset(offset rules.OffsetFunc) Option {
	return func(e *Engine) {
		e.offset = offset
	}
}

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig replaces DefaultConfig
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// New creates an engine
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: DefaultConfig,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.CacheEnabled {
		e.cache = NewRangeCache(e.config.CacheConfig)
	}
	return e
}

// Offset returns the offset function in use, possibly nil
func (e *Engine) Offset() rules.OffsetFunc {
	return e.offset
}

// Range lists the occurrences of items intersecting [mint, maxt], sorted by
// start.
func (e *Engine) Range(items []ItemRules, mint, maxt int64) ([]occurrence.Entry, error) {
	acc := occurrence.NewRangeAccumulator(mint, maxt)
	if err := e.RangeWith(acc, items); err != nil {
		return nil, err
	}
	return acc.Sorted(), nil
}

// RangeWith adds the occurrences of items to acc, which may already hold
// other entries. Exceptions of an item only remove occurrences produced by
// that item's own rules.
func (e *Engine) RangeWith(acc *occurrence.RangeAccumulator, items []ItemRules) error {
	mint, maxt := acc.Window()
	if span := e.config.MaxRangeSpan; span > 0 && maxt-mint > span {
		return fmt.Errorf("%w: %d seconds, limit %d", ErrRangeTooWide, maxt-mint, span)
	}

	for _, item := range items {
		for _, entry := range e.itemRange(item, mint, maxt) {
			acc.AddUnconditional(entry)
		}
	}
	return nil
}

func (e *Engine) itemRange(item ItemRules, mint, maxt int64) []occurrence.Entry {
	var key string
	if e.cache != nil {
		if fingerprint, err := rulexml.Encode(item.Rules); err == nil {
			key = cacheKey(item.Key, fingerprint, mint, maxt)
			if cached, ok := e.cache.Get(key); ok {
				return cached
			}
		} else {
			e.logger.Warn("cannot fingerprint rules, bypassing cache", "item", item.Key, "error", err)
		}
	}

	acc := occurrence.NewRangeAccumulator(mint, maxt)
	positive, exceptions := item.Rules.Split()
	for _, p := range positive {
		for o := range p.Rule.Range(mint, maxt, e.offset) {
			acc.Add(occurrence.Entry{Item: item.Key, Rule: p.Index, Occurrence: o})
		}
	}
	e.applyExceptions(item.Key, exceptions, acc.ItemBounds, acc.Except)

	result := acc.Sorted()
	e.logger.Debug("range evaluated", "item", item.Key, "mint", mint, "maxt", maxt, "count", len(result))
	if key != "" {
		e.cache.Set(key, result)
	}
	return result
}

// applyExceptions evaluates each exception over the span of the item's
// accumulated occurrences and hands every exception span to except.
func (e *Engine) applyExceptions(
	item occurrence.ItemKey,
	exceptions []rules.Indexed,
	bounds func(occurrence.ItemKey) (int64, int64, bool),
	except func(occurrence.ItemKey, int64, int64, bool),
) {
	for _, x := range exceptions {
		lo, hi, ok := bounds(item)
		if !ok {
			return
		}
		exception, isException := x.Rule.(rules.Exception)
		if !isException {
			continue
		}
		for span := range x.Rule.Range(lo, hi, e.offset) {
			except(item, span.Start, span.EndOrStart(), exception.Inclusive())
		}
	}
}

// Next feeds the pending occurrences of item into acc. Occurrences whose
// trigger instants are all at or before lastSearch are ignored. The
// accumulator's current best is used to stop each rule's scan early.
//
// An exception may empty the item's share of the tie set; the best instant
// is kept, so a timer armed for it finds nothing to activate and the next
// search moves past it.
func (e *Engine) Next(acc *occurrence.NearestAccumulator, item ItemRules, lastSearch int64) {
	positive, exceptions := item.Rules.Split()
	for _, p := range positive {
		for o := range p.Rule.NextAfter(lastSearch, acc.Bound, e.offset) {
			acc.Consider(lastSearch, occurrence.Entry{Item: item.Key, Rule: p.Index, Occurrence: o})
		}
	}
	e.applyExceptions(item.Key, exceptions, acc.ItemBounds, acc.Except)
}

// NextAll runs Next for every item against the same watermark.
func (e *Engine) NextAll(items []ItemRules, lastSearch int64) *occurrence.NearestAccumulator {
	acc := occurrence.NewNearestAccumulator()
	for _, item := range items {
		e.Next(acc, item, lastSearch)
	}
	return acc
}

// CacheStats reports range cache statistics; zero when caching is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// Close releases the range cache
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}
