package rules

import (
	"fmt"
	"iter"

	"github.com/cyp0633/libremind/occurrence"
)

// Kind names a rule variant
type Kind int

const (
	KindOccurOnce Kind = iota
	KindOccurRegularly
	KindOccurRegularlyGroup
	KindOccurMonthlyNumberDirect
	KindOccurMonthlyNumberInverse
	KindOccurMonthlyWeekdayDirect
	KindOccurMonthlyWeekdayInverse
	KindOccurYearlySingle
	KindOccurYearlyGroup
	KindExceptOnce
	KindExceptRegularly
)

var kindNames = map[Kind]string{
	KindOccurOnce:                  "occur_once",
	KindOccurRegularly:             "occur_regularly",
	KindOccurRegularlyGroup:        "occur_regularly_group",
	KindOccurMonthlyNumberDirect:   "occur_monthly_number_direct",
	KindOccurMonthlyNumberInverse:  "occur_monthly_number_inverse",
	KindOccurMonthlyWeekdayDirect:  "occur_monthly_weekday_direct",
	KindOccurMonthlyWeekdayInverse: "occur_monthly_weekday_inverse",
	KindOccurYearlySingle:          "occur_yearly_single",
	KindOccurYearlyGroup:           "occur_yearly_group",
	KindExceptOnce:                 "except_once",
	KindExceptRegularly:            "except_regularly",
}

// String returns the stable name used when rules are persisted.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown rule kind %q", name)
}

// Standard selects how a rule's civil-time arithmetic maps onto instants.
type Standard int

const (
	// StandardLocal rules use their civil arithmetic as is.
	StandardLocal Standard = iota
	// StandardUTC rules reproject every produced instant by the UTC offset
	// in force at that instant.
	StandardUTC
)

func (s Standard) String() string {
	switch s {
	case StandardLocal:
		return "local"
	case StandardUTC:
		return "UTC"
	default:
		return fmt.Sprintf("Standard(%d)", int(s))
	}
}

// ParseStandard is the inverse of Standard.String
func ParseStandard(name string) (Standard, error) {
	switch name {
	case "local":
		return StandardLocal, nil
	case "UTC":
		return StandardUTC, nil
	}
	return 0, fmt.Errorf("unknown time standard %q", name)
}

// Meta holds the attributes shared by every rule.
type Meta struct {
	Standard Standard
	// GUIConfig is opaque presentation data. It is never interpreted, only
	// preserved verbatim.
	GUIConfig string
}

// Bound returns the current pruning bound of a next-occurrence search, if
// one is known. A nil Bound means no bound.
type Bound func() (int64, bool)

// Rule is one temporal rule attached to an item. The set of implementations
// is closed: every variant lives in this package and is built by its New…
// constructor, which validates the parameters.
type Rule interface {
	Kind() Kind
	Meta() Meta

	// OverlapSpan is the largest distance between an occurrence's start and
	// the latest of its end and late alarm.
	OverlapSpan() int64

	// Range yields every occurrence whose span or alarm intersects
	// [mint, maxt].
	Range(mint, maxt int64, offset OffsetFunc) iter.Seq[occurrence.Occurrence]

	// NextAfter yields, in ascending start order, the occurrences having at
	// least one trigger instant after base. It stops by itself once an
	// occurrence lies beyond the current bound.
	NextAfter(base int64, bound Bound, offset OffsetFunc) iter.Seq[occurrence.Occurrence]

	sealed()
}

// Exception is a subtractive rule: the occurrences it yields are spans that
// remove matching occurrences of the same item.
type Exception interface {
	Rule
	Inclusive() bool
}

// RuleSet is the ordered list of rules attached to one item
type RuleSet []Rule

// Split separates positive rules from exceptions, keeping each rule's index
// in the set.
func (rs RuleSet) Split() (positive []Indexed, exceptions []Indexed) {
	for i, r := range rs {
		if _, ok := r.(Exception); ok {
			exceptions = append(exceptions, Indexed{Index: i, Rule: r})
		} else {
			positive = append(positive, Indexed{Index: i, Rule: r})
		}
	}
	return positive, exceptions
}

// Indexed pairs a rule with its position in its RuleSet
type Indexed struct {
	Index int
	Rule  Rule
}
