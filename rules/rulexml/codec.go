// Package rulexml stores rule sets as XML documents. Decoding goes through
// the rule constructors, so a stored document that no longer validates is
// rejected with rules.ErrBadRule.
package rulexml

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
)

// Namespace is the XML namespace of rule documents
const Namespace = "urn:libremind:rules"

// Tag names used in rule documents
const (
	TagRules     = "rules"
	TagRule      = "rule"
	TagGUI       = "gui"
	TagStart     = "start"
	TagEnd       = "end"
	TagAlarm     = "alarm"
	TagRefStart  = "refstart"
	TagInterval  = "interval"
	TagMonth     = "month"
	TagDay       = "day"
	TagWeekday   = "weekday"
	TagNumber    = "number"
	TagHour      = "hour"
	TagMinute    = "minute"
	TagRefYear   = "refyear"
	TagDate      = "date"
	TagInclusive = "inclusive"

	attrKind     = "kind"
	attrStandard = "standard"
)

// ErrMalformed is returned when a document cannot be read as a rule set
var ErrMalformed = errors.New("malformed rule document")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Encode serializes a rule set, keeping the rule order.
func Encode(set rules.RuleSet) ([]byte, error) {
	doc := ToXML(set)
	doc.Indent(2)
	return doc.WriteToBytes()
}

// ToXML builds the document for set
func ToXML(set rules.RuleSet) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(TagRules)
	root.CreateAttr("xmlns", Namespace)
	for _, r := range set {
		root.AddChild(RuleElement(r))
	}
	return doc
}

// RuleElement converts one rule to its <rule> element
func RuleElement(r rules.Rule) *etree.Element {
	el := etree.NewElement(TagRule)
	el.CreateAttr(attrKind, r.Kind().String())
	el.CreateAttr(attrStandard, r.Meta().Standard.String())
	if gui := r.Meta().GUIConfig; gui != "" {
		el.CreateElement(TagGUI).SetText(gui)
	}

	switch v := r.(type) {
	case rules.OccurOnce:
		p := v.Params()
		setInt(el, TagStart, p.Start)
		setOptional(el, TagEnd, p.End)
		setOptional(el, TagAlarm, p.Alarm)
	case rules.OccurRegularly:
		p := v.Params()
		setInt(el, TagRefStart, p.RefStart)
		setInt(el, TagInterval, p.Interval)
		setOptional(el, TagEnd, p.End)
		setOptional(el, TagAlarm, p.Alarm)
	case rules.OccurRegularlyGroup:
		p := v.Params()
		for _, ref := range p.RefStarts {
			setInt(el, TagRefStart, ref)
		}
		setInt(el, TagInterval, p.Interval)
		setOptional(el, TagEnd, p.End)
		setOptional(el, TagAlarm, p.Alarm)
	case rules.OccurMonthlyNumberDirect:
		setMonthlyNumber(el, v.Params())
	case rules.OccurMonthlyNumberInverse:
		setMonthlyNumber(el, v.Params())
	case rules.OccurMonthlyWeekdayDirect:
		setMonthlyWeekday(el, v.Params())
	case rules.OccurMonthlyWeekdayInverse:
		setMonthlyWeekday(el, v.Params())
	case rules.OccurYearlySingle:
		p := v.Params()
		setInt(el, TagInterval, int64(p.Interval))
		setInt(el, TagRefYear, int64(p.RefYear))
		setInt(el, TagMonth, int64(p.Month))
		setInt(el, TagDay, int64(p.Day))
		setInt(el, TagHour, int64(p.Hour))
		setInt(el, TagMinute, int64(p.Minute))
		setOptional(el, TagEnd, p.End)
		setOptional(el, TagAlarm, p.Alarm)
	case rules.OccurYearlyGroup:
		p := v.Params()
		for _, d := range p.Dates {
			date := el.CreateElement(TagDate)
			date.CreateAttr(TagMonth, strconv.Itoa(d.Month))
			date.CreateAttr(TagDay, strconv.Itoa(d.Day))
			date.CreateAttr(TagHour, strconv.Itoa(d.Hour))
			date.CreateAttr(TagMinute, strconv.Itoa(d.Minute))
		}
		setOptional(el, TagEnd, p.End)
		setOptional(el, TagAlarm, p.Alarm)
	case rules.ExceptOnce:
		p := v.Params()
		setInt(el, TagStart, p.Start)
		setInt(el, TagEnd, p.End)
		setBool(el, TagInclusive, p.Inclusive)
	case rules.ExceptRegularly:
		p := v.Params()
		setInt(el, TagRefStart, p.RefStart)
		setInt(el, TagInterval, p.Interval)
		setInt(el, TagEnd, p.End)
		setBool(el, TagInclusive, p.Inclusive)
	}
	return el
}

func setMonthlyNumber(el *etree.Element, p rules.MonthlyNumberParams) {
	setMonths(el, p.Months)
	setInt(el, TagDay, int64(p.Day))
	setInt(el, TagHour, int64(p.Hour))
	setInt(el, TagMinute, int64(p.Minute))
	setOptional(el, TagEnd, p.End)
	setOptional(el, TagAlarm, p.Alarm)
}

func setMonthlyWeekday(el *etree.Element, p rules.MonthlyWeekdayParams) {
	setMonths(el, p.Months)
	setInt(el, TagWeekday, int64(p.Weekday))
	setInt(el, TagNumber, int64(p.Number))
	setInt(el, TagHour, int64(p.Hour))
	setInt(el, TagMinute, int64(p.Minute))
	setOptional(el, TagEnd, p.End)
	setOptional(el, TagAlarm, p.Alarm)
}

func setMonths(el *etree.Element, months []int) {
	for _, m := range months {
		setInt(el, TagMonth, int64(m))
	}
}

func setInt(el *etree.Element, tag string, v int64) {
	el.CreateElement(tag).SetText(strconv.FormatInt(v, 10))
}

func setOptional(el *etree.Element, tag string, v mo.Option[int64]) {
	if value, ok := v.Get(); ok {
		setInt(el, tag, value)
	}
}

func setBool(el *etree.Element, tag string, v bool) {
	if v {
		el.CreateElement(tag).SetText("true")
	}
}

// Decode parses a document produced by Encode.
func Decode(data []byte) (rules.RuleSet, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, malformed("%v", err)
	}
	return FromXML(doc)
}

// FromXML reads the rule set held by doc
func FromXML(doc *etree.Document) (rules.RuleSet, error) {
	if doc == nil || doc.Root() == nil {
		return nil, malformed("empty document")
	}
	root := doc.Root()
	if root.Tag != TagRules {
		return nil, malformed("invalid root tag: %s", root.Tag)
	}

	var set rules.RuleSet
	for i, el := range root.SelectElements(TagRule) {
		r, err := ParseRule(el)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		set = append(set, r)
	}
	return set, nil
}

// ParseRule converts a <rule> element back into a validated rule
func ParseRule(el *etree.Element) (rules.Rule, error) {
	kind, err := rules.ParseKind(el.SelectAttrValue(attrKind, ""))
	if err != nil {
		return nil, malformed("%v", err)
	}
	standard, err := rules.ParseStandard(el.SelectAttrValue(attrStandard, rules.StandardLocal.String()))
	if err != nil {
		return nil, malformed("%v", err)
	}
	meta := rules.Meta{Standard: standard}
	if gui := el.SelectElement(TagGUI); gui != nil {
		meta.GUIConfig = gui.Text()
	}

	r := reader{el: el}
	switch kind {
	case rules.KindOccurOnce:
		p := rules.OnceParams{Start: r.int(TagStart), End: r.optional(TagEnd), Alarm: r.optional(TagAlarm)}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewOccurOnce(p, meta))
	case rules.KindOccurRegularly:
		p := rules.RegularlyParams{
			RefStart: r.int(TagRefStart),
			Interval: r.int(TagInterval),
			End:      r.optional(TagEnd),
			Alarm:    r.optional(TagAlarm),
		}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewOccurRegularly(p, meta))
	case rules.KindOccurRegularlyGroup:
		p := rules.RegularlyGroupParams{
			RefStarts: r.ints(TagRefStart),
			Interval:  r.int(TagInterval),
			End:       r.optional(TagEnd),
			Alarm:     r.optional(TagAlarm),
		}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewOccurRegularlyGroup(p, meta))
	case rules.KindOccurMonthlyNumberDirect, rules.KindOccurMonthlyNumberInverse:
		p := rules.MonthlyNumberParams{
			Months: r.smallInts(TagMonth),
			Day:    r.small(TagDay),
			Hour:   r.small(TagHour),
			Minute: r.small(TagMinute),
			End:    r.optional(TagEnd),
			Alarm:  r.optional(TagAlarm),
		}
		if r.err != nil {
			return nil, r.err
		}
		if kind == rules.KindOccurMonthlyNumberInverse {
			return built(rules.NewOccurMonthlyNumberInverse(p, meta))
		}
		return built(rules.NewOccurMonthlyNumberDirect(p, meta))
	case rules.KindOccurMonthlyWeekdayDirect, rules.KindOccurMonthlyWeekdayInverse:
		p := rules.MonthlyWeekdayParams{
			Months:  r.smallInts(TagMonth),
			Weekday: r.small(TagWeekday),
			Number:  r.small(TagNumber),
			Hour:    r.small(TagHour),
			Minute:  r.small(TagMinute),
			End:     r.optional(TagEnd),
			Alarm:   r.optional(TagAlarm),
		}
		if r.err != nil {
			return nil, r.err
		}
		if kind == rules.KindOccurMonthlyWeekdayInverse {
			return built(rules.NewOccurMonthlyWeekdayInverse(p, meta))
		}
		return built(rules.NewOccurMonthlyWeekdayDirect(p, meta))
	case rules.KindOccurYearlySingle:
		p := rules.YearlySingleParams{
			Interval: r.small(TagInterval),
			RefYear:  r.small(TagRefYear),
			Month:    r.small(TagMonth),
			Day:      r.small(TagDay),
			Hour:     r.small(TagHour),
			Minute:   r.small(TagMinute),
			End:      r.optional(TagEnd),
			Alarm:    r.optional(TagAlarm),
		}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewOccurYearlySingle(p, meta))
	case rules.KindOccurYearlyGroup:
		p := rules.YearlyGroupParams{End: r.optional(TagEnd), Alarm: r.optional(TagAlarm)}
		for _, date := range el.SelectElements(TagDate) {
			p.Dates = append(p.Dates, rules.YearlyDate{
				Month:  r.attr(date, TagMonth),
				Day:    r.attr(date, TagDay),
				Hour:   r.attr(date, TagHour),
				Minute: r.attr(date, TagMinute),
			})
		}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewOccurYearlyGroup(p, meta))
	case rules.KindExceptOnce:
		p := rules.ExceptOnceParams{Start: r.int(TagStart), End: r.int(TagEnd), Inclusive: r.bool(TagInclusive)}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewExceptOnce(p, meta))
	case rules.KindExceptRegularly:
		p := rules.ExceptRegularlyParams{
			RefStart:  r.int(TagRefStart),
			Interval:  r.int(TagInterval),
			End:       r.int(TagEnd),
			Inclusive: r.bool(TagInclusive),
		}
		if r.err != nil {
			return nil, r.err
		}
		return built(rules.NewExceptRegularly(p, meta))
	}
	return nil, malformed("unhandled rule kind %s", kind)
}

func built(r rules.Rule, err error) (rules.Rule, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// reader collects the first error met while reading fields of one element.
type reader struct {
	el  *etree.Element
	err error
}

func (r *reader) parse(tag, text string) int64 {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil && r.err == nil {
		r.err = malformed("<%s>: %v", tag, err)
	}
	return v
}

func (r *reader) int(tag string) int64 {
	child := r.el.SelectElement(tag)
	if child == nil {
		if r.err == nil {
			r.err = malformed("missing <%s>", tag)
		}
		return 0
	}
	return r.parse(tag, child.Text())
}

func (r *reader) small(tag string) int {
	return int(r.int(tag))
}

func (r *reader) optional(tag string) mo.Option[int64] {
	child := r.el.SelectElement(tag)
	if child == nil {
		return mo.None[int64]()
	}
	return mo.Some(r.parse(tag, child.Text()))
}

func (r *reader) ints(tag string) []int64 {
	var out []int64
	for _, child := range r.el.SelectElements(tag) {
		out = append(out, r.parse(tag, child.Text()))
	}
	return out
}

func (r *reader) smallInts(tag string) []int {
	var out []int
	for _, v := range r.ints(tag) {
		out = append(out, int(v))
	}
	return out
}

func (r *reader) attr(el *etree.Element, name string) int {
	return int(r.parse(name, el.SelectAttrValue(name, "0")))
}

func (r *reader) bool(tag string) bool {
	child := r.el.SelectElement(tag)
	if child == nil {
		return false
	}
	v, err := strconv.ParseBool(child.Text())
	if err != nil && r.err == nil {
		r.err = malformed("<%s>: %v", tag, err)
	}
	return v
}
