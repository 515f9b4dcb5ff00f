package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/samber/mo"
)

const displayLayout = "Mon 2006-01-02 15:04"

var (
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
)

func (a *app) format(t int64) string {
	return time.Unix(t, 0).In(a.loc).Format(displayLayout)
}

func (a *app) formatOption(t mo.Option[int64]) string {
	if v, ok := t.Get(); ok {
		return a.format(v)
	}
	return faint.Sprint("-")
}

func newTable(header ...any) *uitable.Table {
	tbl := uitable.New()
	tbl.Separator = "  "
	for i := range header {
		header[i] = bold.Sprint(header[i])
	}
	tbl.AddRow(header...)
	return tbl
}

func (a *app) printEntries(w io.Writer, entries []occurrence.Entry, titles map[occurrence.ItemKey]string) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, faint.Sprint("nothing scheduled"))
		return
	}
	tbl := newTable("Start", "End", "Alarm", "Item", "Title")
	for _, e := range entries {
		alarm := a.formatOption(e.Alarm)
		if e.Rule < 0 {
			alarm = yellow.Sprint(alarm)
		}
		tbl.AddRow(a.format(e.Start), a.formatOption(e.End), alarm, e.Item.String(), titles[e.Item])
	}
	_, _ = fmt.Fprintln(w, tbl)
}

func (a *app) printAlarms(w io.Writer, list []alarms.ActiveAlarm, titles map[occurrence.ItemKey]string) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(w, faint.Sprint("no active alarms"))
		return
	}
	tbl := newTable("ID", "Start", "Rings", "Title")
	for _, al := range list {
		rings := a.format(al.Trigger())
		if al.Snooze.IsPresent() {
			rings = yellow.Sprint(rings + " (snoozed)")
		}
		tbl.AddRow(al.ID, a.format(al.Start), rings, titles[al.Item])
	}
	_, _ = fmt.Fprintln(w, tbl)
}

func describeRules(set rules.RuleSet) string {
	if len(set) == 0 {
		return faint.Sprint("none")
	}
	kinds := make([]string, len(set))
	for i, r := range set {
		kinds[i] = r.Kind().String()
	}
	return strings.Join(kinds, ", ")
}
