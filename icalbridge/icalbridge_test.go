package icalbridge

import (
	"bytes"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendar(events ...string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}
	for _, ev := range events {
		lines = append(lines, "BEGIN:VEVENT", "DTSTAMP:20240101T000000Z")
		lines = append(lines, strings.Split(ev, "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

func civil(y int, m time.Month, d, hh, mm int) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC).Unix()
}

func importOne(t *testing.T, loc *time.Location, event string) Item {
	t.Helper()
	items, err := Import(strings.NewReader(calendar(event)), loc)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestImport_Once(t *testing.T) {
	item := importOne(t, time.UTC, `UID:once
DTSTART:20240105T090000Z
DTEND:20240105T100000Z
SUMMARY:Dentist
BEGIN:VALARM
ACTION:DISPLAY
DESCRIPTION:Dentist
TRIGGER:-PT15M
END:VALARM`)

	assert.Equal(t, "once", item.UID)
	assert.Equal(t, "Dentist", item.Summary)
	require.Len(t, item.Rules, 1)
	once, ok := item.Rules[0].(rules.OccurOnce)
	require.True(t, ok)
	start := civil(2024, time.January, 5, 9, 0)
	assert.Equal(t, rules.OnceParams{
		Start: start,
		End:   mo.Some(start + 3600),
		Alarm: mo.Some(start - 900),
	}, once.Params())
	assert.Equal(t, rules.StandardLocal, once.Meta().Standard)
}

func TestImport_Recurring(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	t.Run("daily keeps the wall clock", func(t *testing.T) {
		item := importOne(t, ny, `UID:daily
DTSTART;TZID=America/New_York:20240105T090000
RRULE:FREQ=DAILY`)
		require.Len(t, item.Rules, 1)
		r, ok := item.Rules[0].(rules.OccurRegularly)
		require.True(t, ok)
		assert.Equal(t, civil(2024, time.January, 5, 9, 0), r.Params().RefStart)
		assert.Equal(t, int64(86400), r.Params().Interval)
		assert.Equal(t, rules.StandardUTC, r.Meta().Standard)

		offset := rules.LocationOffset(ny)
		var winter, summer []int64
		for o := range r.Range(civil(2024, time.January, 10, 0, 0), civil(2024, time.January, 10, 23, 0), offset) {
			winter = append(winter, o.Start)
		}
		for o := range r.Range(civil(2024, time.July, 10, 0, 0), civil(2024, time.July, 10, 23, 0), offset) {
			summer = append(summer, o.Start)
		}
		assert.Equal(t, []int64{civil(2024, time.January, 10, 14, 0)}, winter)
		assert.Equal(t, []int64{civil(2024, time.July, 10, 13, 0)}, summer)
	})

	t.Run("weekly by day", func(t *testing.T) {
		item := importOne(t, ny, `UID:weekly
DTSTART;TZID=America/New_York:20240103T080000
DTEND;TZID=America/New_York:20240103T083000
RRULE:FREQ=WEEKLY;BYDAY=MO,WE`)
		r, ok := item.Rules[0].(rules.OccurRegularlyGroup)
		require.True(t, ok)
		p := r.Params()
		assert.Equal(t, []int64{civil(2024, time.January, 1, 8, 0), civil(2024, time.January, 3, 8, 0)}, p.RefStarts)
		assert.Equal(t, int64(7*86400), p.Interval)
		assert.Equal(t, mo.Some[int64](1800), p.End)
	})

	t.Run("second tuesday", func(t *testing.T) {
		item := importOne(t, ny, `UID:tuesday
DTSTART;TZID=America/New_York:20240109T100000
RRULE:FREQ=MONTHLY;BYDAY=2TU`)
		r, ok := item.Rules[0].(rules.OccurMonthlyWeekdayDirect)
		require.True(t, ok)
		p := r.Params()
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, p.Months)
		assert.Equal(t, 1, p.Weekday)
		assert.Equal(t, 2, p.Number)
		assert.Equal(t, 10, p.Hour)
	})

	t.Run("last friday", func(t *testing.T) {
		item := importOne(t, ny, `UID:friday
DTSTART;TZID=America/New_York:20240126T170000
RRULE:FREQ=MONTHLY;BYDAY=-1FR`)
		r, ok := item.Rules[0].(rules.OccurMonthlyWeekdayInverse)
		require.True(t, ok)
		assert.Equal(t, 4, r.Params().Weekday)
		assert.Equal(t, 1, r.Params().Number)
	})

	t.Run("last day of month", func(t *testing.T) {
		item := importOne(t, ny, `UID:eom
DTSTART;TZID=America/New_York:20240131T120000
RRULE:FREQ=MONTHLY;BYMONTHDAY=-1`)
		r, ok := item.Rules[0].(rules.OccurMonthlyNumberInverse)
		require.True(t, ok)
		assert.Equal(t, 1, r.Params().Day)
	})

	t.Run("quarterly", func(t *testing.T) {
		item := importOne(t, ny, `UID:quarterly
DTSTART;TZID=America/New_York:20240215T093000
RRULE:FREQ=MONTHLY;INTERVAL=3`)
		r, ok := item.Rules[0].(rules.OccurMonthlyNumberDirect)
		require.True(t, ok)
		p := r.Params()
		assert.Equal(t, []int{2, 5, 8, 11}, p.Months)
		assert.Equal(t, 15, p.Day)
		assert.Equal(t, 9, p.Hour)
		assert.Equal(t, 30, p.Minute)
	})

	t.Run("yearly on a leap day", func(t *testing.T) {
		item := importOne(t, ny, `UID:leap
DTSTART;TZID=America/New_York:20240229T080000
RRULE:FREQ=YEARLY`)
		r, ok := item.Rules[0].(rules.OccurYearlySingle)
		require.True(t, ok)
		p := r.Params()
		assert.Equal(t, 1, p.Interval)
		assert.Equal(t, 2024, p.RefYear)
		assert.Equal(t, 2, p.Month)
		assert.Equal(t, 29, p.Day)
	})

	t.Run("count expands", func(t *testing.T) {
		item := importOne(t, ny, `UID:count
DTSTART:20240105T090000Z
RRULE:FREQ=DAILY;COUNT=3`)
		require.Len(t, item.Rules, 3)
		for i, r := range item.Rules {
			once, ok := r.(rules.OccurOnce)
			require.True(t, ok)
			assert.Equal(t, civil(2024, time.January, 5+i, 9, 0), once.Params().Start)
		}
	})

	t.Run("exdate", func(t *testing.T) {
		item := importOne(t, ny, `UID:exdate
DTSTART;TZID=America/New_York:20240105T090000
RRULE:FREQ=DAILY
EXDATE;TZID=America/New_York:20240106T090000`)
		require.Len(t, item.Rules, 2)
		x, ok := item.Rules[1].(rules.ExceptOnce)
		require.True(t, ok)
		assert.Equal(t, civil(2024, time.January, 6, 14, 0), x.Params().Start)
	})
}

func TestImport_Unsupported(t *testing.T) {
	data := calendar(
		"UID:weekno\nDTSTART:20240105T090000Z\nRRULE:FREQ=YEARLY;BYWEEKNO=1",
		"UID:ok\nDTSTART:20240105T090000Z",
	)
	items, err := Import(strings.NewReader(data), time.UTC)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "weekno")
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].UID)
}

func TestExport(t *testing.T) {
	start := civil(2024, time.January, 5, 9, 0)
	entries := []occurrence.Entry{
		{
			Item: occurrence.ItemKey{DB: "db", ID: 1},
			Occurrence: occurrence.Occurrence{
				Start: start,
				End:   mo.Some(start + 3600),
				Alarm: mo.Some(start - 900),
			},
		},
		{
			Item:       occurrence.ItemKey{DB: "db", ID: 2},
			Rule:       1,
			Occurrence: occurrence.Occurrence{Start: start + 86400, End: mo.None[int64](), Alarm: mo.None[int64]()},
		},
	}

	var buf bytes.Buffer
	err := Export(&buf, entries, ExportOptions{
		Title: func(k occurrence.ItemKey) string { return map[int64]string{1: "Dentist", 2: "Gym"}[k.ID] },
		Stamp: time.Unix(start, 0),
	})
	require.NoError(t, err)

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	uid, err := events[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, EventUID(entries[0]), uid)
	require.Len(t, events[0].Children, 1)
	trigger := events[0].Children[0].Props.Get(ical.PropTrigger)
	require.NotNil(t, trigger)
	assert.Equal(t, "20240105T084500Z", trigger.Value)
	assert.Equal(t, ical.ValueDateTime, trigger.ValueType())
	assert.Empty(t, events[1].Children)

	// exported occurrences import back as single occurrences
	buf.Reset()
	require.NoError(t, Export(&buf, entries[:1], ExportOptions{}))
	items, err := Import(&buf, time.UTC)
	require.NoError(t, err)
	require.Len(t, items, 1)
	once, ok := items[0].Rules[0].(rules.OccurOnce)
	require.True(t, ok)
	assert.Equal(t, rules.OnceParams{
		Start: start,
		End:   mo.Some(start + 3600),
		Alarm: mo.Some(start - 900),
	}, once.Params())
	assert.Equal(t, "db:1", items[0].Summary)
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, nil, ExportOptions{}))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(buf.String(), "END:VCALENDAR\r\n"))
	assert.NotContains(t, buf.String(), "BEGIN:VEVENT")
}
