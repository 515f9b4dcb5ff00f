package icalbridge

import (
	"fmt"
	"io"
	"time"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/emersion/go-ical"
)

// ProductID identifies exported calendars
const ProductID = "-//libremind//remindctl//EN"

// ExportOptions controls Export
type ExportOptions struct {
	// Title names the event of an item; the item key is used when nil.
	Title func(occurrence.ItemKey) string
	// Stamp is written as DTSTAMP; the current time when zero.
	Stamp time.Time
}

// Calendar builds a calendar with one VEVENT per entry. Entries with an
// alarm get a DISPLAY VALARM triggered at the alarm instant.
func Calendar(entries []occurrence.Entry, opts ExportOptions) *ical.Calendar {
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	title := opts.Title
	if title == nil {
		title = func(k occurrence.ItemKey) string { return k.String() }
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, e := range entries {
		summary := title(e.Item)

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, EventUID(e))
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, time.Unix(e.Start, 0).UTC())
		if end, ok := e.End.Get(); ok {
			event.Props.SetDateTime(ical.PropDateTimeEnd, time.Unix(end, 0).UTC())
		}
		event.Props.SetText(ical.PropSummary, summary)

		if at, ok := e.Alarm.Get(); ok {
			alarm := ical.NewComponent(ical.CompAlarm)
			alarm.Props.SetText(ical.PropAction, "DISPLAY")
			alarm.Props.SetText(ical.PropDescription, summary)
			trigger := ical.NewProp(ical.PropTrigger)
			trigger.SetDateTime(time.Unix(at, 0).UTC())
			trigger.SetValueType(ical.ValueDateTime)
			alarm.Props.Set(trigger)
			event.Children = append(event.Children, alarm)
		}

		cal.Children = append(cal.Children, event.Component)
	}
	return cal
}

// Export writes entries to w as an iCalendar stream
func Export(w io.Writer, entries []occurrence.Entry, opts ExportOptions) error {
	if len(entries) == 0 {
		// the encoder refuses calendars without components
		_, err := io.WriteString(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:"+ProductID+"\r\nEND:VCALENDAR\r\n")
		return err
	}
	if err := ical.NewEncoder(w).Encode(Calendar(entries, opts)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// EventUID is stable for one occurrence of one item
func EventUID(e occurrence.Entry) string {
	return fmt.Sprintf("%s-%d-%d@libremind", e.Item.DB, e.Item.ID, e.Start)
}
