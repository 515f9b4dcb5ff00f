package rules

import "time"

// Civil-calendar arithmetic. Rules compute in a naive frame where civil
// fields are encoded as if they were UTC; see OffsetFunc for the mapping
// onto instants.

const (
	minute = 60
	hour   = 60 * minute
	day    = 24 * hour
)

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var monthDays = [13]int{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func daysIn(year, month int) int {
	if month == 2 && isLeap(year) {
		return 29
	}
	return monthDays[month]
}

// maxDaysIn is the length of month in its longest year.
func maxDaysIn(month int) int {
	return daysIn(2000, month)
}

// civilTime encodes a civil date and time. Dates that do not exist in year
// return errInvalidDate instead of being normalized.
func civilTime(year, month, dayOfMonth, hh, mm int) (int64, error) {
	if month < 1 || month > 12 || dayOfMonth < 1 || dayOfMonth > daysIn(year, month) {
		return 0, errInvalidDate
	}
	return time.Date(year, time.Month(month), dayOfMonth, hh, mm, 0, 0, time.UTC).Unix(), nil
}

// civilFields decodes a naive instant.
func civilFields(t int64) (year, month, dayOfMonth, hh, mm int) {
	ct := time.Unix(t, 0).UTC()
	return ct.Year(), int(ct.Month()), ct.Day(), ct.Hour(), ct.Minute()
}

// weekday returns 0 for Monday through 6 for Sunday.
func weekday(year, month, dayOfMonth int) int {
	wd := time.Date(year, time.Month(month), dayOfMonth, 0, 0, 0, 0, time.UTC).Weekday()
	return (int(wd) + 6) % 7
}

func nextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
