package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime reads an instant in loc. "now" is accepted.
func parseTime(s string, loc *time.Location, now time.Time) (time.Time, error) {
	if s == "" || strings.EqualFold(s, "now") {
		return now.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// parseDuration extends time.ParseDuration with a day suffix, as in "2d"
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("cannot parse duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration %q", s)
	}
	return d, nil
}

// WindowOptions selects a time window
type WindowOptions struct {
	From string
	Days int
}

// AddWindowArgs wires window flags on cmd
func AddWindowArgs(cmd *cobra.Command, o *WindowOptions) {
	cmd.Flags().StringVar(&o.From, "from", "now",
		"Start of the window.")
	cmd.Flags().IntVar(&o.Days, "days", 0,
		"Length of the window in days. Defaults to the configured range.")
}

func (o *WindowOptions) bounds(a *app) (mint, maxt int64, err error) {
	from, err := parseTime(o.From, a.loc, a.now())
	if err != nil {
		return 0, 0, err
	}
	window := a.cfg.RangeWindow()
	if o.Days > 0 {
		window = time.Duration(o.Days) * 24 * time.Hour
	}
	return from.Unix(), from.Add(window).Unix() - 1, nil
}
