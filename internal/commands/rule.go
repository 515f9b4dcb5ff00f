package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/alarms/storage/sqlite"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/cyp0633/libremind/rules/rulexml"
	"github.com/samber/mo"
	"github.com/spf13/cobra"
)

// RuleOptions describes a rule set built from flags
type RuleOptions struct {
	At       string
	Every    string
	Duration string
	Alarm    string
	Skip     []string
	XML      string
}

// AddRuleArgs wires rule flags on cmd
func AddRuleArgs(cmd *cobra.Command, o *RuleOptions) {
	cmd.Flags().StringVar(&o.At, "at", "",
		"Start of the (first) occurrence.")
	cmd.Flags().StringVar(&o.Every, "every", "",
		"Repeat interval, such as 1d or 12h. The wall clock time is kept across DST changes.")
	cmd.Flags().StringVar(&o.Duration, "duration", "",
		"Length of each occurrence.")
	cmd.Flags().StringVar(&o.Alarm, "alarm", "",
		"Ring this long before each occurrence, 0 to ring at the start.")
	cmd.Flags().StringSliceVar(&o.Skip, "skip", nil,
		"Skip the occurrence starting at this time. Repeatable.")
	cmd.Flags().StringVar(&o.XML, "xml", "",
		"Read the rule set from an XML file instead, as printed by 'rule show'.")
}

// build turns the flags into a rule set
func (o *RuleOptions) build(loc *time.Location, now time.Time) (rules.RuleSet, error) {
	if o.XML != "" {
		data, err := os.ReadFile(o.XML)
		if err != nil {
			return nil, err
		}
		return rulexml.Decode(data)
	}
	if o.At == "" {
		return nil, errors.New("--at or --xml is required")
	}
	at, err := parseTime(o.At, loc, now)
	if err != nil {
		return nil, err
	}

	end := mo.None[int64]()
	if o.Duration != "" {
		d, err := parseDuration(o.Duration)
		if err != nil {
			return nil, err
		}
		end = mo.Some(int64(d / time.Second))
	}
	before := mo.None[int64]()
	if o.Alarm != "" {
		d, err := parseDuration(o.Alarm)
		if err != nil {
			return nil, err
		}
		before = mo.Some(int64(d / time.Second))
	}

	var set rules.RuleSet
	if o.Every == "" {
		start := at.Unix()
		p := rules.OnceParams{Start: start}
		if d, ok := end.Get(); ok {
			p.End = mo.Some(start + d)
		}
		if d, ok := before.Get(); ok {
			p.Alarm = mo.Some(start - d)
		}
		r, err := rules.NewOccurOnce(p, rules.Meta{Standard: rules.StandardLocal})
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	} else {
		every, err := parseDuration(o.Every)
		if err != nil {
			return nil, err
		}
		r, err := rules.NewOccurRegularly(rules.RegularlyParams{
			RefStart: wallClock(at),
			Interval: int64(every / time.Second),
			End:      end,
			Alarm:    before,
		}, rules.Meta{Standard: rules.StandardUTC})
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}

	for _, s := range o.Skip {
		t, err := parseTime(s, loc, now)
		if err != nil {
			return nil, err
		}
		r, err := rules.NewExceptOnce(rules.ExceptOnceParams{
			Start: t.Unix(),
			End:   t.Unix() + 1,
		}, rules.Meta{Standard: rules.StandardLocal})
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

// wallClock encodes the wall clock reading of t as if it were UTC
func wallClock(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

func addRule(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage reminder items and their rules.",
	}
	addRuleAdd(cmd, a)
	addRuleSet(cmd, a)
	addRuleList(cmd, a)
	addRuleShow(cmd, a)
	addRuleRemove(cmd, a)
	topLevel.AddCommand(cmd)
}

func addRuleAdd(parent *cobra.Command, a *app) {
	ro := &RuleOptions{}

	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Add an item.",
		Example: `
remindctl rule add Dentist --at "2024-01-05 09:00" --duration 1h --alarm 15m
remindctl rule add Standup --at "2024-01-08 09:30" --every 1d --alarm 0 --skip "2024-01-10 09:30"
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				set, err := ro.build(a.loc, a.now())
				if err != nil {
					return err
				}
				var key occurrence.ItemKey
				err = a.locked(ctx, func() (err error) {
					key, err = a.store.AddItem(ctx, a.calendar, args[0], set)
					return err
				})
				if err != nil {
					return err
				}
				if err := a.notify(ctx, alarms.ItemInserted, key.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", green.Sprint(key))
				return nil
			})
		},
	}
	AddRuleArgs(cmd, ro)
	parent.AddCommand(cmd)
}

func addRuleSet(parent *cobra.Command, a *app) {
	ro := &RuleOptions{}

	cmd := &cobra.Command{
		Use:   "set ID",
		Short: "Replace the rules of an item.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				set, err := ro.build(a.loc, a.now())
				if err != nil {
					return err
				}
				err = a.locked(ctx, func() error {
					return a.store.PutRules(ctx, a.item(id), set)
				})
				if err != nil {
					return err
				}
				return a.notify(ctx, alarms.RuleEdited, id)
			})
		},
	}
	AddRuleArgs(cmd, ro)
	parent.AddCommand(cmd)
}

func addRuleList(parent *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the items of the calendar.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				var items []sqlite.Item
				err := a.locked(ctx, func() (err error) {
					items, err = a.store.Items(ctx, a.calendar)
					return err
				})
				if err != nil {
					return err
				}
				tbl := newTable("ID", "Title", "Rules")
				for _, it := range items {
					tbl.AddRow(it.Key.ID, it.Title, describeRules(it.Rules))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
				return nil
			})
		},
	}
	parent.AddCommand(cmd)
}

func addRuleShow(parent *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print the rules of an item as XML.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				var set rules.RuleSet
				err := a.locked(ctx, func() (err error) {
					set, err = a.store.Rules(ctx, a.item(id))
					return err
				})
				if err != nil {
					return err
				}
				doc, err := rulexml.Encode(set)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			})
		},
	}
	parent.AddCommand(cmd)
}

func addRuleRemove(parent *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"remove"},
		Short:   "Remove an item and its active alarms.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				key := a.item(id)
				err := a.locked(ctx, func() error {
					return a.store.DeleteItem(ctx, key)
				})
				if err != nil {
					return err
				}
				removed, err := a.scheduler.ItemDeleted(ctx, key)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s and %d active alarm(s)\n", key, len(removed))
				return nil
			})
		},
	}
	parent.AddCommand(cmd)
}
