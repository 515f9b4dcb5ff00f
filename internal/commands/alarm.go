package commands

import (
	"context"
	"fmt"

	"github.com/cyp0633/libremind/alarms"
	"github.com/spf13/cobra"
)

func (a *app) refs(ids []string) []alarms.AlarmRef {
	refs := make([]alarms.AlarmRef, len(ids))
	for i, id := range ids {
		refs[i] = alarms.AlarmRef{DB: a.calendar, ID: id}
	}
	return refs
}

func addAlarms(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "List the active alarms of the calendar.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				var list []alarms.ActiveAlarm
				err := a.locked(ctx, func() (err error) {
					list, err = a.store.ListActive(ctx, a.calendar)
					return err
				})
				if err != nil {
					return err
				}
				titles, err := a.titles(ctx, a.item(0))
				if err != nil {
					return err
				}
				a.printAlarms(cmd.OutOrStdout(), list, titles)
				return nil
			})
		},
	}
	topLevel.AddCommand(cmd)
}

func addSnooze(topLevel *cobra.Command, a *app) {
	var delay string

	cmd := &cobra.Command{
		Use:   "snooze ID...",
		Short: "Snooze active alarms.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				d := a.cfg.SnoozeDelay()
				if delay != "" {
					var err error
					if d, err = parseDuration(delay); err != nil {
						return err
					}
				}
				at, err := a.scheduler.Snooze(ctx, a.refs(args), d)
				if at > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "snoozed until %s\n", green.Sprint(a.format(at)))
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&delay, "for", "",
		"Snooze delay. Defaults to the configured one.")
	topLevel.AddCommand(cmd)
}

func addDismiss(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "dismiss ID...",
		Short: "Dismiss active alarms.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.scheduler.Dismiss(ctx, a.refs(args))
			})
		},
	}
	topLevel.AddCommand(cmd)
}
