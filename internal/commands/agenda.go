package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/icalbridge"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/spf13/cobra"
)

func entryKeys(entries []occurrence.Entry) []occurrence.ItemKey {
	keys := make([]occurrence.ItemKey, len(entries))
	for i, e := range entries {
		keys[i] = e.Item
	}
	return keys
}

func addRange(topLevel *cobra.Command, a *app) {
	wo := &WindowOptions{}

	cmd := &cobra.Command{
		Use:   "range",
		Short: "List occurrences and active alarms in a window.",
		Example: `
remindctl range
remindctl range --from 2024-01-01 --days 31
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				mint, maxt, err := wo.bounds(a)
				if err != nil {
					return err
				}
				entries, err := a.scheduler.Occurrences(ctx, mint, maxt)
				if err != nil {
					return err
				}
				titles, err := a.titles(ctx, entryKeys(entries)...)
				if err != nil {
					return err
				}
				a.printEntries(cmd.OutOrStdout(), entries, titles)
				return nil
			})
		},
	}
	AddWindowArgs(cmd, wo)
	topLevel.AddCommand(cmd)
}

func addNext(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Activate overdue alarms and show when the next one rings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				var activated []alarms.ActiveAlarm
				unsubscribe := a.scheduler.Subscribe(func(e alarms.Event) {
					if e.Kind == alarms.AlarmActivated || e.Kind == alarms.AlarmSnoozedOff {
						activated = append(activated, e.Alarm)
					}
				})
				defer unsubscribe()

				if err := a.scheduler.Search(ctx); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(activated) > 0 {
					keys := make([]occurrence.ItemKey, len(activated))
					for i, al := range activated {
						keys[i] = al.Item
					}
					titles, err := a.titles(ctx, keys...)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(out, yellow.Sprintf("%d alarm(s) ringing", len(activated)))
					a.printAlarms(out, activated, titles)
				}

				now := a.now().Unix()
				entries, err := a.scheduler.Occurrences(ctx, now, now+int64(a.cfg.RangeWindow()/time.Second))
				if err != nil {
					return err
				}
				for _, e := range entries {
					if at, ok := e.Alarm.Get(); ok && at > now {
						titles, err := a.titles(ctx, e.Item)
						if err != nil {
							return err
						}
						_, _ = fmt.Fprintf(out, "next alarm: %s  %s\n", green.Sprint(a.format(at)), titles[e.Item])
						return nil
					}
				}
				_, _ = fmt.Fprintf(out, "%s\n", faint.Sprintf("no alarms in the next %d days", a.cfg.RangeDays))
				return nil
			})
		},
	}
	topLevel.AddCommand(cmd)
}

func addExport(topLevel *cobra.Command, a *app) {
	wo := &WindowOptions{}
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the occurrences of a window as iCalendar.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) (err error) {
				mint, maxt, err := wo.bounds(a)
				if err != nil {
					return err
				}
				entries, err := a.scheduler.Occurrences(ctx, mint, maxt)
				if err != nil {
					return err
				}
				titles, err := a.titles(ctx, entryKeys(entries)...)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, cerr := os.Create(output)
					if cerr != nil {
						return cerr
					}
					defer func() { err = errors.Join(err, f.Close()) }()
					w = f
				}
				return icalbridge.Export(w, entries, icalbridge.ExportOptions{
					Title: func(k occurrence.ItemKey) string {
						if t := titles[k]; t != "" {
							return t
						}
						return k.String()
					},
					Stamp: a.now(),
				})
			})
		},
	}
	AddWindowArgs(cmd, wo)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "File to write, - for stdout.")
	topLevel.AddCommand(cmd)
}

func addImport(topLevel *cobra.Command, a *app) {
	var user, password string

	cmd := &cobra.Command{
		Use:   "import FILE|URL",
		Short: "Import the events of an iCalendar file as items.",
		Long: `Import the events of an iCalendar file as items.

Recurring events are converted to equivalent rules where possible; finite
recurrences are expanded. Events that cannot be represented are reported
and skipped. An http(s) URL is downloaded first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				if strings.HasPrefix(args[0], "http://") || strings.HasPrefix(args[0], "https://") {
					client := &http.Client{Timeout: 30 * time.Second}
					if user != "" {
						client.Transport = &icalbridge.BasicAuthTransport{Username: user, Password: password}
					}
					items, err := icalbridge.NewFetcher(client, a.logger).Fetch(ctx, args[0], a.loc)
					return a.importItems(ctx, cmd.OutOrStdout(), items, err)
				}

				var r io.Reader = cmd.InOrStdin()
				if args[0] != "-" {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					r = f
				}
				items, err := icalbridge.Import(r, a.loc)
				return a.importItems(ctx, cmd.OutOrStdout(), items, err)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Basic auth username for URLs.")
	cmd.Flags().StringVar(&password, "password", "", "Basic auth password for URLs.")
	topLevel.AddCommand(cmd)
}

// importItems stores what Import or Fetch returned; importErr lists the
// skipped events
func (a *app) importItems(ctx context.Context, out io.Writer, items []icalbridge.Item, importErr error) error {
	if importErr != nil {
		a.logger.Warn("import incomplete", "error", importErr)
	}
	if len(items) == 0 {
		if importErr != nil {
			return importErr
		}
		_, _ = fmt.Fprintln(out, faint.Sprint("no events found"))
		return nil
	}

	err := a.locked(ctx, func() error {
		for _, it := range items {
			title := it.Summary
			if title == "" {
				title = it.UID
			}
			if _, err := a.store.AddItem(ctx, a.calendar, title, it.Rules); err != nil {
				return fmt.Errorf("import %s: %w", it.UID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.notify(ctx, alarms.ItemInserted, 0); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "imported %s into %s\n", green.Sprintf("%d item(s)", len(items)), a.calendar)
	return nil
}
