package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/spf13/cobra"
)

func addRun(topLevel *cobra.Command, a *app) {
	var rescan time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ring alarms as they come due until interrupted.",
		Long: `Ring alarms as they come due until interrupted.

The calendars are searched again every --rescan interval so that items
added by other remindctl invocations are picked up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return a.watch(ctx, cmd.OutOrStdout(), rescan)
			})
		},
	}
	cmd.Flags().DurationVar(&rescan, "rescan", time.Minute,
		"Interval between searches for changes made elsewhere.")
	topLevel.AddCommand(cmd)
}

// watcher prints alarms as they ring. Alarms activated elsewhere, for
// example by a one-shot command, are printed after the next search.
type watcher struct {
	a         *app
	out       io.Writer
	events    chan alarms.Event
	announced map[string]bool
}

func (a *app) newWatcher(out io.Writer) (*watcher, func()) {
	w := &watcher{
		a:         a,
		out:       out,
		events:    make(chan alarms.Event, 64),
		announced: make(map[string]bool),
	}
	unsubscribe := a.scheduler.Subscribe(func(e alarms.Event) {
		select {
		case w.events <- e:
		default:
			a.logger.Warn("event dropped", "kind", e.Kind.String())
		}
	})
	return w, unsubscribe
}

// settle searches, handles the events the search published and prints
// ringing alarms not printed yet.
func (w *watcher) settle(ctx context.Context) error {
	err := w.a.scheduler.Search(ctx)
	if errors.Is(err, alarms.ErrSearchStarved) {
		w.a.logger.Warn("search did not settle, retrying later", "error", err)
	} else if err != nil {
		return err
	}

drain:
	for {
		select {
		case e := <-w.events:
			if err := w.handle(ctx, e); err != nil {
				return err
			}
		default:
			break drain
		}
	}

	ringing, err := w.a.ringing(ctx)
	if err != nil {
		return err
	}
	for _, al := range ringing {
		if !w.announced[al.ID] {
			if err := w.ring(ctx, al); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *watcher) handle(ctx context.Context, e alarms.Event) error {
	switch e.Kind {
	case alarms.AlarmActivated:
		if w.announced[e.Alarm.ID] {
			return nil
		}
		return w.ring(ctx, e.Alarm)
	case alarms.AlarmSnoozedOff:
		return w.ring(ctx, e.Alarm)
	case alarms.AlarmDismissed:
		delete(w.announced, e.Alarm.ID)
		w.a.logger.Info("alarm dismissed", "id", e.Alarm.ID)
	case alarms.SearchCompleted:
		if at, ok := e.Next.Get(); ok {
			w.a.logger.Debug("next alarm", "at", w.a.format(at))
		} else {
			w.a.logger.Debug("no upcoming alarms")
		}
	}
	return nil
}

func (w *watcher) ring(ctx context.Context, al alarms.ActiveAlarm) error {
	titles, err := w.a.titles(ctx, al.Item)
	if err != nil {
		return err
	}
	title := titles[al.Item]
	if title == "" {
		title = al.Item.String()
	}
	w.announced[al.ID] = true
	_, _ = fmt.Fprintf(w.out, "%s  %s  %s  %s\n",
		w.a.format(w.a.now().Unix()), yellow.Sprint("ALARM"), bold.Sprint(title), faint.Sprint(al.ID))
	return nil
}

// watch announces alarms until ctx is done
func (a *app) watch(ctx context.Context, out io.Writer, rescan time.Duration) error {
	w, unsubscribe := a.newWatcher(out)
	defer unsubscribe()

	if err := w.settle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-w.events:
			if err := w.handle(ctx, e); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.settle(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
