package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/libremind/feed"
	"github.com/cyp0633/libremind/occurrence"
	"github.com/spf13/cobra"
)

func addServe(topLevel *cobra.Command, a *app) {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Publish open calendars as read-only iCalendar feeds.",
		Long: `Publish open calendars as read-only iCalendar feeds.

Each calendar is served at /{calendar}.ics. Basic authentication is
enforced when feed.username and feed.password are configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if addr == "" {
					addr = a.cfg.Feed.Addr
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "serving feeds on http://%s/%s.ics\n", ln.Addr(), a.calendar)
				return a.serve(ctx, ln)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "",
		"Listen address. Defaults to the configured one.")
	topLevel.AddCommand(cmd)
}

func (a *app) feedHandler() http.Handler {
	var h http.Handler = feed.NewHandler(a.scheduler,
		feed.WithLogger(a.logger),
		feed.WithClock(a.now),
		feed.WithWindow(
			time.Duration(a.cfg.Feed.PastDays)*24*time.Hour,
			time.Duration(a.cfg.Feed.AheadDays)*24*time.Hour,
		),
		feed.WithTitles(func(ctx context.Context, calendar string) (map[occurrence.ItemKey]string, error) {
			return a.titles(ctx, occurrence.ItemKey{DB: calendar})
		}),
	)
	if a.cfg.Feed.Username != "" && a.cfg.Feed.Password != "" {
		h = feed.Middleware(feed.StaticAuthenticator{
			Username: a.cfg.Feed.Username,
			Password: a.cfg.Feed.Password,
		}, "libremind")(h)
	}
	return h
}

// serve runs the feed server on ln until ctx is done
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.feedHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
