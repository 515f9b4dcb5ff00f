// Package feed publishes the occurrences of open calendars as read-only
// iCalendar feeds over HTTP, one feed per calendar at /{calendar}.ics.
package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/libremind/alarms"
	"github.com/cyp0633/libremind/icalbridge"
	"github.com/cyp0633/libremind/occurrence"
)

// Source lists occurrences; *alarms.Scheduler implements it
type Source interface {
	Occurrences(ctx context.Context, mint, maxt int64) ([]occurrence.Entry, error)
}

// TitleFunc resolves the titles of the items of a calendar
type TitleFunc func(ctx context.Context, calendar string) (map[occurrence.ItemKey]string, error)

// Handler serves GET /{calendar}.ics
type Handler struct {
	source Source
	titles TitleFunc
	logger *slog.Logger
	clock  func() time.Time
	past   time.Duration
	ahead  time.Duration
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger for the handler
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTitles sets the title resolver; item keys are used without one
func WithTitles(fn TitleFunc) Option {
	return func(h *Handler) {
		h.titles = fn
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithWindow sets how far back and ahead of now the feed reaches
func WithWindow(past, ahead time.Duration) Option {
	return func(h *Handler) {
		h.past = past
		h.ahead = ahead
	}
}

// NewHandler creates a feed handler over source
func NewHandler(source Source, opts ...Option) *Handler {
	h := &Handler{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  time.Now,
		past:   7 * 24 * time.Hour,
		ahead:  90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP routes by method
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("request received", "method", r.Method, "path", r.URL.Path)

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "OPTIONS, GET, HEAD")
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Allow", "OPTIONS, GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// calendarName extracts the calendar from /{calendar}.ics
func calendarName(path string) (string, bool) {
	name, ok := strings.CutSuffix(strings.TrimPrefix(path, "/"), ".ics")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	calendar, ok := calendarName(r.URL.Path)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	now := h.clock()
	entries, err := h.source.Occurrences(r.Context(), now.Add(-h.past).Unix(), now.Add(h.ahead).Unix())
	if err != nil {
		h.fail(w, "list occurrences", err)
		return
	}
	own := entries[:0:0]
	for _, e := range entries {
		if e.Item.DB == calendar {
			own = append(own, e)
		}
	}

	var titles map[occurrence.ItemKey]string
	if h.titles != nil {
		if titles, err = h.titles(r.Context(), calendar); err != nil {
			h.fail(w, "resolve titles", err)
			return
		}
	}

	var buf bytes.Buffer
	err = icalbridge.Export(&buf, own, icalbridge.ExportOptions{
		Title: func(k occurrence.ItemKey) string {
			if t := titles[k]; t != "" {
				return t
			}
			return k.String()
		},
		// a stable stamp keeps the ETag stable while nothing changes
		Stamp: time.Unix(0, 0),
	})
	if err != nil {
		h.fail(w, "encode calendar", err)
		return
	}

	sum := sha256.Sum256(buf.Bytes())
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, alarms.ErrLockUnavailable) {
		status = http.StatusServiceUnavailable
	}
	h.logger.Error("feed request failed", "step", what, "error", err)
	http.Error(w, http.StatusText(status), status)
}
