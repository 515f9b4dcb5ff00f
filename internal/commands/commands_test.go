package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cyp0633/libremind/alarms"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t      *testing.T
	config string
	now    time.Time
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\nlogLevel: error\ndatabase: test.db\n"), 0o600))
	return &cli{t: t, config: path, now: time.Date(2099, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	now := c.now
	a := &app{
		timer: &alarms.ManualTimer{},
		now:   func() time.Time { return now },
	}
	cmd := newRoot(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.exec(args...)
	require.NoError(c.t, err, out)
	return out
}

var alarmID = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestCommands_Lifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.must("rule", "add", "Dentist", "--at", "2099-01-05 09:00", "--duration", "1h", "--alarm", "15m")
	assert.Contains(t, out, "added default:1")
	out = c.must("rule", "add", "Standup", "--at", "2099-01-02 09:30", "--every", "1d", "--skip", "2099-01-03 09:30")
	assert.Contains(t, out, "added default:2")

	out = c.must("rule", "list")
	assert.Contains(t, out, "Dentist")
	assert.Contains(t, out, "occur_regularly, except_once")

	out = c.must("rule", "show", "1")
	assert.Contains(t, out, "occur_once")

	out = c.must("range", "--from", "2099-01-01", "--days", "7")
	assert.Equal(t, 1, strings.Count(out, "Dentist"))
	assert.Equal(t, 6, strings.Count(out, "Standup"))
	assert.NotContains(t, out, "2099-01-03 09:30")

	out = c.must("next")
	assert.Contains(t, out, "next alarm: Mon 2099-01-05 08:45  Dentist")

	// the alarm has passed by the next invocation
	c.now = time.Date(2099, time.January, 6, 0, 0, 0, 0, time.UTC)
	out = c.must("next")
	assert.Contains(t, out, "1 alarm(s) ringing")
	assert.Contains(t, out, "Dentist")

	out = c.must("alarms")
	id := alarmID.FindString(out)
	require.NotEmpty(t, id, out)

	out = c.must("snooze", id, "--for", "5m")
	assert.Contains(t, out, "snoozed until Tue 2099-01-06 00:06")
	out = c.must("alarms")
	assert.Contains(t, out, "(snoozed)")

	c.must("dismiss", id)
	out = c.must("alarms")
	assert.Contains(t, out, "no active alarms")

	_, err := c.exec("dismiss", id)
	assert.ErrorIs(t, err, alarms.ErrNotFound)

	out = c.must("rule", "rm", "2")
	assert.Contains(t, out, "removed default:2 and 0 active alarm(s)")
	_, err = c.exec("rule", "rm", "2")
	assert.ErrorIs(t, err, alarms.ErrNotFound)
}

func TestCommands_ImportExport(t *testing.T) {
	c := newCLI(t)
	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:weekly@test",
		"DTSTAMP:20990101T000000Z",
		"DTSTART:20990102T100000Z",
		"DTEND:20990102T110000Z",
		"SUMMARY:Review",
		"RRULE:FREQ=WEEKLY",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Review",
		"TRIGGER:-PT10M",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	file := filepath.Join(t.TempDir(), "in.ics")
	require.NoError(t, os.WriteFile(file, []byte(ics), 0o600))

	out := c.must("import", file)
	assert.Contains(t, out, "imported 1 item(s) into default")

	out = c.must("range", "--from", "2099-01-01", "--days", "14")
	assert.Equal(t, 2, strings.Count(out, "Review"))

	exported := filepath.Join(t.TempDir(), "out.ics")
	c.must("export", "--from", "2099-01-01", "--days", "14", "-o", exported)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SUMMARY:Review")
	assert.Contains(t, string(data), "TRIGGER;VALUE=DATE-TIME:20990102T095000Z")
	assert.Equal(t, 2, strings.Count(string(data), "BEGIN:VEVENT"))
}

func TestCommands_ImportURL(t *testing.T) {
	c := newCLI(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "me" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(strings.Join([]string{
			"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
			"BEGIN:VEVENT", "UID:remote@test", "DTSTAMP:20990101T000000Z",
			"DTSTART:20990103T080000Z", "SUMMARY:Remote", "END:VEVENT",
			"END:VCALENDAR", "",
		}, "\r\n")))
	}))
	defer srv.Close()

	_, err := c.exec("import", srv.URL+"/cal.ics")
	assert.ErrorContains(t, err, "401")

	out := c.must("import", srv.URL+"/cal.ics", "--user", "me", "--password", "pw")
	assert.Contains(t, out, "imported 1 item(s)")
	out = c.must("rule", "list")
	assert.Contains(t, out, "Remote")
}

func TestCommands_Feed(t *testing.T) {
	c := newCLI(t)
	c.must("rule", "add", "Dentist", "--at", "2099-01-05 09:00", "--alarm", "15m")

	a := &app{configPath: c.config, timer: &alarms.ManualTimer{}, now: func() time.Time { return c.now }}
	require.NoError(t, a.open(context.Background()))
	defer func() { require.NoError(t, a.close()) }()

	rec := httptest.NewRecorder()
	a.feedHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/default.ics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUMMARY:Dentist")
	assert.Contains(t, rec.Body.String(), "TRIGGER;VALUE=DATE-TIME:20990105T084500Z")

	rec = httptest.NewRecorder()
	a.feedHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other.ics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")
}

func TestCommands_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec("rule", "add", "Nothing")
	assert.ErrorContains(t, err, "--at or --xml is required")

	_, err = c.exec("rule", "add", "Bad", "--at", "tomorrow")
	assert.ErrorContains(t, err, "cannot parse time")

	_, err = c.exec("rule", "show", "zero")
	assert.ErrorContains(t, err, "invalid item id")

	_, err = c.exec("range", "--from", "2099-01-01", "--days", "100000")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"2d", 48 * time.Hour},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseDuration("xd")
	assert.Error(t, err)
}

func TestWallClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	at := time.Date(2024, time.July, 1, 9, 30, 0, 0, berlin)
	assert.Equal(t, time.Date(2024, time.July, 1, 9, 30, 0, 0, time.UTC).Unix(), wallClock(at))
}

func TestCommands_RunAnnouncesActiveAlarms(t *testing.T) {
	c := newCLI(t)
	c.must("rule", "add", "Dentist", "--at", "2099-01-01 02:00", "--alarm", "1h")

	// a later one-shot command activates the alarm without printing it
	c.now = time.Date(2099, time.January, 1, 3, 0, 0, 0, time.UTC)
	out := c.must("rule", "add", "Lunch", "--at", "2099-01-01 12:00")
	assert.NotContains(t, out, "Dentist")
	out = c.must("alarms")
	assert.Contains(t, out, "Dentist")

	now := c.now
	a := &app{
		configPath: c.config,
		timer:      &alarms.ManualTimer{},
		now:        func() time.Time { return now },
	}
	var buf bytes.Buffer
	err := a.run(context.Background(), func(ctx context.Context) error {
		w, unsubscribe := a.newWatcher(&buf)
		defer unsubscribe()

		require.NoError(t, w.settle(ctx))
		assert.Equal(t, 1, strings.Count(buf.String(), "ALARM"), buf.String())
		assert.Contains(t, buf.String(), "Dentist")

		require.NoError(t, w.settle(ctx))
		assert.Equal(t, 1, strings.Count(buf.String(), "ALARM"), "printed once")

		id := alarmID.FindString(buf.String())
		require.NotEmpty(t, id)
		_, err := a.scheduler.Snooze(ctx, a.refs([]string{id}), time.Minute)
		require.NoError(t, err)

		now = now.Add(3 * time.Minute)
		require.NoError(t, w.settle(ctx))
		assert.Equal(t, 2, strings.Count(buf.String(), "ALARM"), "rings again after the snooze")
		return nil
	})
	require.NoError(t, err)
}
