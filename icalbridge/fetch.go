package icalbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// BasicAuthTransport adds Basic authentication to outgoing requests
type BasicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Username == "" {
		return nil, errors.New("basic auth username cannot be empty")
	}
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	// RoundTrip must not modify the caller's request
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	return transport.RoundTrip(req)
}

// Fetcher downloads and imports remote calendars
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher; a nil client gets a 30 second timeout and
// a nil logger discards.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch GETs url and imports its events like Import
func (f *Fetcher) Fetch(ctx context.Context, url string, loc *time.Location) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", url, err)
	}
	req.Header.Set("Accept", "text/calendar")

	f.logger.Debug("fetching calendar", "url", url)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f.logger.Debug("received response", "status", resp.Status)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: unexpected status code: %d", url, resp.StatusCode)
	}
	return Import(resp.Body, loc)
}
