package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/ntp"

	"safeboard/internal/board"
)

const maxResponseBytes = 1 << 20

// Fetcher performs one remote time observation against a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, loc *time.Location) (SyncPoint, error)
}

// NTPQueryFunc matches ntp.QueryWithOptions so tests can substitute it.
type NTPQueryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// RemoteFetcher fetches time from HTTP JSON APIs, or from NTP servers for
// ntp:// URLs.
type RemoteFetcher struct {
	client   *http.Client
	clock    board.Clock
	ntpQuery NTPQueryFunc
}

// NewRemoteFetcher creates a RemoteFetcher. A nil client uses http.DefaultClient.
func NewRemoteFetcher(client *http.Client, clock board.Clock) *RemoteFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteFetcher{client: client, clock: clock, ntpQuery: ntp.QueryWithOptions}
}

// WithNTPQuery replaces the NTP query function.
func (f *RemoteFetcher) WithNTPQuery(q NTPQueryFunc) *RemoteFetcher {
	f.ntpQuery = q
	return f
}

// Fetch performs one observation. Errors are classified as NetworkFailure or ParseFailure.
func (f *RemoteFetcher) Fetch(ctx context.Context, rawURL string, loc *time.Location) (SyncPoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "Ungültige Zeit-API URL", err)
	}
	if u.Scheme == "ntp" {
		return f.fetchNTP(ctx, u.Host)
	}
	return f.fetchHTTP(ctx, rawURL, loc)
}

// fetchHTTP pairs the remote reading with the midpoint of the request's round
// trip, the local instant the remote clock was most likely read at.
func (f *RemoteFetcher) fetchHTTP(ctx context.Context, rawURL string, loc *time.Location) (SyncPoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "Zeit-API nicht erreichbar", err)
	}
	req.Header.Set("Accept", "application/json")

	sent := f.clock.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "Zeit-API nicht erreichbar", err)
	}
	defer resp.Body.Close()
	received := f.clock.Now()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time",
			fmt.Sprintf("Zeit-API antwortet mit HTTP %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "Antwort der Zeit-API unvollständig", err)
	}

	remote, err := ParseTimeResponse(body, loc)
	if err != nil {
		return SyncPoint{}, err
	}
	local := sent.Add(received.Sub(sent) / 2)
	return NewSyncPoint(remote, local), nil
}

func (f *RemoteFetcher) fetchNTP(ctx context.Context, host string) (SyncPoint, error) {
	opts := ntp.QueryOptions{Timeout: 5 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
	}
	if opts.Timeout <= 0 {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "NTP-Server nicht erreichbar", context.DeadlineExceeded)
	}

	resp, err := f.ntpQuery(host, opts)
	if err != nil {
		return SyncPoint{}, board.NewError(board.KindNetwork, "fetch remote time", "NTP-Server nicht erreichbar", err)
	}
	if err := resp.Validate(); err != nil {
		return SyncPoint{}, board.NewError(board.KindParse, "fetch remote time", "Ungültige NTP-Antwort", err)
	}
	local := f.clock.Now()
	return NewSyncPoint(local.Add(resp.ClockOffset), local), nil
}

var errNoTimeField = errors.New("response has neither unixtime nor datetime/dateTime")

// ParseTimeResponse extracts the instant from a time API response body.
// Accepted shapes: {"unixtime": seconds}, {"datetime": iso8601} and
// {"dateTime": iso8601}. Date-times without a zone offset are read in loc.
func ParseTimeResponse(body []byte, loc *time.Location) (time.Time, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return time.Time{}, parseError(fmt.Errorf("decoding response: %w", err))
	}

	if raw, ok := fields["unixtime"]; ok {
		secs, err := parseUnixSeconds(raw)
		if err != nil {
			return time.Time{}, parseError(err)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)), nil
	}

	for _, key := range []string{"datetime", "dateTime"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, parseError(fmt.Errorf("%s is not a string: %w", key, err))
		}
		t, err := parseDateTime(s, loc)
		if err != nil {
			return time.Time{}, parseError(err)
		}
		return t, nil
	}

	return time.Time{}, parseError(errNoTimeField)
}

func parseUnixSeconds(raw json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("unixtime is not a number: %s", raw)
		}
		n = json.Number(strings.TrimSpace(s))
	}
	secs, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("unixtime is not a number: %w", err)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("unixtime out of range: %v", secs)
	}
	return secs, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date-time %q", s)
}

func parseError(err error) error {
	return board.NewError(board.KindParse, "fetch remote time", "Unerwartetes Antwortformat der Zeit-API", err)
}
