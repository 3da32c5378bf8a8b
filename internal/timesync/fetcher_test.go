package timesync

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/beevik/ntp"

	"safeboard/internal/board"
	"safeboard/internal/testutil"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("loading location %s: %v", name, err)
	}
	return loc
}

func TestParseTimeResponse(t *testing.T) {
	berlin := mustLoadLocation(t, "Europe/Berlin")
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body string
	}{
		{"unixtime integer", `{"unixtime": 1717243200}`},
		{"unixtime float", `{"unixtime": 1717243200.0}`},
		{"unixtime string", `{"unixtime": "1717243200"}`},
		{"datetime with offset", `{"datetime": "2024-06-01T14:00:00.000000+02:00"}`},
		{"dateTime utc", `{"dateTime": "2024-06-01T12:00:00Z"}`},
		{"dateTime without zone", `{"dateTime": "2024-06-01T14:00:00.0000000"}`},
		{"datetime without fraction", `{"datetime": "2024-06-01T14:00:00"}`},
		{"extra fields ignored", `{"abbreviation": "CEST", "unixtime": 1717243200, "utc_offset": "+02:00"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeResponse([]byte(tt.body), berlin)
			if err != nil {
				t.Fatalf("ParseTimeResponse failed: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got.UTC(), want)
			}
		})
	}
}

func TestParseTimeResponse_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"unixtime": `},
		{"not an object", `[1717243200]`},
		{"no known field", `{"time": 1717243200}`},
		{"field names are case sensitive", `{"UnixTime": 1717243200}`},
		{"unixtime not numeric", `{"unixtime": "soon"}`},
		{"unixtime zero", `{"unixtime": 0}`},
		{"unixtime negative", `{"unixtime": -5}`},
		{"datetime not a string", `{"datetime": 1717243200}`},
		{"datetime garbage", `{"datetime": "yesterday"}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimeResponse([]byte(tt.body), time.UTC)
			if !errors.Is(err, board.ErrParse) {
				t.Errorf("expected ParseFailure, got %v", err)
			}
		})
	}
}

func TestParseTimeResponse_RoundTrip(t *testing.T) {
	instants := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 1, 59, 59, 0, time.UTC),
		time.Date(2024, 10, 27, 3, 30, 0, 0, time.UTC),
		time.Date(2038, 1, 19, 3, 14, 8, 0, time.UTC),
	}
	ts := testutil.NewTimeServer(t, time.Now())
	f := NewRemoteFetcher(ts.Client(), testutil.FixedClock())

	for _, at := range instants {
		for _, shape := range []string{"unixtime", "datetime", "dateTime"} {
			if shape == "unixtime" {
				ts.SetUnixTime(at)
			} else {
				ts.SetDateTime(shape, at)
			}
			p, err := f.Fetch(context.Background(), ts.URL, time.UTC)
			if err != nil {
				t.Fatalf("%s %v: Fetch failed: %v", shape, at, err)
			}
			got := time.UnixMilli(p.RemoteUnixMs)
			if d := got.Sub(at); d < -time.Second || d > time.Second {
				t.Errorf("%s %v: recovered %v", shape, at, got.UTC())
			}
		}
	}
}

func TestRemoteFetcher_HTTP(t *testing.T) {
	clock := testutil.FixedClock()
	remote := clock.Now().Add(90 * time.Second)

	t.Run("pairs remote time with local clock", func(t *testing.T) {
		ts := testutil.NewTimeServer(t, remote)
		f := NewRemoteFetcher(ts.Client(), clock)

		p, err := f.Fetch(context.Background(), ts.URL, time.UTC)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if p.RemoteUnixMs != remote.UnixMilli() {
			t.Errorf("RemoteUnixMs = %d, want %d", p.RemoteUnixMs, remote.UnixMilli())
		}
		if p.LocalUnixMs != clock.Now().UnixMilli() {
			t.Errorf("LocalUnixMs = %d, want %d", p.LocalUnixMs, clock.Now().UnixMilli())
		}
		if p.Offset() != 90*time.Second {
			t.Errorf("Offset = %v, want 90s", p.Offset())
		}
	})

	t.Run("non-2xx is a network failure", func(t *testing.T) {
		ts := testutil.NewTimeServer(t, remote)
		ts.Respond(http.StatusInternalServerError, `{"unixtime": 1717243200}`)
		f := NewRemoteFetcher(ts.Client(), clock)

		_, err := f.Fetch(context.Background(), ts.URL, time.UTC)
		if !errors.Is(err, board.ErrNetwork) {
			t.Errorf("expected NetworkFailure, got %v", err)
		}
	})

	t.Run("unreachable is a network failure", func(t *testing.T) {
		ts := testutil.NewTimeServer(t, remote)
		url := ts.URL
		ts.Close()
		f := NewRemoteFetcher(nil, clock)

		_, err := f.Fetch(context.Background(), url, time.UTC)
		if !errors.Is(err, board.ErrNetwork) {
			t.Errorf("expected NetworkFailure, got %v", err)
		}
	})

	t.Run("bad body is a parse failure", func(t *testing.T) {
		ts := testutil.NewTimeServer(t, remote)
		ts.Respond(http.StatusOK, `<html>maintenance</html>`)
		f := NewRemoteFetcher(ts.Client(), clock)

		_, err := f.Fetch(context.Background(), ts.URL, time.UTC)
		if !errors.Is(err, board.ErrParse) {
			t.Errorf("expected ParseFailure, got %v", err)
		}
	})
}

func TestRemoteFetcher_NTP(t *testing.T) {
	clock := testutil.FixedClock()

	t.Run("applies clock offset", func(t *testing.T) {
		var gotHost string
		f := NewRemoteFetcher(nil, clock).WithNTPQuery(func(host string, opt ntp.QueryOptions) (*ntp.Response, error) {
			gotHost = host
			if opt.Timeout <= 0 {
				t.Errorf("expected a positive timeout, got %v", opt.Timeout)
			}
			now := clock.Now()
			return &ntp.Response{
				Time:          now.Add(2 * time.Second),
				ReferenceTime: now.Add(-time.Minute),
				ClockOffset:   2 * time.Second,
				Stratum:       2,
			}, nil
		})

		p, err := f.Fetch(context.Background(), "ntp://pool.ntp.org", time.UTC)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if gotHost != "pool.ntp.org" {
			t.Errorf("queried host %q, want pool.ntp.org", gotHost)
		}
		if p.Offset() != 2*time.Second {
			t.Errorf("Offset = %v, want 2s", p.Offset())
		}
	})

	t.Run("query error is a network failure", func(t *testing.T) {
		f := NewRemoteFetcher(nil, clock).WithNTPQuery(func(string, ntp.QueryOptions) (*ntp.Response, error) {
			return nil, errors.New("i/o timeout")
		})
		_, err := f.Fetch(context.Background(), "ntp://pool.ntp.org", time.UTC)
		if !errors.Is(err, board.ErrNetwork) {
			t.Errorf("expected NetworkFailure, got %v", err)
		}
	})

	t.Run("kiss of death is a parse failure", func(t *testing.T) {
		f := NewRemoteFetcher(nil, clock).WithNTPQuery(func(string, ntp.QueryOptions) (*ntp.Response, error) {
			return &ntp.Response{Stratum: 0, KissCode: "RATE"}, nil
		})
		_, err := f.Fetch(context.Background(), "ntp://pool.ntp.org", time.UTC)
		if !errors.Is(err, board.ErrParse) {
			t.Errorf("expected ParseFailure, got %v", err)
		}
	})
}
