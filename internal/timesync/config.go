package timesync

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"safeboard/internal/board"
)

// Shared storage keys.
const (
	ConfigKey    = "timeApiConfig"
	SyncPointKey = "serverTimeSync"
)

const (
	DefaultAPIURL   = "https://worldtimeapi.org/api/timezone/Europe/Berlin"
	DefaultTimezone = "Europe/Berlin"
)

// DefaultFallbackURLs are tried in order when the configured URL fails.
var DefaultFallbackURLs = []string{
	"https://timeapi.io/api/Time/current/zone?timeZone=Europe/Berlin",
	"https://worldtimeapi.org/api/ip",
}

// APIConfig is the operator configuration of the remote time service.
// An ntp:// URL selects an NTP server instead of an HTTP JSON API.
type APIConfig struct {
	APIURL   string `json:"apiUrl"`
	Timezone string `json:"timezone"`
	Enabled  bool   `json:"enabled"`
}

// DefaultAPIConfig returns the configuration used when none is stored.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		APIURL:   DefaultAPIURL,
		Timezone: DefaultTimezone,
		Enabled:  true,
	}
}

// Validate checks that the configuration is usable.
func (c APIConfig) Validate() error {
	if c.Enabled && strings.TrimSpace(c.APIURL) == "" {
		return board.NewError(board.KindValidation, "save time config", "Die Zeit-API URL darf nicht leer sein", nil)
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || u.Host == "" {
			return board.NewError(board.KindValidation, "save time config", "Ungültige Zeit-API URL", err)
		}
		switch u.Scheme {
		case "http", "https", "ntp":
		default:
			return board.NewError(board.KindValidation, "save time config",
				fmt.Sprintf("Nicht unterstütztes URL-Schema %q", u.Scheme), nil)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return board.NewError(board.KindValidation, "save time config", "Unbekannte Zeitzone", err)
		}
	}
	return nil
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c APIConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
