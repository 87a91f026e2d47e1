package core

import (
	"fmt"
	"time"

	// Embedded zone database so DayKeys never depend on the host's zoneinfo.
	_ "time/tzdata"
)

const (
	DefaultTimezone = "America/Bogota"
	dayKeyLayout    = "2006-01-02"
)

// DayKeyIn returns the calendar date of t as observed in loc.
func DayKeyIn(t time.Time, loc *time.Location) DayKey {
	return DayKey(t.In(loc).Format(dayKeyLayout))
}

// DayKeyFor returns the calendar date of t in the named IANA timezone.
func DayKeyFor(t time.Time, timezone string) (DayKey, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return DayKeyIn(t, loc), nil
}

// Time parses the key back into midnight of that date in loc.
func (d DayKey) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dayKeyLayout, string(d), loc)
}
