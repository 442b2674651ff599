package utils

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata" // IANA zones on hosts without a zoneinfo database
)

const scheduleDateLayout = "2006-01-02"

var scheduleClockLayouts = []string{"15:04:05", "15:04"}

// ScheduleToUTC interprets a local calendar date and wall clock time in the
// named IANA zone and returns the instant in UTC.
func ScheduleToUTC(date, clock, timeZone string) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(timeZone))
	if err != nil || strings.TrimSpace(timeZone) == "" {
		return time.Time{}, fmt.Errorf("invalid time zone %q", timeZone)
	}

	day, err := time.Parse(scheduleDateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid scheduled date %q: %w", date, err)
	}

	var wall time.Time
	clock = strings.TrimSpace(clock)
	for _, layout := range scheduleClockLayouts {
		if wall, err = time.Parse(layout, clock); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid scheduled time %q: %w", clock, err)
	}

	local := time.Date(day.Year(), day.Month(), day.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
	return local.UTC(), nil
}
