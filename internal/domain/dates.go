package domain

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// StorageResolution is the finest timestamp precision the stores keep.
const StorageResolution = time.Microsecond

// TimeRange is an inclusive [From, To] window in UTC.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// StorageTime normalizes t to UTC at storage resolution.
func StorageTime(t time.Time) time.Time {
	return t.UTC().Truncate(StorageResolution)
}

// LocalDays returns the window covering the local calendar days from..to in
// loc. The end bound is the start of the day after `to` minus one storage
// unit, so an instant belongs to exactly one day.
func LocalDays(loc *time.Location, from, to time.Time) TimeRange {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	next := time.Date(ty, tm, td+1, 0, 0, 0, 0, loc)
	return TimeRange{From: start.UTC(), To: next.Add(-StorageResolution).UTC()}
}

// LocalDayOf returns the local calendar day containing instant t.
func LocalDayOf(loc *time.Location, t time.Time) TimeRange {
	local := t.In(loc)
	return LocalDays(loc, local, local)
}

// ParseDateRange parses inclusive YYYY-MM-DD bounds in loc. Missing bounds
// default to the local day of now.
func ParseDateRange(loc *time.Location, fromRaw, toRaw string, now time.Time) (TimeRange, error) {
	today := now.In(loc)
	from, err := parseLocalDate(loc, fromRaw, today)
	if err != nil {
		return TimeRange{}, err
	}
	to, err := parseLocalDate(loc, toRaw, today)
	if err != nil {
		return TimeRange{}, err
	}
	if to.Before(from) {
		return TimeRange{}, fmt.Errorf("%w: date_to is before date_from", ErrInvalidInput)
	}
	return LocalDays(loc, from, to), nil
}

func parseLocalDate(loc *time.Location, raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseInLocation(DateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, raw)
	}
	return parsed, nil
}
