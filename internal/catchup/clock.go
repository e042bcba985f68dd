package catchup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ArchiveDays is how far back catchup archives usually reach.
const ArchiveDays = 7

var (
	ErrInvalidClock = errors.New("invalid time, expected 24h HHMM such as 1745")
	ErrInvalidDate  = errors.New("invalid date")
)

// ParseClock accepts 24h times written as 1745, 17:45 or 945.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(s) == 3 {
		s = "0" + s
	}
	if len(s) != 4 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err = strconv.Atoi(s[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err = strconv.Atoi(s[2:])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: hours must be 00-23 and minutes 00-59", ErrInvalidClock)
	}
	return hour, minute, nil
}

// RecentDays lists the last n days starting with today, at midnight.
func RecentDays(now time.Time, n int) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := make([]time.Time, 0, n)
	for i := range n {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

// ParseDate resolves a day relative to now. It accepts YYYY-MM-DD, "today",
// "yesterday", a day offset such as -2, or a weekday name within the
// archive window.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	days := RecentDays(now, ArchiveDays)
	switch s {
	case "", "today":
		return days[0], nil
	case "yesterday":
		return days[1], nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			n = -n
		}
		if n >= ArchiveDays {
			return time.Time{}, fmt.Errorf("%w: %d days ago is outside the %d day archive", ErrInvalidDate, n, ArchiveDays)
		}
		return days[n], nil
	}
	for _, d := range days {
		if strings.ToLower(d.Weekday().String()) == s || strings.ToLower(d.Weekday().String()[:3]) == s {
			return d, nil
		}
	}
	d, err := time.ParseInLocation(time.DateOnly, s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if d.After(days[0]) {
		return time.Time{}, fmt.Errorf("%w: %s is in the future", ErrInvalidDate, s)
	}
	return d, nil
}

// StartTime combines a day and a clock time.
func StartTime(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
