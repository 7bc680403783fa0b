package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeAgeRe = regexp.MustCompile(`(?i)^\s*(\d+)\s*(s|sec|m|min|h|hr|d|w|wk|mo|y|yr)s?\b`)

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// ParseRelativeAge turns the site's compact ages ("3h", "2w", "1mo", "5yr")
// into an absolute time relative to now. ok is false when the text is not an age.
func ParseRelativeAge(text string, now time.Time) (t time.Time, ok bool) {
	m := relativeAgeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	switch strings.ToLower(m[2]) {
	case "s", "sec":
		return now.Add(-time.Duration(n) * time.Second), true
	case "m", "min":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "h", "hr":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "d":
		return now.AddDate(0, 0, -n), true
	case "w", "wk":
		return now.AddDate(0, 0, -7*n), true
	case "mo":
		return now.AddDate(0, -n, 0), true
	case "y", "yr":
		return now.AddDate(-n, 0, 0), true
	}
	return time.Time{}, false
}

// HoursSince is the whole number of hours elapsed since t.
func HoursSince(t time.Time, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / time.Hour)
}
