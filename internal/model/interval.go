package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Interval is one of the cron-like tokens from spec.md §3: s{1,2,5,10,15,20,30} |
// m{1,2,5,10,15,30} | h{1,2,4,6,8,12} | D{1,2,3} | W1 | M1 | Y1.
type Interval string

var intervalPattern = regexp.MustCompile(`^([smhDWMY])(\d+)$`)

var validIntervals = map[string]bool{
	"s1": true, "s2": true, "s5": true, "s10": true, "s15": true, "s20": true, "s30": true,
	"m1": true, "m2": true, "m5": true, "m10": true, "m15": true, "m30": true,
	"h1": true, "h2": true, "h4": true, "h6": true, "h8": true, "h12": true,
	"D1": true, "D2": true, "D3": true,
	"W1": true, "M1": true, "Y1": true,
}

// Valid reports whether the interval token is one of the enumerated set.
func (iv Interval) Valid() bool {
	return validIntervals[string(iv)]
}

// Seconds returns the duration of one bucket in seconds. Month/year use
// calendar-approximate fixed durations (30D, 365D) only for TTL/lookback
// arithmetic; bucket alignment for D/W/M/Y uses Floor, not this value.
func (iv Interval) Seconds() (int64, error) {
	m := intervalPattern.FindStringSubmatch(string(iv))
	if m == nil || !iv.Valid() {
		return 0, fmt.Errorf("model: invalid interval %q", iv)
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("model: invalid interval %q: %w", iv, err)
	}
	switch m[1] {
	case "s":
		return n, nil
	case "m":
		return n * 60, nil
	case "h":
		return n * 3600, nil
	case "D":
		return n * 86400, nil
	case "W":
		return n * 7 * 86400, nil
	case "M":
		return n * 30 * 86400, nil
	case "Y":
		return n * 365 * 86400, nil
	default:
		return 0, fmt.Errorf("model: invalid interval %q", iv)
	}
}

// Duration is a convenience wrapper over Seconds.
func (iv Interval) Duration() (time.Duration, error) {
	secs, err := iv.Seconds()
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// CronExpr maps the interval token to a standard 5-field (minute-resolution)
// or 6-field (second-resolution, supported by gocron) cron expression that
// fires at the floor of each interval boundary, UTC-aligned.
//
// Sub-minute intervals (s*) use gocron's 6-field second-resolution cron
// support: "*/N * * * * *". Minute/hour/day intervals that evenly divide
// their parent unit use the standard "*/N" cron step syntax. Month/Year
// intervals fire at midnight UTC on the 1st of the period.
func (iv Interval) CronExpr() (string, error) {
	m := intervalPattern.FindStringSubmatch(string(iv))
	if m == nil || !iv.Valid() {
		return "", fmt.Errorf("model: invalid interval %q", iv)
	}
	n := m[2]
	switch m[1] {
	case "s":
		return fmt.Sprintf("*/%s * * * * *", n), nil
	case "m":
		return fmt.Sprintf("*/%s * * * *", n), nil
	case "h":
		return fmt.Sprintf("0 */%s * * *", n), nil
	case "D":
		return fmt.Sprintf("0 0 */%s * *", n), nil
	case "W":
		return "0 0 * * 1", nil // ISO week start, Monday 00:00 UTC
	case "M":
		return "0 0 1 * *", nil
	case "Y":
		return "0 0 1 1 *", nil
	default:
		return "", fmt.Errorf("model: invalid interval %q", iv)
	}
}

// BucketStart floors t to the start of the bucket containing it, at
// second-granularity UTC alignment, for the s/m/h/D cases. W/M/Y intervals
// floor to their respective calendar boundary.
func (iv Interval) BucketStart(t time.Time) (time.Time, error) {
	t = t.UTC()
	m := intervalPattern.FindStringSubmatch(string(iv))
	if m == nil || !iv.Valid() {
		return time.Time{}, fmt.Errorf("model: invalid interval %q", iv)
	}
	switch m[1] {
	case "W":
		offset := (int(t.Weekday()) + 6) % 7 // days since Monday
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, -offset), nil
	case "M":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case "Y":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		secs, err := iv.Seconds()
		if err != nil {
			return time.Time{}, err
		}
		epoch := t.Unix()
		floored := epoch - (epoch % secs)
		return time.Unix(floored, 0).UTC(), nil
	}
}
