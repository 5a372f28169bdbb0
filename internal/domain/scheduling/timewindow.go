package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	// Postgres renders TIME with seconds.
	clockSecondsLayout = "15:04:05"
)

// TimeToMinutes converts a validated "HH:MM" (or "HH:MM:SS") clock value to
// minutes past midnight. Malformed parts count as zero.
func TimeToMinutes(hhmm string) int {
	parts := strings.SplitN(hhmm, ":", 3)
	h, _ := strconv.Atoi(parts[0])
	m := 0
	if len(parts) > 1 {
		m, _ = strconv.Atoi(parts[1])
	}
	return h*60 + m
}

// ParseClock validates an "HH:MM" value and returns it in minutes. Seconds,
// if present, are dropped.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		if t, err = time.Parse(clockSecondsLayout, s); err != nil {
			return 0, invalidf("invalid time %q: expected HH:MM", s)
		}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IntervalsOverlap reports whether [startA, endA) and [startB, endB) share at
// least one minute. Touching intervals do not overlap.
func IntervalsOverlap(startA, endA, startB, endB int) bool {
	return startA < endB && startB < endA
}

// Contains reports whether minute t lies in [start, end).
func Contains(start, end, t int) bool {
	return start <= t && t < end
}

// Weekday numbers days from Sunday=0 to Saturday=6, matching time.Weekday.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

func (d Weekday) Valid() bool { return d >= Sunday && d <= Saturday }

func (d Weekday) String() string {
	if !d.Valid() {
		return "Weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return time.Weekday(d).String()
}

// ParseWeekday accepts "0".."6" or an English day name in any case.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		d := Weekday(n)
		if !d.Valid() {
			return 0, invalidf("day_of_week out of range: %d", n)
		}
		return d, nil
	}
	for d := Sunday; d <= Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, invalidf("invalid day_of_week %q", s)
}

// WeekdayOf returns the weekday of a "YYYY-MM-DD" date.
func WeekdayOf(date string) (Weekday, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0, invalidf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return Weekday(t.Weekday()), nil
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(d))
}

func (d *Weekday) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var s string
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("invalid day_of_week %v", v)
		}
		s = strconv.Itoa(int(v))
	case string:
		s = v
	default:
		return fmt.Errorf("invalid day_of_week %s", string(data))
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
