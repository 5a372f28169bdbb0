// Package dateutil normalises calendar dates sent by clients.
package dateutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const Layout = "2006-01-02"

const (
	minYear = 1900
	maxYear = 2100
)

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrFutureDate  = errors.New("date is in the future")
)

// Parts is a date split into fields, as some clients send it.
type Parts struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Options controls Format. Now defaults to time.Now.
type Options struct {
	RejectFuture bool
	Now          func() time.Time
}

// Format returns p as YYYY-MM-DD. Dates that do not exist, such as
// 31 February, are rejected instead of being rolled into the next month.
func Format(p Parts, opts Options) (string, error) {
	if p.Year < minYear || p.Year > maxYear {
		return "", fmt.Errorf("%w: year %d out of range", ErrInvalidDate, p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return "", fmt.Errorf("%w: month %d", ErrInvalidDate, p.Month)
	}
	t := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC)
	if p.Day < 1 || t.Day() != p.Day {
		return "", fmt.Errorf("%w: %04d-%02d-%02d does not exist", ErrInvalidDate, p.Year, p.Month, p.Day)
	}
	if opts.RejectFuture {
		if err := NotAfter(t, today(opts.Now)); err != nil {
			return "", err
		}
	}
	return t.Format(Layout), nil
}

// Parse validates a YYYY-MM-DD string and returns its parts.
func Parse(s string) (Parts, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, s)
	}
	return Parts{Day: t.Day(), Month: int(t.Month()), Year: t.Year()}, nil
}

// NotAfter returns ErrFutureDate when d falls on a later calendar day than
// limit.
func NotAfter(d, limit time.Time) error {
	dy, dm, dd := d.Date()
	ly, lm, ld := limit.Date()
	if time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).After(time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)) {
		return fmt.Errorf("%w: %s", ErrFutureDate, d.Format(Layout))
	}
	return nil
}

func today(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

// Date is a YYYY-MM-DD string that also unmarshals from
// {"day":..,"month":..,"year":..}.
type Date string

func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}

	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*d = ""
			return nil
		}
		p, err := Parse(s)
		if err != nil {
			return err
		}
		if s, err = Format(p, Options{}); err != nil {
			return err
		}
		*d = Date(s)
		return nil
	}

	var p Parts
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("%w: expected YYYY-MM-DD or {day, month, year}", ErrInvalidDate)
	}
	s, err := Format(p, Options{})
	if err != nil {
		return err
	}
	*d = Date(s)
	return nil
}

// Parts splits d into fields for Format.
func (d Date) Parts() (Parts, error) {
	return Parse(string(d))
}
