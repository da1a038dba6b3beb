package sandbox

import (
	"strings"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	clockLayout    = "15:04:05"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Timestamp is a UTC instant truncated to whole seconds.
type Timestamp struct {
	t time.Time
}

// NewTimestamp converts t to UTC and drops sub-second precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Truncate(time.Second)}
}

// Add shifts the timestamp by whole seconds; negative values go back.
func (ts Timestamp) Add(seconds int64) Timestamp {
	return Timestamp{t: ts.t.Add(time.Duration(seconds) * time.Second)}
}

// AddDays shifts the timestamp by calendar days.
func (ts Timestamp) AddDays(days int) Timestamp {
	return ts.AddDate(0, 0, days)
}

// AddDate shifts the timestamp by calendar years, months and days.
func (ts Timestamp) AddDate(years, months, days int) Timestamp {
	return Timestamp{t: ts.t.AddDate(years, months, days)}
}

// Date formats as YYYY-MM-DD.
func (ts Timestamp) Date() string { return ts.t.Format(dateLayout) }

// Time formats as HH:MM:SS.
func (ts Timestamp) Time() string { return ts.t.Format(clockLayout) }

// DateTime formats as YYYY-MM-DD HH:MM:SS.
func (ts Timestamp) DateTime() string { return ts.t.Format(dateTimeLayout) }

// Unix returns seconds since the epoch.
func (ts Timestamp) Unix() int64 { return ts.t.Unix() }

// Std returns the underlying time value.
func (ts Timestamp) Std() time.Time { return ts.t }

func (ts Timestamp) String() string { return ts.DateTime() }

// DateString is an ISO-8601 style string such as 2024-01-02T03:04:05.000Z.
// Its accessors work on the text directly and never reinterpret the zone.
type DateString string

// DateTime replaces the T separator with a space and drops fractional
// seconds and a trailing Z.
func (s DateString) DateTime() string {
	v := strings.TrimSpace(string(s))
	v = strings.Replace(v, "T", " ", 1)
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSuffix(v, "Z")
}

// Date returns the date part.
func (s DateString) Date() string {
	d, _, _ := strings.Cut(s.DateTime(), " ")
	return d
}

// Time returns the clock part, or "" when the string carries none.
func (s DateString) Time() string {
	_, t, _ := strings.Cut(s.DateTime(), " ")
	return t
}
