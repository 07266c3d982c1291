package availability

import (
	"errors"
	"fmt"
	"time"
)

// Weekday numbers days Monday=0 through Sunday=6. This differs from
// time.Weekday, which starts at Sunday=0; use WeekdayOf to convert.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var (
	ErrInvalidDate    = errors.New("date must be in YYYY-MM-DD format")
	ErrInvalidTime    = errors.New("time must be in HH:MM format")
	ErrInvalidWeekday = errors.New("day of week must be between 0 (monday) and 6 (sunday)")
)

// WeekdayOf converts a time.Weekday based instant into the Monday=0 numbering.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// Date is a civil calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Weekday() Weekday {
	return WeekdayOf(time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC))
}

// At combines the date with a time of day in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, tod.Hour(), tod.Minute(), 0, 0, loc)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall clock time expressed in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay accepts HH:MM and HH:MM:SS with zero seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04"
	if len(s) == len("15:04:05") {
		layout = time.TimeOnly
	}
	t, err := time.Parse(layout, s)
	if err != nil || t.Second() != 0 {
		return 0, ErrInvalidTime
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
