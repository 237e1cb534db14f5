// Package schedule holds the time-of-day structures carried by the radio link and the
// mowing-window check built on them.
package schedule

import (
	"fmt"
	"time"
)

type TimeHM struct {
	Hour   uint8 `yaml:"hour"`
	Minute uint8 `yaml:"minute"`
}

func (t TimeHM) Valid() bool {
	return t.Hour < 24 && t.Minute < 60
}

func (t TimeHM) minutes() int {
	return int(t.Hour)*60 + int(t.Minute)
}

func (t TimeHM) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Date uses time.Weekday numbering for DayOfWeek (0 = Sunday).
type Date struct {
	DayOfWeek uint8
	Day       uint8
	Month     uint8
	Year      uint16
}

func (d Date) Valid() bool {
	return d.DayOfWeek < 7 && d.Day >= 1 && d.Day <= 31 && d.Month >= 1 && d.Month <= 12
}

type Datetime struct {
	Time TimeHM
	Date Date
}

func (dt Datetime) Valid() bool {
	return dt.Time.Valid() && dt.Date.Valid()
}

func FromTime(t time.Time) Datetime {
	return Datetime{
		Time: TimeHM{Hour: uint8(t.Hour()), Minute: uint8(t.Minute())},
		Date: Date{
			DayOfWeek: uint8(t.Weekday()),
			Day:       uint8(t.Day()),
			Month:     uint8(t.Month()),
			Year:      uint16(t.Year()),
		},
	}
}

// Timer is a weekly mowing window.  Bit n of DaysOfWeek enables weekday n.
type Timer struct {
	Active     bool   `yaml:"active"`
	Start      TimeHM `yaml:"start"`
	Stop       TimeHM `yaml:"stop"`
	DaysOfWeek uint8  `yaml:"days_of_week"`
}

const AllDays uint8 = 0x7f

func (t Timer) Valid() bool {
	return t.Start.Valid() && t.Stop.Valid() && t.DaysOfWeek <= AllDays
}

// Allows reports whether autonomous mowing may start at dt.  An inactive timer always
// allows.  A window whose stop is before its start wraps past midnight and belongs to
// the weekday on which it started.
func (t Timer) Allows(dt Datetime) bool {
	if !t.Active {
		return true
	}
	now := dt.Time.minutes()
	start, stop := t.Start.minutes(), t.Stop.minutes()
	day := dt.Date.DayOfWeek % 7

	if start <= stop {
		return t.dayEnabled(day) && now >= start && now < stop
	}
	if now >= start {
		return t.dayEnabled(day)
	}
	if now < stop {
		return t.dayEnabled((day + 6) % 7)
	}
	return false
}

func (t Timer) dayEnabled(day uint8) bool {
	return t.DaysOfWeek&(1<<day) != 0
}
