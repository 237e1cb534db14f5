package schedule

import (
	"testing"
	"time"
)

func at(day time.Weekday, hour, minute uint8) Datetime {
	return Datetime{
		Time: TimeHM{Hour: hour, Minute: minute},
		Date: Date{DayOfWeek: uint8(day), Day: 1, Month: 1, Year: 2024},
	}
}

func TestInactiveTimerAlwaysAllows(t *testing.T) {
	var timer Timer
	if !timer.Allows(at(time.Monday, 3, 0)) {
		t.Fatal("inactive timer should allow")
	}
}

func TestTimerWindows(t *testing.T) {
	weekdays := uint8(0)
	for d := time.Monday; d <= time.Friday; d++ {
		weekdays |= 1 << uint(d)
	}
	day := Timer{Active: true, Start: TimeHM{9, 0}, Stop: TimeHM{17, 30}, DaysOfWeek: weekdays}
	night := Timer{Active: true, Start: TimeHM{22, 0}, Stop: TimeHM{2, 0}, DaysOfWeek: 1 << uint(time.Friday)}

	for _, tc := range []struct {
		name  string
		timer Timer
		dt    Datetime
		want  bool
	}{
		{"inside", day, at(time.Tuesday, 12, 0), true},
		{"at start", day, at(time.Tuesday, 9, 0), true},
		{"at stop", day, at(time.Tuesday, 17, 30), false},
		{"before", day, at(time.Tuesday, 8, 59), false},
		{"weekend", day, at(time.Saturday, 12, 0), false},
		{"wrap evening", night, at(time.Friday, 23, 0), true},
		{"wrap next morning", night, at(time.Saturday, 1, 0), true},
		{"wrap after stop", night, at(time.Saturday, 2, 0), false},
		{"wrap wrong day", night, at(time.Thursday, 23, 0), false},
		{"wrap sunday to monday", Timer{Active: true, Start: TimeHM{23, 0}, Stop: TimeHM{1, 0}, DaysOfWeek: 1 << uint(time.Saturday)}, at(time.Sunday, 0, 30), true},
	} {
		if got := tc.timer.Allows(tc.dt); got != tc.want {
			t.Errorf("%s: Allows(%v) = %v, want %v", tc.name, tc.dt.Time, got, tc.want)
		}
	}
}

func TestFromTime(t *testing.T) {
	dt := FromTime(time.Date(2024, time.June, 7, 14, 5, 0, 0, time.UTC))
	if dt.Time != (TimeHM{14, 5}) {
		t.Errorf("time = %v", dt.Time)
	}
	if dt.Date != (Date{DayOfWeek: uint8(time.Friday), Day: 7, Month: 6, Year: 2024}) {
		t.Errorf("date = %+v", dt.Date)
	}
	if !dt.Valid() {
		t.Error("expected valid datetime")
	}
}
