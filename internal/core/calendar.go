package core

import "time"

// OverflowPolicy decides where a monthly occurrence lands when the target day
// does not exist in the month (e.g. the 31st in April).
type OverflowPolicy string

const (
	LastDayOfMonth      OverflowPolicy = "lastDayOfMonth"
	FirstDayOfNextMonth OverflowPolicy = "firstDayOfNextMonth"
)

// Weekday numbers days Sunday=1 ... Saturday=7.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// WeekdayOf returns the Weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(int(t.Weekday()) + 1)
}

// Valid reports whether w is within Sunday..Saturday.
func (w Weekday) Valid() bool {
	return w >= Sunday && w <= Saturday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return "invalid"
	}
	return time.Weekday(w - 1).String()
}

// DaysInMonth returns the number of days of month in year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ResolveMonthDay returns the date for day in (year, month), applying overflow
// when the month is too short. Clock fields and location are copied from ref.
func ResolveMonthDay(year int, month time.Month, day int, overflow OverflowPolicy, ref time.Time) time.Time {
	last := DaysInMonth(year, month)
	if day >= 1 && day <= last {
		return atClock(year, month, day, ref)
	}
	if overflow == FirstDayOfNextMonth {
		y, m := nextMonth(year, month)
		return atClock(y, m, 1, ref)
	}
	return atClock(year, month, last, ref)
}

// AddDaysKeepClock moves t by n calendar days keeping its wall clock.
func AddDaysKeepClock(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return atClock(y, m, d+n, t)
}

// EpochDay counts civil days from 1970-01-01 to t's calendar date.
// The count is taken on t's wall date so it does not depend on the UTC offset.
func EpochDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func atClock(year int, month time.Month, day int, ref time.Time) time.Time {
	return time.Date(year, month, day, ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location())
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
