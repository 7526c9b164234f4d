package schedule

import "time"

// Recurrence is the policy governing whether/how a task's schedule advances
// after a successful send.
type Recurrence string

const (
	Once     Recurrence = "once"
	Daily    Recurrence = "daily"
	Weekly   Recurrence = "weekly"
	Monthly  Recurrence = "monthly"
	Interval Recurrence = "interval"
)

// IntervalUnit is the unit for Interval recurrences.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
)

func (r Recurrence) Valid() bool {
	switch r {
	case Once, Daily, Weekly, Monthly, Interval:
		return true
	}
	return false
}

func (u IntervalUnit) Valid() bool {
	switch u {
	case UnitMinute, UnitHour, UnitDay:
		return true
	}
	return false
}

// Next advances current by one recurrence period, then keeps advancing until
// the result is strictly after now. Each catch-up step silently skips a missed
// occurrence; only the next future slot is produced.
//
// Once yields no next occurrence: Next returns the zero time. The same applies
// when a step fails to advance (e.g. an interval recurrence with a zero value),
// so a malformed task can never spin the caller.
func Next(current time.Time, rec Recurrence, intervalValue int, unit IntervalUnit, now time.Time) time.Time {
	next := step(current, rec, intervalValue, unit)
	if !next.After(current) {
		return time.Time{}
	}
	for !next.After(now) {
		n := step(next, rec, intervalValue, unit)
		if !n.After(next) {
			return time.Time{}
		}
		next = n
	}
	return next
}

// step computes one period forward. Monthly uses naive calendar arithmetic:
// scheduling day 31 rolls into the following month when the target month is
// shorter (inherited policy).
func step(t time.Time, rec Recurrence, intervalValue int, unit IntervalUnit) time.Time {
	switch rec {
	case Daily:
		return t.AddDate(0, 0, 1)
	case Weekly:
		return t.AddDate(0, 0, 7)
	case Monthly:
		return t.AddDate(0, 1, 0)
	case Interval:
		if intervalValue < 1 {
			return t
		}
		switch unit {
		case UnitMinute:
			return t.Add(time.Duration(intervalValue) * time.Minute)
		case UnitHour:
			return t.Add(time.Duration(intervalValue) * time.Hour)
		case UnitDay:
			return t.AddDate(0, 0, intervalValue)
		}
	}
	return t
}

// FirstDaily returns the next instant at hh:mm, today if still ahead of now,
// otherwise tomorrow.
func FirstDaily(now time.Time, hour, minute int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if at.After(now) {
		return at
	}
	return at.AddDate(0, 0, 1)
}

// FirstWeekly returns the next instant at hh:mm on the target weekday, encoded
// 1=Monday..7=Sunday. If today is the target weekday but hh:mm already passed,
// the occurrence is a full 7 days out, never immediate.
func FirstWeekly(now time.Time, weekday, hour, minute int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	cur := int(now.Weekday()) // Sunday=0
	if cur == 0 {
		cur = 7
	}
	ahead := (weekday - cur + 7) % 7
	if ahead == 0 && !at.After(now) {
		ahead = 7
	}
	return at.AddDate(0, 0, ahead)
}

// FirstMonthly returns the next instant at hh:mm on the given day-of-month,
// this month if still ahead of now, otherwise one calendar month later (with
// the same naive rollover policy as step).
func FirstMonthly(now time.Time, day, hour, minute int) time.Time {
	at := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, now.Location())
	if at.After(now) {
		return at
	}
	return at.AddDate(0, 1, 0)
}
