package schedule

import (
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextSingleStep(t *testing.T) {
	t.Parallel()
	cur := at("2025-03-10 09:00")
	now := at("2025-03-10 08:00")

	tests := []struct {
		name  string
		rec   Recurrence
		value int
		unit  IntervalUnit
		want  time.Time
	}{
		{name: "daily", rec: Daily, want: at("2025-03-11 09:00")},
		{name: "weekly", rec: Weekly, want: at("2025-03-17 09:00")},
		{name: "monthly", rec: Monthly, want: at("2025-04-10 09:00")},
		{name: "interval 30m", rec: Interval, value: 30, unit: UnitMinute, want: at("2025-03-10 09:30")},
		{name: "interval 2h", rec: Interval, value: 2, unit: UnitHour, want: at("2025-03-10 11:00")},
		{name: "interval 3d", rec: Interval, value: 3, unit: UnitDay, want: at("2025-03-13 09:00")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Next(cur, tt.rec, tt.value, tt.unit, now)
			if !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextIntervalExactlyNow(t *testing.T) {
	t.Parallel()
	// current == now: one step forward, strictly in the future.
	cur := at("2025-03-10 09:00")
	got := Next(cur, Interval, 30, UnitMinute, cur)
	if want := at("2025-03-10 09:30"); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextCatchUp(t *testing.T) {
	t.Parallel()
	// 95 minutes late on a 30-minute interval: slots at +30, +60, +90 are all
	// skipped; the next slot strictly after now is +120.
	cur := at("2025-03-10 09:00")
	now := cur.Add(95 * time.Minute)
	got := Next(cur, Interval, 30, UnitMinute, now)
	if want := cur.Add(120 * time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextAlwaysStrictlyFuture(t *testing.T) {
	t.Parallel()
	cur := at("2024-01-31 12:00")
	recs := []struct {
		rec   Recurrence
		value int
		unit  IntervalUnit
	}{
		{rec: Daily},
		{rec: Weekly},
		{rec: Monthly},
		{rec: Interval, value: 45, unit: UnitMinute},
		{rec: Interval, value: 7, unit: UnitHour},
	}
	nows := []time.Time{
		cur,
		cur.Add(time.Minute),
		cur.Add(30 * 24 * time.Hour),
		cur.Add(400 * 24 * time.Hour),
	}
	for _, r := range recs {
		for _, now := range nows {
			got := Next(cur, r.rec, r.value, r.unit, now)
			if !got.After(now) {
				t.Fatalf("Next(%s, now=%v) = %v, not strictly after now", r.rec, now, got)
			}
		}
	}
}

func TestNextMonthlyRollover(t *testing.T) {
	t.Parallel()
	// Jan 31 + 1 calendar month rolls through the short month into March.
	cur := at("2025-01-31 08:00")
	got := Next(cur, Monthly, 0, "", at("2025-01-31 09:00"))
	if want := at("2025-03-03 08:00"); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextDegenerate(t *testing.T) {
	t.Parallel()
	cur := at("2025-03-10 09:00")
	now := at("2025-03-11 09:00")

	if got := Next(cur, Once, 0, "", now); !got.IsZero() {
		t.Fatalf("Next(once) = %v, want zero", got)
	}
	// Interval with no value must not spin; it yields no occurrence.
	if got := Next(cur, Interval, 0, UnitMinute, now); !got.IsZero() {
		t.Fatalf("Next(interval, value=0) = %v, want zero", got)
	}
	if got := Next(cur, Interval, 5, "", now); !got.IsZero() {
		t.Fatalf("Next(interval, no unit) = %v, want zero", got)
	}
}

func TestFirstDaily(t *testing.T) {
	t.Parallel()
	now := at("2025-03-10 08:00")
	if got, want := FirstDaily(now, 9, 30), at("2025-03-10 09:30"); !got.Equal(want) {
		t.Fatalf("FirstDaily ahead = %v, want %v", got, want)
	}
	if got, want := FirstDaily(now, 7, 0), at("2025-03-11 07:00"); !got.Equal(want) {
		t.Fatalf("FirstDaily passed = %v, want %v", got, want)
	}
}

func TestFirstWeekly(t *testing.T) {
	t.Parallel()
	// 2025-03-10 is a Monday.
	now := at("2025-03-10 10:00")

	tests := []struct {
		name    string
		weekday int
		hour    int
		want    time.Time
	}{
		{name: "monday later today", weekday: 1, hour: 15, want: at("2025-03-10 15:00")},
		{name: "monday already passed advances full week", weekday: 1, hour: 9, want: at("2025-03-17 09:00")},
		{name: "friday", weekday: 5, hour: 9, want: at("2025-03-14 09:00")},
		{name: "sunday", weekday: 7, hour: 9, want: at("2025-03-16 09:00")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := FirstWeekly(now, tt.weekday, tt.hour, 0)
			if !got.Equal(tt.want) {
				t.Fatalf("FirstWeekly = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFirstMonthly(t *testing.T) {
	t.Parallel()
	now := at("2025-03-10 10:00")
	if got, want := FirstMonthly(now, 15, 9, 0), at("2025-03-15 09:00"); !got.Equal(want) {
		t.Fatalf("FirstMonthly ahead = %v, want %v", got, want)
	}
	if got, want := FirstMonthly(now, 5, 9, 0), at("2025-04-05 09:00"); !got.Equal(want) {
		t.Fatalf("FirstMonthly passed = %v, want %v", got, want)
	}
}
