package traveltime

import (
	"testing"
	"time"

	"routeday/internal/config"
)

func TestDayType(t *testing.T) {
	// 2026-08-31 is a Monday, 2026-09-05 a Saturday.
	mon := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	sat := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)
	if got := DayType(mon); got != DayWeekday {
		t.Fatalf("monday: %s", got)
	}
	if got := DayType(sat); got != DayWeekend {
		t.Fatalf("saturday: %s", got)
	}
}

func TestBucketStart(t *testing.T) {
	cases := []struct {
		minute, width, want int
	}{
		{0, 30, 0},
		{29, 30, 0},
		{30, 30, 30},
		{545, 30, 540}, // 09:05 -> 09:00
		{545, 60, 540}, // 09:05 -> 09:00
		{610, 60, 600}, // 10:10 -> 10:00
		{1439, 30, 1410},
	}
	for _, c := range cases {
		if got := BucketStart(c.minute, c.width); got != c.want {
			t.Fatalf("BucketStart(%d,%d) = %d, want %d", c.minute, c.width, got, c.want)
		}
	}
}

func TestBucketWidthByDayType(t *testing.T) {
	p := config.Default()
	if BucketWidth(DayWeekday, p) != p.WeekdayBucketMin {
		t.Fatal("weekday width")
	}
	if BucketWidth(DayWeekend, p) != p.WeekendBucketMin {
		t.Fatal("weekend width")
	}
}

func TestParseDeparture(t *testing.T) {
	p := config.Default()
	if got := ParseDeparture("08:30", p); got != 8*60+30 {
		t.Fatalf("08:30 -> %d", got)
	}
	// Malformed values silently fall back to the policy default.
	for _, bad := range []string{"", "25:00", "9", "ab:cd", "12:60"} {
		if got := ParseDeparture(bad, p); got != 9*60 {
			t.Fatalf("%q -> %d, want default 540", bad, got)
		}
	}
}
