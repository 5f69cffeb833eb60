package traveltime

import (
	"testing"

	"routeday/internal/config"
)

// Roughly 10km apart on a meridian.
const (
	latA, lngA = 37.50, 127.00
	latB, lngB = 37.59, 127.00
)

func TestFallbackEstimateSpeedBands(t *testing.T) {
	p := config.Default()

	// Same pair, different conditions: slower bands give longer estimates.
	rush := FallbackEstimate(latA, lngA, latB, lngB, DayWeekday, 8*60, p)
	midday := FallbackEstimate(latA, lngA, latB, lngB, DayWeekday, 13*60, p)
	weekend := FallbackEstimate(latA, lngA, latB, lngB, DayWeekend, 13*60, p)
	night := FallbackEstimate(latA, lngA, latB, lngB, DayWeekday, 23*60, p)

	if !(rush > midday && midday > weekend && weekend > night) {
		t.Fatalf("band ordering broken: rush=%d midday=%d weekend=%d night=%d", rush, midday, weekend, night)
	}
	// Sanity: ~10km * 1.3 / 22kph is a bit over half an hour.
	if midday < 25 || midday > 45 {
		t.Fatalf("midday estimate implausible: %d", midday)
	}
}

func TestFallbackEstimateNightWrapsMidnight(t *testing.T) {
	p := config.Default()
	late := FallbackEstimate(latA, lngA, latB, lngB, DayWeekday, 23*60, p)
	early := FallbackEstimate(latA, lngA, latB, lngB, DayWeekday, 5*60, p)
	if late != early {
		t.Fatalf("23:00 and 05:00 should share the night band: %d vs %d", late, early)
	}
}

func TestFallbackEstimateZeroDistance(t *testing.T) {
	p := config.Default()
	if got := FallbackEstimate(latA, lngA, latA, lngA, DayWeekday, 12*60, p); got != 0 {
		t.Fatalf("zero distance -> %d", got)
	}
}

func TestFallbackEstimateClampsToCeiling(t *testing.T) {
	p := config.Default()
	// Antipodal-ish pair; way beyond a day of driving.
	got := FallbackEstimate(37.5, 127.0, -37.5, -53.0, DayWeekday, 12*60, p)
	if got != p.CeilingMinutes {
		t.Fatalf("want ceiling %d, got %d", p.CeilingMinutes, got)
	}
}
