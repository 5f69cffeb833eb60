package traveltime

import (
	"math"

	"routeday/internal/config"
	"routeday/internal/geo"
)

// Fallback modes recorded in pair diagnostics.
const (
	ModeProvider = "provider"
	ModeFallback = "fallback"
	ModeCache    = "cache"
)

// FallbackEstimate computes a deterministic travel time when the live
// provider is unavailable or implausible: haversine distance inflated to a
// road distance, divided by a speed band chosen from day type and local
// rush/night windows, rounded up to whole minutes and clamped to the
// ceiling.
func FallbackEstimate(lat1, lng1, lat2, lng2 float64, dayType string, minuteOfDay int, p config.Policy) int {
	meters := geo.HaversineMeters(lat1, lng1, lat2, lng2) * p.RoadInflation
	kph := speedBand(dayType, minuteOfDay, p)
	minutes := int(math.Ceil(meters / 1000.0 / kph * 60.0))
	if minutes < 0 {
		minutes = 0
	}
	if minutes > p.CeilingMinutes {
		minutes = p.CeilingMinutes
	}
	return minutes
}

func speedBand(dayType string, minuteOfDay int, p config.Policy) float64 {
	hour := minuteOfDay / 60
	if inWindow(hour, p.NightWindow) {
		return p.SpeedNightKph
	}
	if dayType == DayWeekend {
		return p.SpeedWeekendKph
	}
	for _, w := range p.RushWindows {
		if inWindow(hour, w) {
			return p.SpeedRushKph
		}
	}
	return p.SpeedWeekdayKph
}

// inWindow treats Start > End as a window wrapping midnight.
func inWindow(hour int, w config.HourWindow) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}
