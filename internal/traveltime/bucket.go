package traveltime

import (
	"strconv"
	"strings"
	"time"

	"routeday/internal/config"
)

// Day types used for bucket width and fallback speed selection.
const (
	DayWeekday = "weekday"
	DayWeekend = "weekend"
)

// DayType classifies a plan date in the policy's civil calendar.
func DayType(planDate time.Time) string {
	switch planDate.Weekday() {
	case time.Saturday, time.Sunday:
		return DayWeekend
	default:
		return DayWeekday
	}
}

// BucketWidth returns the cache bucket width in minutes for a day type.
// Weekends use coarser buckets.
func BucketWidth(dayType string, p config.Policy) int {
	if dayType == DayWeekend {
		return p.WeekendBucketMin
	}
	return p.WeekdayBucketMin
}

// BucketStart floors a minute-of-day into its bucket start.
func BucketStart(minuteOfDay, width int) int {
	if width <= 0 {
		return minuteOfDay
	}
	return (minuteOfDay / width) * width
}

// ParseDeparture parses an "HH:MM" departure into a minute of day,
// silently substituting the policy default when the value is absent or
// malformed.
func ParseDeparture(s string, p config.Policy) int {
	if m, ok := parseHHMM(s); ok {
		return m
	}
	if m, ok := parseHHMM(p.DefaultDeparture); ok {
		return m
	}
	return 9 * 60
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
