// Package geo holds the small amount of spherical geometry the planner
// needs: great-circle distance and coordinate sanity checks.
package geo

import "math"

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// SameCoord reports whether two stops share exactly the same coordinates.
// Exact equality is intentional: identical records short-circuit to zero
// travel, near-identical ones still go through the provider.
func SameCoord(lat1, lng1, lat2, lng2 float64) bool {
	return lat1 == lat2 && lng1 == lng2
}

// ValidCoord reports whether a latitude/longitude pair is finite and in range.
func ValidCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
