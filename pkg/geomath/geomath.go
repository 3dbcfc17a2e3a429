package geomath

import (
	"math"
)

// Distance calculates the great-circle distance between two points using the
// Haversine formula. Returns distance in kilometers.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371 // Earth's radius in kilometers

	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lng1Rad := lng1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lng2Rad := lng2 * math.Pi / 180

	dlat := lat2Rad - lat1Rad
	dlng := lng2Rad - lng1Rad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dlng/2)*math.Sin(dlng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// AverageCitySpeedKmh is the assumed driving speed for ETA estimates.
const AverageCitySpeedKmh = 30.0

// ETA estimates minutes to cover distanceKm at city speed, rounded up.
// Minimum 2 minutes so clients never show an instant arrival.
func ETA(distanceKm float64) int {
	minutes := int(math.Ceil(distanceKm / AverageCitySpeedKmh * 60))
	if minutes < 2 {
		minutes = 2
	}
	return minutes
}

// Round2 rounds monetary values to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
