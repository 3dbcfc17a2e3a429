package geomath

import (
	"github.com/ridelink/ridelink-backend/internal/models"
)

// Per-class rates. Base fare plus per-kilometer and per-minute components,
// multiplied by the surge factor; the minimum fare floor is applied after
// surge.
const (
	MinimumFare = 5.00
	Currency    = "USD"
)

type classRates struct {
	Base      float64
	PerKm     float64
	PerMinute float64
}

var rateTable = map[models.VehicleClass]classRates{
	models.ClassStandard: {Base: 2.50, PerKm: 1.50, PerMinute: 0.30},
	models.ClassComfort:  {Base: 4.00, PerKm: 2.00, PerMinute: 0.45},
	models.ClassPremium:  {Base: 6.00, PerKm: 3.00, PerMinute: 0.70},
}

// Fare prices a trip of distanceKm kilometers and durationMin minutes for the
// given vehicle class and surge multiplier. Unknown classes fall back to
// standard rates. All monetary components are rounded to 2 decimal places.
func Fare(distanceKm float64, durationMin int, class models.VehicleClass, surge float64) models.FareBreakdown {
	rates, ok := rateTable[class]
	if !ok {
		rates = rateTable[models.ClassStandard]
	}
	if surge < 1.0 {
		surge = 1.0
	}

	distanceFare := distanceKm * rates.PerKm
	timeFare := float64(durationMin) * rates.PerMinute
	total := (rates.Base + distanceFare + timeFare) * surge
	if total < MinimumFare {
		total = MinimumFare
	}

	return models.FareBreakdown{
		Base:         Round2(rates.Base),
		DistanceFare: Round2(distanceFare),
		TimeFare:     Round2(timeFare),
		Surge:        surge,
		Total:        Round2(total),
		Currency:     Currency,
	}
}
