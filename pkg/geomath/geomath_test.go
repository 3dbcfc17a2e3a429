package geomath

import (
	"math"
	"testing"

	"github.com/ridelink/ridelink-backend/internal/models"
)

func TestDistanceOneDegreeLongitudeAtEquator(t *testing.T) {
	got := Distance(0, 0, 0, 1)
	want := 111.19
	if math.Abs(got-want)/want > 0.005 {
		t.Fatalf("Distance(0,0,0,1) = %.2f, want ~%.2f within 0.5%%", got, want)
	}
}

func TestDistanceZero(t *testing.T) {
	if d := Distance(40.7128, -74.0060, 40.7128, -74.0060); d != 0 {
		t.Fatalf("distance between identical points = %f, want 0", d)
	}
}

func TestETA(t *testing.T) {
	cases := []struct {
		distanceKm float64
		want       int
	}{
		{0, 2},     // floor
		{0.5, 2},   // ceil(1) below floor
		{10, 20},   // 10km at 30km/h
		{10.1, 21}, // rounds up
	}
	for _, c := range cases {
		if got := ETA(c.distanceKm); got != c.want {
			t.Errorf("ETA(%v) = %d, want %d", c.distanceKm, got, c.want)
		}
	}
}

func TestFareStandardNoSurge(t *testing.T) {
	fare := Fare(10, 20, models.ClassStandard, 1.0)
	// 2.5 + 10*1.5 + 20*0.3 = 23.5
	if fare.Total != 23.5 {
		t.Fatalf("total = %v, want 23.5", fare.Total)
	}
	if fare.Base != 2.5 || fare.DistanceFare != 15 || fare.TimeFare != 6 {
		t.Fatalf("unexpected breakdown: %+v", fare)
	}
	// Pure function: same inputs, same output.
	if again := Fare(10, 20, models.ClassStandard, 1.0); again != fare {
		t.Fatalf("fare not deterministic: %+v vs %+v", fare, again)
	}
}

func TestFareMinimumAppliedAfterSurge(t *testing.T) {
	fare := Fare(0.1, 1, models.ClassStandard, 1.0)
	if fare.Total != MinimumFare {
		t.Fatalf("short trip total = %v, want minimum %v", fare.Total, MinimumFare)
	}
}

func TestFareSurgeMultiplies(t *testing.T) {
	base := Fare(10, 20, models.ClassStandard, 1.0)
	surged := Fare(10, 20, models.ClassStandard, 2.0)
	if surged.Total != Round2(base.Total*2) {
		t.Fatalf("surged total = %v, want %v", surged.Total, Round2(base.Total*2))
	}
}

func TestFareUnknownClassFallsBackToStandard(t *testing.T) {
	got := Fare(10, 20, models.VehicleClass("rickshaw"), 1.0)
	want := Fare(10, 20, models.ClassStandard, 1.0)
	if got != want {
		t.Fatalf("unknown class fare = %+v, want standard %+v", got, want)
	}
}
