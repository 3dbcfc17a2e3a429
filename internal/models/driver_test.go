package models

import "testing"

func TestClassCompatible(t *testing.T) {
	cases := []struct {
		want, have VehicleClass
		ok         bool
	}{
		{ClassStandard, ClassStandard, true},
		{ClassStandard, ClassComfort, true},
		{ClassStandard, ClassPremium, true},
		{ClassComfort, ClassStandard, false},
		{ClassComfort, ClassComfort, true},
		{ClassComfort, ClassPremium, true},
		{ClassPremium, ClassStandard, false},
		{ClassPremium, ClassComfort, false},
		{ClassPremium, ClassPremium, true},
	}
	for _, c := range cases {
		if got := ClassCompatible(c.want, c.have); got != c.ok {
			t.Errorf("ClassCompatible(%s, %s) = %v, want %v", c.want, c.have, got, c.ok)
		}
	}
}

func TestRecordRating(t *testing.T) {
	d := DriverAvailability{Rating: 5}

	d.RecordRating(3)
	if d.Rating != 3 || d.RatingCount != 1 {
		t.Fatalf("after first rating: %+v", d)
	}

	d.RecordRating(5)
	if d.Rating != 4 || d.RatingCount != 2 {
		t.Fatalf("after second rating: %+v", d)
	}
}

func TestRecordOffer(t *testing.T) {
	var d DriverAvailability

	d.RecordOffer(true)
	d.RecordOffer(true)
	d.RecordOffer(false)
	d.RecordOffer(true)

	if d.OffersReceived != 4 || d.OffersAccepted != 3 {
		t.Fatalf("offers = %+v", d)
	}
	if d.AcceptanceRate != 0.75 {
		t.Fatalf("acceptance rate = %.2f", d.AcceptanceRate)
	}
}

func TestCancellationAndCompletionRates(t *testing.T) {
	var d DriverAvailability

	d.RecordCompletion()
	d.RecordCompletion()
	d.RecordCompletion()
	d.RecordCancellation()

	if d.CompletedRides != 3 || d.RidesCancelled != 1 {
		t.Fatalf("counts = %+v", d)
	}
	if d.CancellationRate != 0.25 {
		t.Fatalf("cancellation rate = %.2f", d.CancellationRate)
	}
}
