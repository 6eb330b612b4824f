package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c is a finite coordinate inside the WGS84 ranges.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type Pickup struct {
	Coord Coord  `json:"coord"`
	Label string `json:"label"`
}

// RideRoute is fixed for the lifetime of a tracking session.
type RideRoute struct {
	Start   Coord    `json:"start"`
	End     Coord    `json:"end"`
	Pickups []Pickup `json:"pickups"`
}

type Checkpoint struct {
	Label   string `json:"label"`
	Coord   Coord  `json:"coord"`
	Reached bool   `json:"reached"`
}

// LocationFix is one callback from the device location watch.
type LocationFix struct {
	Coord          Coord     `json:"coord"`
	AccuracyMeters float64   `json:"accuracy_m"`
	Timestamp      time.Time `json:"timestamp"`
}

// LocationUpdate is the payload fanned out to observers of a ride.
type LocationUpdate struct {
	RideID    string    `json:"rideId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type Ride struct {
	ID           string        `json:"id"`
	DriverID     string        `json:"driver_id"`
	DriverName   string        `json:"driver_name"`
	Status       string        `json:"status"` // scheduled, active, completed, cancelled
	Start        Coord         `json:"start"`
	End          Coord         `json:"end"`
	StartAddress string        `json:"start_address"`
	EndAddress   string        `json:"end_address"`
	Requests     []RideRequest `json:"requests"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type RideRequest struct {
	ID              string  `json:"id"`
	PassengerID     string  `json:"passenger_id"`
	PassengerName   string  `json:"passenger_name"`
	ParentPhone     string  `json:"parent_phone"`
	Pickup          Coord   `json:"pickup"`
	PickupAddress   string  `json:"pickup_address"`
	Status          string  `json:"status"` // pending, accepted, rejected
	PaymentIntentID string  `json:"payment_intent_id,omitempty"`
	PaymentStatus   string  `json:"payment_status,omitempty"`
	FareAmount      float64 `json:"fare_amount,omitempty"`
}

const (
	RideStatusActive    = "active"
	RideStatusCompleted = "completed"

	RequestStatusAccepted = "accepted"

	PaymentStatusHeld     = "held"
	PaymentStatusCaptured = "captured"
	PaymentStatusReleased = "released"
)

// Route builds the tracking route from the ride and its accepted requests.
// Requests without a usable pickup coordinate are skipped.
func (r *Ride) Route() RideRoute {
	route := RideRoute{Start: r.Start, End: r.End}
	for _, req := range r.Requests {
		if req.Status != RequestStatusAccepted {
			continue
		}
		if !req.Pickup.Valid() || (req.Pickup.Lat == 0 && req.Pickup.Lng == 0) {
			continue
		}
		label := req.PassengerName
		if label == "" {
			label = "Passenger"
		}
		route.Pickups = append(route.Pickups, Pickup{Coord: req.Pickup, Label: label})
	}
	return route
}

// ParentPhones returns the distinct parent numbers of accepted passengers.
func (r *Ride) ParentPhones() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, req := range r.Requests {
		if req.Status != RequestStatusAccepted || req.ParentPhone == "" {
			continue
		}
		if _, ok := seen[req.ParentPhone]; ok {
			continue
		}
		seen[req.ParentPhone] = struct{}{}
		out = append(out, req.ParentPhone)
	}
	return out
}
