package siri_vm

import (
	"time"

	"github.com/travigo/sytral-relay/pkg/ctdf"
)

type VehicleActivity struct {
	RecordedAtTime string

	MonitoredVehicleJourney *MonitoredVehicleJourney
}

type MonitoredVehicleJourney struct {
	LineRef      *Value
	DirectionRef *Value
	VehicleRef   *Value

	VehicleLocation *VehicleLocation
}

// Value is the {"value": "..."} wrapper SIRI-lite uses for references
type Value struct {
	Value string `json:"value"`
}

func (v *Value) ref() *string {
	if v == nil {
		return nil
	}
	return ctdf.StringRef(v.Value)
}

type VehicleLocation struct {
	Longitude *float64
	Latitude  *float64
}

// Vehicle converts the activity into a canonical vehicle. Activities without a
// usable location are reported as not ok.
func (a *VehicleActivity) Vehicle(receivedAt time.Time) (ctdf.Vehicle, bool) {
	journey := a.MonitoredVehicleJourney
	if journey == nil || journey.VehicleLocation == nil {
		return ctdf.Vehicle{}, false
	}

	location := journey.VehicleLocation
	if location.Latitude == nil || location.Longitude == nil {
		return ctdf.Vehicle{}, false
	}

	timestamp := receivedAt
	if a.RecordedAtTime != "" {
		if recordedAt, err := time.Parse(time.RFC3339, a.RecordedAtTime); err == nil {
			timestamp = recordedAt
		}
	}

	vehicle := ctdf.Vehicle{
		Line:       journey.LineRef.ref(),
		VehicleRef: journey.VehicleRef.ref(),
		Direction:  journey.DirectionRef.ref(),
		Latitude:   *location.Latitude,
		Longitude:  *location.Longitude,
		Timestamp:  timestamp,
	}

	return vehicle.Normalise(), true
}
