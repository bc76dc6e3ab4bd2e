package ctdf

import "time"

// Vehicle is a single position report for one vehicle as seen in the feed
type Vehicle struct {
	Line       *string `json:"line"`
	VehicleRef *string `json:"vehicle_ref"`
	Direction  *string `json:"direction"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Timestamp time.Time `json:"timestamp"`
}

// Normalise returns the canonical form of the vehicle. Empty optional strings
// become absent and the timestamp is truncated to whole seconds in UTC.
func (v Vehicle) Normalise() Vehicle {
	v.Line = normaliseRef(v.Line)
	v.VehicleRef = normaliseRef(v.VehicleRef)
	v.Direction = normaliseRef(v.Direction)
	v.Timestamp = v.Timestamp.Truncate(time.Second).UTC()

	return v
}

func (v Vehicle) Location() Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{v.Longitude, v.Latitude},
	}
}

func normaliseRef(ref *string) *string {
	if ref == nil || *ref == "" {
		return nil
	}

	value := *ref
	return &value
}

// VehicleBatch is the set of vehicles produced by one poll of the feed.
// Record order is preserved all the way through to the subscribers.
type VehicleBatch []Vehicle

func (b VehicleBatch) Normalise() VehicleBatch {
	normalised := make(VehicleBatch, len(b))
	for i, vehicle := range b {
		normalised[i] = vehicle.Normalise()
	}

	return normalised
}

func StringRef(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}
