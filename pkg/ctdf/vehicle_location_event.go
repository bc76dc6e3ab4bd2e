package ctdf

import "time"

// VehicleLocationEvent is the persisted form of a consumed Vehicle
type VehicleLocationEvent struct {
	PrimaryIdentifier string `json:"id"`

	CreationDateTime time.Time `json:"received_at"`

	Line       *string `json:"line,omitempty"`
	VehicleRef *string `json:"vehicle_ref,omitempty"`
	Direction  *string `json:"direction,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	VehicleLocation Location `json:"location"`
}

func (e *VehicleLocationEvent) Vehicle() Vehicle {
	return Vehicle{
		Line:       e.Line,
		VehicleRef: e.VehicleRef,
		Direction:  e.Direction,
		Latitude:   e.VehicleLocation.Latitude(),
		Longitude:  e.VehicleLocation.Longitude(),
		Timestamp:  e.Timestamp,
	}
}
