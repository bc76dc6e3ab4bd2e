package feedpoller

import (
	"fmt"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/siri_vm"
	"google.golang.org/protobuf/proto"
)

// ParseFunc turns one feed body into a batch
type ParseFunc func(body []byte, receivedAt time.Time) (ctdf.VehicleBatch, error)

func ParserFor(format string) (ParseFunc, error) {
	switch format {
	case config.FeedFormatSiriLite, "":
		return siri_vm.ParseVehicles, nil
	case config.FeedFormatGTFSRT:
		return ParseGTFSRealtime, nil
	default:
		return nil, fmt.Errorf("feed format %q is not supported", format)
	}
}

// ParseGTFSRealtime reads the VehiclePosition entities of a GTFS-Realtime feed.
// Entities without a position are dropped.
func ParseGTFSRealtime(body []byte, receivedAt time.Time) (ctdf.VehicleBatch, error) {
	feed := gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode gtfs-rt feed: %w", err)
	}

	batch := ctdf.VehicleBatch{}

	for _, entity := range feed.GetEntity() {
		vehiclePosition := entity.GetVehicle()
		if vehiclePosition == nil || vehiclePosition.GetPosition() == nil {
			continue
		}

		position := vehiclePosition.GetPosition()
		trip := vehiclePosition.GetTrip()

		recordedAt := receivedAt
		if vehiclePosition.Timestamp != nil {
			recordedAt = time.Unix(int64(vehiclePosition.GetTimestamp()), 0)
		}

		vehicle := ctdf.Vehicle{
			Line:       ctdf.StringRef(trip.GetRouteId()),
			VehicleRef: ctdf.StringRef(vehiclePosition.GetVehicle().GetId()),
			Latitude:   float64(position.GetLatitude()),
			Longitude:  float64(position.GetLongitude()),
			Timestamp:  recordedAt,
		}
		if trip.DirectionId != nil {
			vehicle.Direction = ctdf.StringRef(fmt.Sprintf("%d", trip.GetDirectionId()))
		}

		batch = append(batch, vehicle.Normalise())
	}

	return batch, nil
}
