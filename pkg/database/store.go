package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

var ErrNotFound = errors.New("vehicle location event not found")

const DefaultListLimit = 100

// DataStore persists consumed vehicle positions for the read API
type DataStore interface {
	Save(ctx context.Context, vehicle ctdf.Vehicle) (*ctdf.VehicleLocationEvent, error)
	List(ctx context.Context, limit int64) ([]*ctdf.VehicleLocationEvent, error)
	Count(ctx context.Context) (int64, error)
	FindByID(ctx context.Context, id string) (*ctdf.VehicleLocationEvent, error)
}

func newVehicleLocationEvent(vehicle ctdf.Vehicle, receivedAt time.Time) (*ctdf.VehicleLocationEvent, error) {
	event := &ctdf.VehicleLocationEvent{}
	if err := copier.Copy(event, &vehicle); err != nil {
		return nil, err
	}

	event.PrimaryIdentifier = uuid.NewString()
	event.CreationDateTime = receivedAt.UTC()
	event.VehicleLocation = vehicle.Location()

	return event, nil
}

func normaliseLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
