package database

import (
	"context"
	"errors"
	"time"

	"github.com/travigo/sytral-relay/pkg/ctdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(instance *MongoInstance) *MongoStore {
	return &MongoStore{
		collection: instance.GetCollection(vehicleLocationEventsCollection),
	}
}

func (s *MongoStore) Save(ctx context.Context, vehicle ctdf.Vehicle) (*ctdf.VehicleLocationEvent, error) {
	event, err := newVehicleLocationEvent(vehicle, time.Now())
	if err != nil {
		return nil, err
	}

	if _, err := s.collection.InsertOne(ctx, event); err != nil {
		return nil, err
	}

	return event, nil
}

func (s *MongoStore) List(ctx context.Context, limit int64) ([]*ctdf.VehicleLocationEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "creationdatetime", Value: -1}}).
		SetLimit(normaliseLimit(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	events := []*ctdf.VehicleLocationEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}

	return events, nil
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.M{})
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*ctdf.VehicleLocationEvent, error) {
	var event *ctdf.VehicleLocationEvent

	err := s.collection.FindOne(ctx, bson.M{"primaryidentifier": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}
