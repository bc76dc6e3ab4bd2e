package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const vehicleLocationEventsCollection = "vehicle_location_events"

func (m *MongoInstance) createIndexes() {
	vehicleLocationEvents := m.GetCollection(vehicleLocationEventsCollection)
	_, err := vehicleLocationEvents.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "vehicleref", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "vehiclelocation", Value: "2dsphere"}},
		},
		{
			Keys:    bson.D{{Key: "creationdatetime", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(24 * 3600), // Expire after 24 hours
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
