package database

import (
	"context"
	"time"

	"github.com/travigo/sytral-relay/pkg/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "travigo"

func ConnectMongoDB(cfg config.MongoDBConfig) (*MongoInstance, error) {
	connectionString := defaultMongoConnectionString
	dbName := defaultMongoDatabase

	if cfg.Connection != "" {
		connectionString = cfg.Connection
	}

	if cfg.Database != "" {
		dbName = cfg.Database
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, err
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}

	instance := &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	instance.createIndexes()

	return instance, nil
}

func (m *MongoInstance) GetCollection(collectionName string) *mongo.Collection {
	return m.Database.Collection(collectionName)
}

func (m *MongoInstance) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
