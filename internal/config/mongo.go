package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the workspace snapshot store.
const (
	WorkspacesCollection   = "workspaces"
	IndexEntriesCollection = "index_entries"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	err = createIndexes(ctx, client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Entries are reloaded in insertion order per workspace save
	entryIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "workspace_id", Value: 1}, {Key: "generation", Value: 1}, {Key: "position", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "chunk.source_name", Value: 1}},
		},
	}
	if _, err := db.Collection(IndexEntriesCollection).Indexes().CreateMany(ctx, entryIndexes); err != nil {
		return err
	}

	workspaceIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "saved_at", Value: -1}}},
	}
	if _, err := db.Collection(WorkspacesCollection).Indexes().CreateMany(ctx, workspaceIndexes); err != nil {
		return err
	}

	return nil
}
