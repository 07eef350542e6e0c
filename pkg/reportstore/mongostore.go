package reportstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore upserts records into a collection keyed by _id.
type MongoStore struct {
	Collection *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	return &MongoStore{Collection: client.Database(dbName).Collection(collName)}
}

func (m *MongoStore) Save(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("run record has no id")
	}
	_, err := m.Collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func (m *MongoStore) Load(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	err := m.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return rec, ErrNotFound
		}
		return rec, fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	return rec, nil
}
