package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/engramlabs/memstore/src/memory/model"
)

const mongoCloseTimeout = 5 * time.Second

// MongoRecordStore is a document-backed alternative to the Postgres record
// store for deployments that already run MongoDB.
type MongoRecordStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ RecordStore = (*MongoRecordStore)(nil)

// NewMongoRecordStore connects to MongoDB and pings it before returning.
func NewMongoRecordStore(ctx context.Context, uri, database, collection string) (*MongoRecordStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoRecordStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func mongoDoc(m model.Memory) bson.M {
	return bson.M{
		"_id":        m.ID,
		"type":       string(m.Type),
		"content":    m.Content,
		"workspace":  m.Workspace,
		"metadata":   model.EncodeMetadata(m.Metadata),
		"created_at": m.CreatedAt.UTC(),
		"updated_at": m.UpdatedAt.UTC(),
	}
}

// Insert writes one document; a duplicate id fails on _id.
func (ms *MongoRecordStore) Insert(ctx context.Context, m model.Memory) error {
	if _, err := ms.collection.InsertOne(ctx, mongoDoc(m)); err != nil {
		return fmt.Errorf("mongo insert %s: %w", m.ID, err)
	}
	return nil
}

// InsertBatch writes all documents in a single InsertMany call.
func (ms *MongoRecordStore) InsertBatch(ctx context.Context, mems []model.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	docs := make([]any, 0, len(mems))
	for _, m := range mems {
		docs = append(docs, mongoDoc(m))
	}
	if _, err := ms.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("mongo batch insert (%d docs): %w", len(mems), err)
	}
	return nil
}

// Update applies a $set with only the changed fields.
func (ms *MongoRecordStore) Update(ctx context.Context, id string, u model.Update, updatedAt time.Time) error {
	set := bson.M{"updated_at": updatedAt.UTC()}
	if u.Type != nil {
		set["type"] = string(*u.Type)
	}
	if u.Content != nil {
		set["content"] = *u.Content
	}
	if u.Workspace != nil {
		set["workspace"] = *u.Workspace
	}
	if u.Metadata != nil {
		set["metadata"] = model.EncodeMetadata(u.Metadata)
	}
	res, err := ms.collection.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongo update %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo update %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get fetches one document; a missing id is (nil, nil).
func (ms *MongoRecordStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	var doc struct {
		ID        string    `bson:"_id"`
		Type      string    `bson:"type"`
		Content   string    `bson:"content"`
		Workspace string    `bson:"workspace"`
		Metadata  string    `bson:"metadata"`
		CreatedAt time.Time `bson:"created_at"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
	err := ms.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo get %s: %w", id, err)
	}
	return &model.Memory{
		ID:        doc.ID,
		Type:      model.MemoryType(doc.Type),
		Content:   doc.Content,
		Workspace: doc.Workspace,
		Metadata:  model.DecodeMetadata(doc.Metadata),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Delete removes one document; deleting an absent id is not an error.
func (ms *MongoRecordStore) Delete(ctx context.Context, id string) error {
	if _, err := ms.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongo delete %s: %w", id, err)
	}
	return nil
}

// Count returns the total number of documents.
func (ms *MongoRecordStore) Count(ctx context.Context) (int64, error) {
	count, err := ms.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("mongo count: %w", err)
	}
	return count, nil
}

// Ping verifies connectivity.
func (ms *MongoRecordStore) Ping(ctx context.Context) error {
	return ms.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (ms *MongoRecordStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
