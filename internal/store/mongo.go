package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/recall/internal/memory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const entriesCollection = "entries"

// Mongo implements the store facade over a MongoDB collection, one
// document per entry with the embedding stored inline.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	coll := client.Database(database).Collection(entriesCollection)

	// ownerId is on every query path.
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}},
	})
	if err != nil {
		logger.Warn("owner index creation failed", zap.Error(err))
	}

	logger.Info("MongoDB connected", zap.String("database", database))
	return &Mongo{client: client, coll: coll, logger: logger}, nil
}

// Close disconnects the client.
func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Insert persists a new entry document.
func (s *Mongo) Insert(ctx context.Context, e *memory.Entry) error {
	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// GetByID fetches one entry, scoped by owner.
func (s *Mongo) GetByID(ctx context.Context, ownerID, id string) (*memory.Entry, error) {
	var e memory.Entry
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "ownerId": ownerID}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return &e, nil
}

// QueryByOwner streams the owner's entries, pushing the filters down
// into the Mongo query.
func (s *Mongo) QueryByOwner(ctx context.Context, ownerID string, filters []memory.Filter) ([]*memory.Entry, error) {
	query := bson.M{"ownerId": ownerID}
	for _, f := range filters {
		switch f.Kind {
		case memory.FilterTimeRange:
			rng := bson.M{}
			if !f.From.IsZero() {
				rng["$gte"] = f.From
			}
			if !f.To.IsZero() {
				rng["$lte"] = f.To
			}
			if len(rng) > 0 {
				query["createdAt"] = rng
			}
		case memory.FilterCategories:
			query["metadata.category"] = bson.M{"$in": f.Categories}
		case memory.FilterMinScore:
			query["relevanceScore"] = bson.M{"$gte": f.MinScore}
		}
	}

	cursor, err := s.coll.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*memory.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

// UpdateFields applies a partial update to one document.
func (s *Mongo) UpdateFields(ctx context.Context, ownerID, id string, upd memory.FieldUpdate) error {
	set := bson.M{}
	if upd.Body != nil {
		set["body"] = *upd.Body
	}
	if upd.CompressedBody != nil {
		set["compressedBody"] = upd.CompressedBody
	}
	if upd.Compressed != nil {
		set["compressed"] = *upd.Compressed
	}
	if upd.LastAccessedAt != nil {
		set["lastAccessedAt"] = *upd.LastAccessedAt
	}
	if upd.AccessCount != nil {
		set["accessCount"] = *upd.AccessCount
	}
	if upd.RelevanceScore != nil {
		set["relevanceScore"] = *upd.RelevanceScore
	}
	if len(set) == 0 {
		return nil
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "ownerId": ownerID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Delete removes one entry document.
func (s *Mongo) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "ownerId": ownerID})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if res.DeletedCount == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// InsertEmbedding sets the inline embedding of one entry.
func (s *Mongo) InsertEmbedding(ctx context.Context, id string, vector []float32) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"embedding": vector}})
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	if res.MatchedCount == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// GetEmbedding fetches only the embedding field of one entry.
func (s *Mongo) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	var doc struct {
		Embedding []float32 `bson:"embedding"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"embedding": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	if doc.Embedding == nil {
		return nil, memory.ErrNotFound
	}
	return doc.Embedding, nil
}
