package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type conversationDocument struct {
	ID        string       `bson:"_id"`
	Messages  Conversation `bson:"messages"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

// MongoBackend хранит каждый диалог отдельным документом коллекции.
type MongoBackend struct {
	collection *mongo.Collection
}

// NewMongoBackend создаёт MongoBackend.
// collectionName по умолчанию "conversations".
func NewMongoBackend(db *mongo.Database, collectionName string) *MongoBackend {
	if collectionName == "" {
		collectionName = "conversations"
	}
	return &MongoBackend{collection: db.Collection(collectionName)}
}

func (b *MongoBackend) Load(ctx context.Context, key string) (Conversation, bool, error) {
	raw, err := b.collection.FindOne(ctx, bson.M{"_id": key}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find conversation %q: %w", key, err)
	}

	var doc conversationDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("%w: key %q: %v", ErrInvalidConversationState, key, err)
	}
	return doc.Messages, true, nil
}

func (b *MongoBackend) Save(ctx context.Context, key string, conv Conversation) error {
	update := bson.M{"$set": bson.M{
		"messages":   conv,
		"updated_at": time.Now().UTC(),
	}}
	opts := options.Update().SetUpsert(true)
	_, err := b.collection.UpdateOne(ctx, bson.M{"_id": key}, update, opts)
	if err != nil {
		return fmt.Errorf("upsert conversation %q: %w", key, err)
	}
	return nil
}
