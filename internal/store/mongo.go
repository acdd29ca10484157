// ABOUTME: MongoDB implementation of the Store interface using mongo-driver v2
// ABOUTME: AppendTurn is a single FindOneAndUpdate upsert against a unique (uid, slotId) index

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoCollection = "conversations"

// MongoStore implements the Store interface using MongoDB
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
	now    func() time.Time
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures the
// unique (uid, slotId) index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store", "driver", "mongo")

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", database)
	return s, nil
}

// ensureIndexes creates the unique slot key and the listing index
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uid", Value: 1}, {Key: "slotId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_uid_slot"),
		},
		{
			Keys: bson.D{{Key: "uid", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	return err
}

// Close disconnects from MongoDB
func (s *MongoStore) Close() error {
	s.logger.Info("closing MongoDB store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the MongoDB connection
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return unavailable("pinging mongo", err)
	}
	return nil
}

// AppendTurn upserts the conversation and pushes the pair in one document update.
// Two concurrent upserts on a missing slot can race on the unique index; the
// loser gets a duplicate key error and retries once as a plain update.
func (s *MongoStore) AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*Conversation, error) {
	if err := ValidateTurn(uid, slotID, userText, botText); err != nil {
		return nil, err
	}

	now := s.now()
	filter := bson.M{"uid": uid, "slotId": slotID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":       newDocumentID(),
			"uid":       uid,
			"slotId":    slotID,
			"createdAt": now,
		},
		"$max": bson.M{"updatedAt": now},
		"$push": bson.M{
			"messages": bson.M{"$each": turnMessages(userText, botText, now)},
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv Conversation
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Debug("upsert raced, retrying", "uid", uid, "slot_id", slotID)
		err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	}
	if err != nil {
		return nil, unavailable("upserting conversation", err)
	}

	normalize(&conv)
	s.logger.Debug("appended turn", "uid", uid, "slot_id", slotID, "messages", len(conv.Messages))
	return &conv, nil
}

// ListSlots returns the user's conversations, most recently created first
func (s *MongoStore) ListSlots(ctx context.Context, uid string) ([]Summary, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"uid": uid}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "slotId", Value: -1}}}},
		{{Key: "$project", Value: bson.M{
			"uid":          1,
			"slotId":       1,
			"name":         1,
			"createdAt":    1,
			"updatedAt":    1,
			"messageCount": bson.M{"$size": bson.M{"$ifNull": bson.A{"$messages", bson.A{}}}},
		}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable("querying slots", err)
	}
	defer cursor.Close(ctx)

	slots := make([]Summary, 0)
	for cursor.Next(ctx) {
		var sum Summary
		if err := cursor.Decode(&sum); err != nil {
			return nil, unavailable("decoding slot", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		slots = append(slots, sum)
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("iterating slots", err)
	}
	return slots, nil
}

// GetConversation retrieves a conversation with its full message log.
// Returns ErrNotFound if the slot doesn't exist.
func (s *MongoStore) GetConversation(ctx context.Context, uid, slotID string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	var conv Conversation
	err := s.coll.FindOne(ctx, bson.M{"uid": uid, "slotId": slotID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}

	normalize(&conv)
	return &conv, nil
}

// CreateSlot inserts an empty conversation under a fresh slot ID
func (s *MongoStore) CreateSlot(ctx context.Context, uid, name string) (*Conversation, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	now := s.now()
	conv := &Conversation{
		ID:        newDocumentID(),
		UID:       uid,
		SlotID:    newSlotID(),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}

	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		return nil, unavailable("inserting conversation", err)
	}

	s.logger.Debug("created slot", "uid", uid, "slot_id", conv.SlotID)
	return conv, nil
}

// RenameSlot sets the display name of an existing conversation.
// Returns ErrNotFound if the slot doesn't exist.
func (s *MongoStore) RenameSlot(ctx context.Context, uid, slotID, name string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	update := bson.M{
		"$max": bson.M{"updatedAt": s.now()},
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		update["$set"] = bson.M{"name": trimmed}
	} else {
		update["$unset"] = bson.M{"name": ""}
	}

	var conv Conversation
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"uid": uid, "slotId": slotID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("renaming conversation", err)
	}

	normalize(&conv)
	return &conv, nil
}

// normalize converts decoded BSON datetimes to UTC and guarantees a non-nil log
func normalize(conv *Conversation) {
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	for i := range conv.Messages {
		conv.Messages[i].TS = conv.Messages[i].TS.UTC()
	}
}

// Ensure MongoStore implements Store interface
var _ Store = (*MongoStore)(nil)
