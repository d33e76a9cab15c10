package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_relay_service/internal/relay/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository append-only message log with a forward-only status field
type MessageRepository interface {
	// Create 寫入一筆 status=sent 的訊息並回傳含 id 的結果
	Create(ctx context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error)
	// UpdateStatus 只會往前推進; changed=false 表示已在該狀態或之後 (no-op)
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) (changed bool, err error)
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	// FindConversationMessages both directions between the pair, oldest first
	FindConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error)
	// FindAllForUser every message sent or received by identity, newest first
	FindAllForUser(ctx context.Context, identity string) ([]domain.Message, error)
	// CountUnread messages from sender to receiver whose status is not read
	CountUnread(ctx context.Context, receiver, sender string) (int64, error)
	// FindUndelivered messages addressed to receiver still in sent, oldest first
	FindUndelivered(ctx context.Context, receiver string) ([]domain.Message, error)
}

func newMessage(sender, receiver, text string, ts time.Time) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receiver:  receiver,
		Text:      text,
		Timestamp: ts.UTC(),
		Status:    domain.StatusSent,
	}
}

type mongoMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository on the "messages" collection
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		coll: db.Collection("messages"),
	}
}

// EnsureMessageIndexes pair lookups, per-user listing and the pending scan
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return err
}

func (r *mongoMessageRepository) Create(ctx context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error) {
	msg := newMessage(sender, receiver, text, ts)
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *mongoMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) (bool, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": domain.PriorStatuses(status)}}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// 沒更新到: 不存在, 或已經在該狀態之後
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, domain.ErrMessageNotFound
	}
	return false, nil
}

func (r *mongoMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *mongoMessageRepository) FindConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": userA, "receiver": userB},
		bson.M{"sender": userB, "receiver": userA},
	}}
	return r.find(ctx, filter, 1)
}

func (r *mongoMessageRepository) FindAllForUser(ctx context.Context, identity string) ([]domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": identity},
		bson.M{"receiver": identity},
	}}
	return r.find(ctx, filter, -1)
}

func (r *mongoMessageRepository) CountUnread(ctx context.Context, receiver, sender string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"sender":   sender,
		"receiver": receiver,
		"status":   bson.M{"$ne": domain.StatusRead},
	})
}

func (r *mongoMessageRepository) FindUndelivered(ctx context.Context, receiver string) ([]domain.Message, error) {
	return r.find(ctx, bson.M{"receiver": receiver, "status": domain.StatusSent}, 1)
}

func (r *mongoMessageRepository) find(ctx context.Context, filter bson.M, order int) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: order}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0)
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("cursor All error: %w", err)
	}
	return msgs, nil
}
