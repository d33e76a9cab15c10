package repository

import (
	"context"
	"errors"
	"time"

	"chat_relay_service/internal/relay/domain"

	"gorm.io/gorm"
)

type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository MessageRepository on postgres through gorm
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// AutoMigrateMessages create or update the messages table from domain.Message
func AutoMigrateMessages(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Message{})
}

func (r *gormMessageRepository) Create(ctx context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error) {
	msg := newMessage(sender, receiver, text, ts)
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *gormMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND status IN ?", id, domain.PriorStatuses(status)).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, domain.ErrMessageNotFound
	}
	return false, nil
}

func (r *gormMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *gormMessageRepository) FindConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0)
	err := r.db.WithContext(ctx).
		Where("(sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)", userA, userB, userB, userA).
		Order("timestamp ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *gormMessageRepository) FindAllForUser(ctx context.Context, identity string) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0)
	err := r.db.WithContext(ctx).
		Where("sender = ? OR receiver = ?", identity, identity).
		Order("timestamp DESC").
		Find(&msgs).Error
	return msgs, err
}

func (r *gormMessageRepository) CountUnread(ctx context.Context, receiver, sender string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("sender = ? AND receiver = ? AND status <> ?", sender, receiver, domain.StatusRead).
		Count(&n).Error
	return n, err
}

func (r *gormMessageRepository) FindUndelivered(ctx context.Context, receiver string) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0)
	err := r.db.WithContext(ctx).
		Where("receiver = ? AND status = ?", receiver, domain.StatusSent).
		Order("timestamp ASC").
		Find(&msgs).Error
	return msgs, err
}
