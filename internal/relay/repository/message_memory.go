package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat_relay_service/internal/relay/domain"
)

type memoryMessageRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Message
	log  []*domain.Message // insertion order
}

// NewMemoryMessageRepository process-local MessageRepository, for dev runs and tests
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{byID: make(map[string]*domain.Message)}
}

func (r *memoryMessageRepository) Create(_ context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error) {
	msg := newMessage(sender, receiver, text, ts)
	stored := *msg

	r.mu.Lock()
	r.byID[msg.ID] = &stored
	r.log = append(r.log, &stored)
	r.mu.Unlock()
	return msg, nil
}

func (r *memoryMessageRepository) UpdateStatus(_ context.Context, id string, status domain.MessageStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.byID[id]
	if !ok {
		return false, domain.ErrMessageNotFound
	}
	if !msg.Status.CanAdvanceTo(status) {
		return false, nil
	}
	msg.Status = status
	return true, nil
}

func (r *memoryMessageRepository) FindByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *memoryMessageRepository) FindConversationMessages(_ context.Context, userA, userB string) ([]domain.Message, error) {
	out := r.filter(func(m *domain.Message) bool {
		return (m.Sender == userA && m.Receiver == userB) || (m.Sender == userB && m.Receiver == userA)
	})
	sortByTime(out, true)
	return out, nil
}

func (r *memoryMessageRepository) FindAllForUser(_ context.Context, identity string) ([]domain.Message, error) {
	out := r.filter(func(m *domain.Message) bool {
		return m.Sender == identity || m.Receiver == identity
	})
	sortByTime(out, false)
	return out, nil
}

func (r *memoryMessageRepository) CountUnread(_ context.Context, receiver, sender string) (int64, error) {
	out := r.filter(func(m *domain.Message) bool {
		return m.Sender == sender && m.IsUnreadFor(receiver)
	})
	return int64(len(out)), nil
}

func (r *memoryMessageRepository) FindUndelivered(_ context.Context, receiver string) ([]domain.Message, error) {
	out := r.filter(func(m *domain.Message) bool {
		return m.Receiver == receiver && m.Status == domain.StatusSent
	})
	sortByTime(out, true)
	return out, nil
}

func (r *memoryMessageRepository) filter(keep func(*domain.Message) bool) []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Message, 0)
	for _, m := range r.log {
		if keep(m) {
			out = append(out, *m)
		}
	}
	return out
}

func sortByTime(msgs []domain.Message, ascending bool) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if ascending {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
}
