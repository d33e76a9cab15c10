package app

import (
	"context"
	"sync"
	"time"

	"chat_relay_service/internal/relay/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Create mock create message
func (m *MockMessageRepository) Create(ctx context.Context, sender, receiver, text string, ts time.Time) (*domain.Message, error) {
	args := m.Called(ctx, sender, receiver, text, ts)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateStatus mock update status
func (m *MockMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

// FindByID mock find message by id
func (m *MockMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindConversationMessages mock find conversation
func (m *MockMessageRepository) FindConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindAllForUser mock find all messages of a user
func (m *MockMessageRepository) FindAllForUser(ctx context.Context, identity string) ([]domain.Message, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountUnread mock count unread
func (m *MockMessageRepository) CountUnread(ctx context.Context, receiver, sender string) (int64, error) {
	args := m.Called(ctx, receiver, sender)
	return args.Get(0).(int64), args.Error(1)
}

// FindUndelivered mock find pending messages
func (m *MockMessageRepository) FindUndelivered(ctx context.Context, receiver string) ([]domain.Message, error) {
	args := m.Called(ctx, receiver)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPresenceStore Mock PresenceStore
type MockPresenceStore struct {
	mock.Mock
}

// MarkOnline mock mark online
func (m *MockPresenceStore) MarkOnline(ctx context.Context, identity, owner string, ttl time.Duration) error {
	args := m.Called(ctx, identity, owner, ttl)
	return args.Error(0)
}

// Heartbeat mock heartbeat
func (m *MockPresenceStore) Heartbeat(ctx context.Context, identity, owner string) error {
	args := m.Called(ctx, identity, owner)
	return args.Error(0)
}

// MarkOffline mock mark offline
func (m *MockPresenceStore) MarkOffline(ctx context.Context, identity, owner string) error {
	args := m.Called(ctx, identity, owner)
	return args.Error(0)
}

// IsOnline mock is online
func (m *MockPresenceStore) IsOnline(ctx context.Context, identity string) (bool, error) {
	args := m.Called(ctx, identity)
	return args.Bool(0), args.Error(1)
}

// MockEventPublisher Mock EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

// Publish mock publish lifecycle event
func (m *MockEventPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// Close mock close
func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeConnection 記錄所有送出的 response
type fakeConnection struct {
	id       string
	verified string

	mu       sync.Mutex
	sent     []domain.WSResponse
	closed   bool
	failSend bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{id: uuid.New().String()}
}

func (c *fakeConnection) ID() string { return c.id }

func (c *fakeConnection) VerifiedIdentity() string { return c.verified }

func (c *fakeConnection) Send(resp domain.WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return domain.ErrConnectionClosed
	}
	c.sent = append(c.sent, resp)
	return nil
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events responses of one event type, in send order
func (c *fakeConnection) events(ev domain.Event) []domain.WSResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.WSResponse
	for _, r := range c.sent {
		if r.Event == ev {
			out = append(out, r)
		}
	}
	return out
}

func (c *fakeConnection) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// loopBridge in-process bridge delivering to every node, like a redis pattern subscription
type loopBridge struct {
	mu    sync.Mutex
	nodes []*Relay
	count int
}

func (b *loopBridge) Publish(ctx context.Context, identity string, env domain.BridgeEnvelope) error {
	b.mu.Lock()
	nodes := append([]*Relay(nil), b.nodes...)
	b.count++
	b.mu.Unlock()
	for _, n := range nodes {
		n.HandleBridge(ctx, identity, env)
	}
	return nil
}

func (b *loopBridge) published() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
