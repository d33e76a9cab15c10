package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/internal/relay/repository"
	"chat_relay_service/pkg/logger"
	"chat_relay_service/pkg/workerpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTTL = 15 * time.Second

func newTestRelay(t *testing.T, opts ...func(*RelayOptions)) (*Relay, *repository.MemoryPresenceStore, repository.MessageRepository) {
	t.Helper()
	logger.SetNewNop()

	o := RelayOptions{PresenceTTL: testTTL, NodeID: "node-a"}
	for _, f := range opts {
		f(&o)
	}
	presence := repository.NewMemoryPresenceStore(testTTL, o.NodeID)
	msgs := repository.NewMemoryMessageRepository()
	return NewRelay(NewRegistry(), presence, msgs, nil, nil, o), presence, msgs
}

func withRedeliver(o *RelayOptions) { o.RedeliverOnRegister = true }

func request(t *testing.T, ev domain.Event, data interface{}) domain.WSRequest {
	t.Helper()
	if data == nil {
		return domain.WSRequest{Event: ev}
	}
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return domain.WSRequest{Event: ev, Data: b}
}

func register(t *testing.T, r *Relay, conn Connection, identity string) {
	t.Helper()
	r.Dispatch(context.Background(), conn, request(t, domain.Register, identity))
}

func send(t *testing.T, r *Relay, conn Connection, sender, receiver, text string) {
	t.Helper()
	r.Dispatch(context.Background(), conn, request(t, domain.SendMessage, domain.SendMessageRequest{
		Sender: sender, Receiver: receiver, Text: text,
	}))
}

// u1 傳給 u2, u2 已讀
func TestRelay_SendAndReadScenario(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()

	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	require.Len(t, c1.events(domain.Register), 1)
	assert.True(t, c1.events(domain.Register)[0].Success)

	send(t, r, c1, "u1", "u2", "hi")

	acks := c1.events(domain.SendMessage)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)

	recv := c2.events(domain.ReceiveMessage)
	require.Len(t, recv, 1)
	m := recv[0].Data.(domain.Message)
	assert.Equal(t, "u1", m.Sender)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, domain.StatusDelivered, m.Status)
	assert.NotEmpty(t, m.ID)

	updates := c1.events(domain.MessageStatusUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusUpdate{ID: m.ID, Status: domain.StatusDelivered}, updates[0].Data)

	unread := c2.events(domain.UnreadCountUpdate)
	require.Len(t, unread, 1)
	assert.Equal(t, domain.UnreadCount{Sender: "u1", Unread: 1}, unread[0].Data)

	stored, err := msgs.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)

	r.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"}))

	readAcks := c2.events(domain.ReadMessage)
	require.Len(t, readAcks, 1)
	assert.True(t, readAcks[0].Success)

	updates = c1.events(domain.MessageStatusUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, domain.StatusUpdate{ID: m.ID, Status: domain.StatusRead}, updates[1].Data)

	unread = c2.events(domain.UnreadCountUpdate)
	assert.Equal(t, domain.UnreadCount{Sender: "u1", Unread: 0}, unread[len(unread)-1].Data)

	// receiver 不會收到自己的 status update
	assert.Empty(t, c2.events(domain.MessageStatusUpdate))
}

func TestRelay_SendToUnregisteredReceiverStaysSent(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1 := newFakeConnection()
	register(t, r, c1, "u1")

	send(t, r, c1, "u1", "u2", "are you there")

	acks := c1.events(domain.SendMessage)
	require.Len(t, acks, 1)
	require.True(t, acks[0].Success)
	m := acks[0].Data.(*domain.Message)

	assert.Empty(t, c1.events(domain.MessageStatusUpdate))
	stored, err := msgs.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestRelay_ForwardFailureKeepsSent(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	c2.failSend = true

	send(t, r, c1, "u1", "u2", "lost")

	m := c1.events(domain.SendMessage)[0].Data.(*domain.Message)
	stored, err := msgs.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Empty(t, c1.events(domain.MessageStatusUpdate))
}

func TestRelay_PerPairOrder(t *testing.T) {
	r, _, _ := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")

	for _, text := range []string{"one", "two", "three"} {
		send(t, r, c1, "u1", "u2", text)
	}

	recv := c2.events(domain.ReceiveMessage)
	require.Len(t, recv, 3)
	for i, text := range []string{"one", "two", "three"} {
		assert.Equal(t, text, recv[i].Data.(domain.Message).Text)
	}
}

func TestRelay_DisconnectRemovesEveryIdentity(t *testing.T) {
	ctx := context.Background()
	r, presence, _ := newTestRelay(t)
	conn := newFakeConnection()

	register(t, r, conn, "a")
	register(t, r, conn, "b")
	for _, id := range []string{"a", "b"} {
		online, _ := presence.IsOnline(ctx, id)
		assert.True(t, online)
	}

	r.Disconnect(ctx, conn)

	for _, id := range []string{"a", "b"} {
		_, ok := r.registry.Lookup(id)
		assert.False(t, ok)
		online, _ := presence.IsOnline(ctx, id)
		assert.False(t, online, id)
	}

	// 第二次 disconnect 不做事也不出錯
	assert.NotPanics(t, func() { r.Disconnect(ctx, conn) })
	assert.Equal(t, 0, r.registry.Len())
}

func TestRelay_RegisterEvictsPreviousConnection(t *testing.T) {
	ctx := context.Background()
	r, presence, _ := newTestRelay(t)
	old, fresh := newFakeConnection(), newFakeConnection()

	register(t, r, old, "u1")
	register(t, r, fresh, "u1")

	replaced := old.events(domain.SessionReplaced)
	require.Len(t, replaced, 1)
	assert.Equal(t, "u1", replaced[0].Data)
	assert.True(t, old.isClosed())

	got, ok := r.registry.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, fresh, got)

	// 舊連線稍後斷線, 不影響新連線的 presence
	r.Disconnect(ctx, old)
	online, _ := presence.IsOnline(ctx, "u1")
	assert.True(t, online)
	_, ok = r.registry.Lookup("u1")
	assert.True(t, ok)
}

func TestRelay_RedeliverOnRegister(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t, withRedeliver)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")

	send(t, r, c1, "u1", "u2", "first")
	send(t, r, c1, "u1", "u2", "second")
	assert.Empty(t, c1.events(domain.MessageStatusUpdate))

	register(t, r, c2, "u2")

	require.NotEmpty(t, c2.sent)
	assert.Equal(t, domain.Register, c2.sent[0].Event, "register ack goes out before redelivery")

	recv := c2.events(domain.ReceiveMessage)
	require.Len(t, recv, 2)
	assert.Equal(t, "first", recv[0].Data.(domain.Message).Text)
	assert.Equal(t, "second", recv[1].Data.(domain.Message).Text)
	assert.Len(t, c1.events(domain.MessageStatusUpdate), 2)

	pending, err := msgs.FindUndelivered(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelay_NoRedeliveryWhenDisabled(t *testing.T) {
	r, _, _ := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	send(t, r, c1, "u1", "u2", "later")

	register(t, r, c2, "u2")
	assert.Empty(t, c2.events(domain.ReceiveMessage))
}

func TestRelay_MalformedRequests(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	repo := new(MockMessageRepository)
	presence := repository.NewMemoryPresenceStore(testTTL, "node-a")
	r := NewRelay(NewRegistry(), presence, repo, nil, nil, RelayOptions{PresenceTTL: testTTL})
	conn := newFakeConnection()

	cases := []domain.WSRequest{
		request(t, domain.Register, ""),
		request(t, domain.Register, map[string]string{"identity": "  "}),
		{Event: domain.SendMessage, Data: json.RawMessage(`{"sender":`)},
		request(t, domain.SendMessage, domain.SendMessageRequest{Sender: "u1", Receiver: "u2"}),
		request(t, domain.SendMessage, domain.SendMessageRequest{Sender: "u1", Text: "x"}),
		{Event: domain.SendMessage},
		request(t, domain.ReadMessage, domain.ReadMessageRequest{Sender: "u1"}),
		request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: "m1"}),
	}
	for _, req := range cases {
		conn.reset()
		r.Dispatch(ctx, conn, req)
		require.Len(t, conn.sent, 1, string(req.Data))
		assert.False(t, conn.sent[0].Success)
		assert.Equal(t, req.Event, conn.sent[0].Event)
		assert.Equal(t, domain.ErrMalformedRequest.Error(), conn.sent[0].Error)
	}

	assert.Empty(t, repo.Calls, "no store access for malformed requests")
	assert.Equal(t, 0, r.registry.Len())
}

func TestRelay_UnknownEvent(t *testing.T) {
	r, _, _ := newTestRelay(t)
	conn := newFakeConnection()

	r.Dispatch(context.Background(), conn, request(t, domain.Event("typing"), nil))

	errs := conn.events(domain.ErrorEvent)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "typing")
}

func TestRelay_PersistenceFailureAbortsSend(t *testing.T) {
	logger.SetNewNop()
	repo := new(MockMessageRepository)
	repo.On("Create", mock.Anything, "u1", "u2", "hi", mock.Anything).Return(nil, errors.New("mongo down"))
	presence := repository.NewMemoryPresenceStore(testTTL, "node-a")
	r := NewRelay(NewRegistry(), presence, repo, nil, nil, RelayOptions{PresenceTTL: testTTL})

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")

	send(t, r, c1, "u1", "u2", "hi")

	acks := c1.events(domain.SendMessage)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Success)
	assert.Contains(t, acks[0].Error, domain.ErrPersistence.Error())
	assert.Empty(t, c2.events(domain.ReceiveMessage))
	assert.Empty(t, c1.events(domain.MessageStatusUpdate))
	repo.AssertExpectations(t)
}

func TestRelay_DeliveredStatusWriteFailureStillNotifies(t *testing.T) {
	logger.SetNewNop()
	msg := &domain.Message{ID: "m1", Sender: "u1", Receiver: "u2", Text: "hi", Status: domain.StatusSent, Timestamp: time.Now()}

	repo := new(MockMessageRepository)
	repo.On("Create", mock.Anything, "u1", "u2", "hi", mock.Anything).Return(msg, nil)
	repo.On("UpdateStatus", mock.Anything, "m1", domain.StatusDelivered).Return(false, errors.New("write timeout"))
	repo.On("CountUnread", mock.Anything, "u2", "u1").Return(int64(1), nil)
	presence := repository.NewMemoryPresenceStore(testTTL, "node-a")
	r := NewRelay(NewRegistry(), presence, repo, nil, nil, RelayOptions{PresenceTTL: testTTL})

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")

	assert.Len(t, c2.events(domain.ReceiveMessage), 1)
	updates := c1.events(domain.MessageStatusUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusUpdate{ID: "m1", Status: domain.StatusDelivered}, updates[0].Data)
	repo.AssertExpectations(t)
}

func TestRelay_PresenceFailureDegrades(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	down := errors.New("redis down")

	presence := new(MockPresenceStore)
	presence.On("MarkOnline", mock.Anything, mock.Anything, mock.Anything, testTTL).Return(down)
	presence.On("Heartbeat", mock.Anything, mock.Anything, mock.Anything).Return(down)
	presence.On("MarkOffline", mock.Anything, mock.Anything, mock.Anything).Return(down)
	presence.On("IsOnline", mock.Anything, mock.Anything).Return(false, down)
	r := NewRelay(NewRegistry(), presence, repository.NewMemoryMessageRepository(), nil, nil, RelayOptions{PresenceTTL: testTTL})

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	assert.True(t, c1.events(domain.Register)[0].Success)

	r.Dispatch(ctx, c1, request(t, domain.Heartbeat, nil))
	assert.True(t, c1.events(domain.Heartbeat)[0].Success)

	send(t, r, c1, "u1", "u2", "still works")
	assert.Len(t, c2.events(domain.ReceiveMessage), 1)

	// 以 registry 為準
	assert.True(t, r.IsOnline(ctx, "u2"))
	assert.False(t, r.IsOnline(ctx, "nobody"))

	r.Disconnect(ctx, c2)
	assert.False(t, r.IsOnline(ctx, "u2"))
}

func TestRelay_HeartbeatKeepsPresence(t *testing.T) {
	ctx := context.Background()
	r, presence, _ := newTestRelay(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	presence.SetClock(func() time.Time { return now })

	conn := newFakeConnection()
	register(t, r, conn, "u1")

	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		r.Dispatch(ctx, conn, request(t, domain.Heartbeat, nil))
		online, _ := presence.IsOnline(ctx, "u1")
		assert.True(t, online)
	}

	now = now.Add(testTTL + time.Second)
	online, _ := presence.IsOnline(ctx, "u1")
	assert.False(t, online)

	// 過期後的 heartbeat 會重建
	r.Dispatch(ctx, conn, request(t, domain.Heartbeat, nil))
	online, _ = presence.IsOnline(ctx, "u1")
	assert.True(t, online)
}

func TestRelay_HeartbeatUnregistered(t *testing.T) {
	r, _, _ := newTestRelay(t)
	conn := newFakeConnection()

	r.Dispatch(context.Background(), conn, request(t, domain.Heartbeat, nil))

	acks := conn.events(domain.Heartbeat)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Success)
	assert.Equal(t, domain.ErrNotRegistered.Error(), acks[0].Error)
}

func TestRelay_ReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")
	m := c2.events(domain.ReceiveMessage)[0].Data.(domain.Message)

	read := request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"})
	r.Dispatch(ctx, c2, read)
	r.Dispatch(ctx, c2, read)

	for _, ack := range c2.events(domain.ReadMessage) {
		assert.True(t, ack.Success)
	}
	// delivered + read, 第二次 read 不再通知
	assert.Len(t, c1.events(domain.MessageStatusUpdate), 2)
}

func TestRelay_ReadRejectsWrongSender(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")
	m := c2.events(domain.ReceiveMessage)[0].Data.(domain.Message)

	r.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u3"}))
	ack := c2.events(domain.ReadMessage)[0]
	assert.False(t, ack.Success)

	stored, _ := msgs.FindByID(ctx, m.ID)
	assert.Equal(t, domain.StatusDelivered, stored.Status)

	r.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: "missing", Sender: "u1"}))
	ack = c2.events(domain.ReadMessage)[1]
	assert.False(t, ack.Success)
	assert.Equal(t, domain.ErrMessageNotFound.Error(), ack.Error)
}

func TestRelay_ReadWhileSenderOffline(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")
	m := c2.events(domain.ReceiveMessage)[0].Data.(domain.Message)
	r.Disconnect(ctx, c1)

	r.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"}))

	assert.True(t, c2.events(domain.ReadMessage)[0].Success)
	stored, _ := msgs.FindByID(ctx, m.ID)
	assert.Equal(t, domain.StatusRead, stored.Status)
}

func TestRelay_SenderMustMatchRegisteredIdentity(t *testing.T) {
	r, _, _ := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")

	send(t, r, c1, "u2", "u1", "spoofed")

	ack := c1.events(domain.SendMessage)[0]
	assert.False(t, ack.Success)
	assert.Equal(t, domain.ErrUnauthorized.Error(), ack.Error)
	assert.Empty(t, c1.events(domain.ReceiveMessage))
}

func TestRelay_VerifiedIdentityMismatch(t *testing.T) {
	r, _, _ := newTestRelay(t)
	conn := newFakeConnection()
	conn.verified = "u1"

	register(t, r, conn, "u2")
	ack := conn.events(domain.Register)[0]
	assert.False(t, ack.Success)
	assert.Equal(t, domain.ErrUnauthorized.Error(), ack.Error)
	assert.Equal(t, 0, r.registry.Len())

	register(t, r, conn, "u1")
	assert.True(t, conn.events(domain.Register)[1].Success)
}

func TestRelay_UnreadCountMatchesStore(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)

	statuses := []domain.MessageStatus{
		domain.StatusSent, domain.StatusRead, domain.StatusDelivered, domain.StatusRead, domain.StatusSent, domain.StatusDelivered,
	}
	want := int64(0)
	for i, s := range statuses {
		m, err := msgs.Create(ctx, "a", "b", "x", time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		if s != domain.StatusSent {
			_, err = msgs.UpdateStatus(ctx, m.ID, s)
			require.NoError(t, err)
		}
		if s != domain.StatusRead {
			want++
		}
	}
	// 反方向的訊息不算
	_, err := msgs.Create(ctx, "b", "a", "y", time.Now())
	require.NoError(t, err)

	got, err := r.UnreadCount(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRelay_ConversationsAndHistory(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRelay(t)
	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	send(t, r, c1, "u1", "u2", "hello")
	send(t, r, c2, "u2", "u1", "hey")
	send(t, r, c1, "u1", "u3", "anyone")

	history, err := r.ConversationMessages(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "hey", history[1].Text)

	convs, err := r.Conversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "u3", convs[0].Counterpart)
	assert.Equal(t, "u2", convs[1].Counterpart)
	assert.Equal(t, "hey", convs[1].LastMessage.Text)
	assert.Equal(t, 1, convs[1].Unread)
}

func TestRelay_LifecycleEvents(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	events := new(MockEventPublisher)
	for _, s := range []domain.MessageStatus{domain.StatusSent, domain.StatusDelivered, domain.StatusRead} {
		status := s
		events.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.LifecycleEvent) bool {
			return ev.Status == status && ev.Sender == "u1" && ev.Receiver == "u2"
		})).Return(nil).Once()
	}
	r := NewRelay(NewRegistry(), repository.NewMemoryPresenceStore(testTTL, ""), repository.NewMemoryMessageRepository(),
		events, nil, RelayOptions{PresenceTTL: testTTL})

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")
	m := c2.events(domain.ReceiveMessage)[0].Data.(domain.Message)
	r.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"}))

	events.AssertExpectations(t)
}

func TestRelay_BackgroundWorkOnPool(t *testing.T) {
	logger.SetNewNop()
	pool := workerpool.New(2, 16)
	defer pool.Shutdown()
	r := NewRelay(NewRegistry(), repository.NewMemoryPresenceStore(testTTL, ""), repository.NewMemoryMessageRepository(),
		nil, pool, RelayOptions{PresenceTTL: testTTL})

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	send(t, r, c1, "u1", "u2", "hi")

	// forward 與 status update 是同步的, unread push 則不一定已完成
	assert.Len(t, c2.events(domain.ReceiveMessage), 1)
	assert.Len(t, c1.events(domain.MessageStatusUpdate), 1)
	assert.Eventually(t, func() bool {
		return len(c2.events(domain.UnreadCountUpdate)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_BridgeAcrossNodes(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	presence := repository.NewMemoryPresenceStore(testTTL, "")
	msgs := repository.NewMemoryMessageRepository()
	bridge := &loopBridge{}

	nodeA := NewRelay(NewRegistry(), presence, msgs, nil, nil, RelayOptions{PresenceTTL: testTTL, NodeID: "node-a"}).WithBridge(bridge)
	nodeB := NewRelay(NewRegistry(), presence, msgs, nil, nil, RelayOptions{PresenceTTL: testTTL, NodeID: "node-b"}).WithBridge(bridge)
	bridge.nodes = []*Relay{nodeA, nodeB}

	c1, c2 := newFakeConnection(), newFakeConnection()
	register(t, nodeA, c1, "u1")
	register(t, nodeB, c2, "u2")

	send(t, nodeA, c1, "u1", "u2", "across")

	recv := c2.events(domain.ReceiveMessage)
	require.Len(t, recv, 1)
	m := recv[0].Data.(domain.Message)
	assert.Equal(t, domain.StatusDelivered, m.Status)

	updates := c1.events(domain.MessageStatusUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusUpdate{ID: m.ID, Status: domain.StatusDelivered}, updates[0].Data)

	nodeB.Dispatch(ctx, c2, request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"}))
	updates = c1.events(domain.MessageStatusUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, domain.StatusRead, updates[1].Data.(domain.StatusUpdate).Status)
}

func TestRelay_BridgeSkipsOfflineReceiver(t *testing.T) {
	r, _, _ := newTestRelay(t)
	bridge := &loopBridge{}
	r.WithBridge(bridge)
	bridge.nodes = []*Relay{r}

	c1 := newFakeConnection()
	register(t, r, c1, "u1")
	send(t, r, c1, "u1", "u2", "nobody home")

	assert.Equal(t, 0, bridge.published())
}

// u2 換到 node-b 後, node-a 上的舊連線才斷線
func TestRelay_StaleDisconnectOnOtherNodeKeepsPresence(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	presence := repository.NewMemoryPresenceStore(testTTL, "")
	msgs := repository.NewMemoryMessageRepository()
	bridge := &loopBridge{}

	nodeA := NewRelay(NewRegistry(), presence, msgs, nil, nil, RelayOptions{PresenceTTL: testTTL, NodeID: "node-a"}).WithBridge(bridge)
	nodeB := NewRelay(NewRegistry(), presence, msgs, nil, nil, RelayOptions{PresenceTTL: testTTL, NodeID: "node-b"}).WithBridge(bridge)
	bridge.nodes = []*Relay{nodeA, nodeB}

	c1, old, fresh := newFakeConnection(), newFakeConnection(), newFakeConnection()
	register(t, nodeA, c1, "u1")
	register(t, nodeA, old, "u2")
	register(t, nodeB, fresh, "u2")

	nodeA.Disconnect(ctx, old)

	online, err := presence.IsOnline(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, online)

	send(t, nodeA, c1, "u1", "u2", "after move")

	recv := fresh.events(domain.ReceiveMessage)
	require.Len(t, recv, 1)
	m := recv[0].Data.(domain.Message)
	stored, err := msgs.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
	assert.Len(t, c1.events(domain.MessageStatusUpdate), 1)
}

// racingPresence runs before once, right before the first MarkOffline reaches the store
type racingPresence struct {
	*repository.MemoryPresenceStore
	before func()
}

func (p *racingPresence) MarkOffline(ctx context.Context, identity, owner string) error {
	if f := p.before; f != nil {
		p.before = nil
		f()
	}
	return p.MemoryPresenceStore.MarkOffline(ctx, identity, owner)
}

func TestRelay_RegisterBetweenUnmapAndOfflineKeepsPresence(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	mem := repository.NewMemoryPresenceStore(testTTL, "node-a")
	presence := &racingPresence{MemoryPresenceStore: mem}
	r := NewRelay(NewRegistry(), presence, repository.NewMemoryMessageRepository(), nil, nil, RelayOptions{PresenceTTL: testTTL, NodeID: "node-a"})

	old, fresh := newFakeConnection(), newFakeConnection()
	register(t, r, old, "u1")
	presence.before = func() { register(t, r, fresh, "u1") }

	r.Disconnect(ctx, old)

	online, err := mem.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
	got, ok := r.registry.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, fresh, got)
}

func TestRelay_VerifiedSenderWithoutRegister(t *testing.T) {
	r, _, msgs := newTestRelay(t)
	bob := newFakeConnection()
	register(t, r, bob, "bob")

	conn := newFakeConnection()
	conn.verified = "mallory"
	send(t, r, conn, "alice", "bob", "it's me, alice")

	ack := conn.events(domain.SendMessage)[0]
	assert.False(t, ack.Success)
	assert.Equal(t, domain.ErrUnauthorized.Error(), ack.Error)
	assert.Empty(t, bob.events(domain.ReceiveMessage))
	n, err := msgs.CountUnread(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	send(t, r, conn, "mallory", "bob", "hi bob")
	assert.True(t, conn.events(domain.SendMessage)[1].Success)
	require.Len(t, bob.events(domain.ReceiveMessage), 1)
}

func TestRelay_ReadOnlyByReceiver(t *testing.T) {
	ctx := context.Background()
	r, _, msgs := newTestRelay(t)
	c1, c2, c3 := newFakeConnection(), newFakeConnection(), newFakeConnection()
	register(t, r, c1, "u1")
	register(t, r, c2, "u2")
	register(t, r, c3, "u3")
	send(t, r, c1, "u1", "u2", "for u2 only")
	m := c2.events(domain.ReceiveMessage)[0].Data.(domain.Message)
	read := request(t, domain.ReadMessage, domain.ReadMessageRequest{MessageID: m.ID, Sender: "u1"})

	r.Dispatch(ctx, c3, read)
	ack := c3.events(domain.ReadMessage)[0]
	assert.False(t, ack.Success)
	assert.Equal(t, domain.ErrUnauthorized.Error(), ack.Error)

	token := newFakeConnection()
	token.verified = "u3"
	r.Dispatch(ctx, token, read)
	assert.False(t, token.events(domain.ReadMessage)[0].Success)

	stored, err := msgs.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)

	r.Dispatch(ctx, c2, read)
	assert.True(t, c2.events(domain.ReadMessage)[0].Success)
	stored, _ = msgs.FindByID(ctx, m.ID)
	assert.Equal(t, domain.StatusRead, stored.Status)
}
