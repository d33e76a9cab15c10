package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/internal/relay/repository"
	"chat_relay_service/pkg"
	errprocess "chat_relay_service/pkg/err"
	"chat_relay_service/pkg/logger"
	"chat_relay_service/pkg/workerpool"

	"go.uber.org/zap"
)

const backgroundTimeout = 5 * time.Second

// Bridge cross node delivery, nil when the relay runs single node
type Bridge interface {
	Publish(ctx context.Context, identity string, env domain.BridgeEnvelope) error
}

// verifiedConnection connection that carries the identity proven by its token
type verifiedConnection interface {
	VerifiedIdentity() string
}

// RelayOptions tuning of the relay
type RelayOptions struct {
	PresenceTTL         time.Duration
	NodeID              string
	RedeliverOnRegister bool
}

// Relay single entry point for every client event: registration, heartbeat, send, read, disconnect
type Relay struct {
	registry *Registry
	presence repository.PresenceStore
	messages repository.MessageRepository
	events   repository.EventPublisher
	bridge   Bridge
	pool     *workerpool.Pool
	opts     RelayOptions
	now      func() time.Time
}

// NewRelay create Relay; pool nil runs best-effort work inline
func NewRelay(
	registry *Registry,
	presence repository.PresenceStore,
	messages repository.MessageRepository,
	events repository.EventPublisher,
	pool *workerpool.Pool,
	opts RelayOptions,
) *Relay {
	if events == nil {
		events = repository.NewNoopEventPublisher()
	}
	return &Relay{
		registry: registry,
		presence: presence,
		messages: messages,
		events:   events,
		pool:     pool,
		opts:     opts,
		now:      time.Now,
	}
}

// WithBridge enable cross node delivery
func (r *Relay) WithBridge(b Bridge) *Relay {
	r.bridge = b
	return r
}

// Dispatch 處理一個 client event, ack 回傳給同一個 connection
func (r *Relay) Dispatch(ctx context.Context, conn Connection, req domain.WSRequest) {
	resp := domain.WSResponse{Event: req.Event}

	switch req.Event {
	case domain.Register:
		identity, err := domain.ParseIdentity(req.Data)
		if err == nil {
			err = r.Register(ctx, conn, identity)
		}
		r.ack(conn, &resp, identity, err)
		if err == nil && r.opts.RedeliverOnRegister {
			r.Redeliver(ctx, identity)
		}
		return

	case domain.Heartbeat:
		r.ack(conn, &resp, nil, r.Heartbeat(ctx, conn))
		return

	case domain.SendMessage:
		var in domain.SendMessageRequest
		if err := decode(req.Data, &in); err != nil {
			r.ack(conn, &resp, nil, err)
			return
		}
		if err := r.actsAs(conn, in.Sender); err != nil {
			r.ack(conn, &resp, nil, err)
			return
		}
		msg, err := r.persist(ctx, in)
		r.ack(conn, &resp, msg, err)
		if err == nil {
			r.forward(ctx, msg)
		}
		return

	case domain.ReadMessage:
		var in domain.ReadMessageRequest
		if err := decode(req.Data, &in); err != nil {
			r.ack(conn, &resp, nil, err)
			return
		}
		r.ack(conn, &resp, nil, r.ReadMessage(ctx, conn, in))
		return

	default:
		resp.Event = domain.ErrorEvent
		resp.Error = "unknown event: " + string(req.Event)
		logger.Log.Warn("unknown websocket event", zap.String("event", string(req.Event)), zap.String("conn", conn.ID()))
		r.send(conn, resp)
	}
}

func decode(data json.RawMessage, v interface{ Validate() error }) error {
	if len(data) == 0 || json.Unmarshal(data, v) != nil {
		return domain.ErrMalformedRequest
	}
	return v.Validate()
}

func (r *Relay) ack(conn Connection, resp *domain.WSResponse, data interface{}, err error) {
	if err != nil {
		resp.Error = err.Error()
		logger.Log.Error("websocket event failed", zap.String("event", string(resp.Event)), zap.String("conn", conn.ID()), zap.Error(err))
	} else {
		resp.Success = true
		resp.Data = data
	}
	r.send(conn, *resp)
}

func (r *Relay) send(conn Connection, resp domain.WSResponse) bool {
	if err := conn.Send(resp); err != nil {
		logger.Log.Warn("send to connection failed", zap.String("conn", conn.ID()), zap.String("event", string(resp.Event)), zap.Error(err))
		return false
	}
	return true
}

// Register map identity to conn and mark it online. A previous connection of the identity
// gets session_replaced and is closed.
func (r *Relay) Register(ctx context.Context, conn Connection, identity string) error {
	if v, ok := conn.(verifiedConnection); ok {
		if verified := v.VerifiedIdentity(); verified != "" && verified != identity {
			return domain.ErrUnauthorized
		}
	}

	if evicted := r.registry.Register(identity, conn); evicted != nil {
		logger.Log.Info("session replaced", zap.String("identity", identity), zap.String("old_conn", evicted.ID()), zap.String("new_conn", conn.ID()))
		r.send(evicted, domain.WSResponse{Event: domain.SessionReplaced, Success: true, Data: identity})
		_ = evicted.Close()
	}

	if err := r.presence.MarkOnline(ctx, identity, conn.ID(), r.opts.PresenceTTL); err != nil {
		logger.Log.Warn("presence mark online", zap.String("identity", identity), zap.Error(errors.Join(domain.ErrPresenceStore, err)))
	}
	logger.Log.Info("registered", zap.String("identity", identity), zap.String("conn", conn.ID()))
	return nil
}

// Heartbeat renew presence of every identity on conn; registry untouched
func (r *Relay) Heartbeat(ctx context.Context, conn Connection) error {
	ids := r.registry.IdentitiesOf(conn)
	if len(ids) == 0 {
		return domain.ErrNotRegistered
	}
	for _, id := range ids {
		if err := r.presence.Heartbeat(ctx, id, conn.ID()); err != nil {
			logger.Log.Warn("presence heartbeat", zap.String("identity", id), zap.Error(errors.Join(domain.ErrPresenceStore, err)))
		}
	}
	return nil
}

// Disconnect remove every identity mapped to conn and mark them offline now. Presence written
// by a newer connection of the same identity survives. Safe to call twice.
func (r *Relay) Disconnect(ctx context.Context, conn Connection) {
	for _, id := range r.registry.RemoveByConnection(conn) {
		if err := r.presence.MarkOffline(ctx, id, conn.ID()); err != nil {
			logger.Log.Warn("presence mark offline", zap.String("identity", id), zap.Error(errors.Join(domain.ErrPresenceStore, err)))
		}
		logger.Log.Info("unregistered", zap.String("identity", id), zap.String("conn", conn.ID()))
	}
}

// SendMessage persist then forward; the returned message carries the status after forwarding
func (r *Relay) SendMessage(ctx context.Context, in domain.SendMessageRequest) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	msg, err := r.persist(ctx, in)
	if err != nil {
		return nil, err
	}
	r.forward(ctx, msg)
	return msg, nil
}

func (r *Relay) persist(ctx context.Context, in domain.SendMessageRequest) (*domain.Message, error) {
	msg, err := r.messages.Create(ctx, in.Sender, in.Receiver, in.Text, r.now())
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrPersistence, "create message", err,
			zap.String("sender", in.Sender), zap.String("receiver", in.Receiver))
	}
	r.publishEvent(*msg, domain.StatusSent)
	return msg, nil
}

// forward receiver 在本機就直接送, 否則交給 bridge; 送不到就維持 sent
func (r *Relay) forward(ctx context.Context, msg *domain.Message) {
	conn, ok := r.registry.Lookup(msg.Receiver)
	if !ok {
		r.forwardRemote(ctx, msg)
		return
	}
	r.deliverLocal(ctx, conn, msg)
}

// deliverLocal push receive_message to conn; on success the message becomes delivered
func (r *Relay) deliverLocal(ctx context.Context, conn Connection, msg *domain.Message) bool {
	out := *msg
	out.Status = domain.StatusDelivered
	if !r.send(conn, domain.WSResponse{Event: domain.ReceiveMessage, Success: true, Data: out}) {
		return false
	}
	msg.Status = domain.StatusDelivered
	r.markDelivered(ctx, msg)
	return true
}

func (r *Relay) markDelivered(ctx context.Context, msg *domain.Message) {
	// forward 已完成, 狀態寫入失敗只記 log
	if _, err := r.messages.UpdateStatus(ctx, msg.ID, domain.StatusDelivered); err != nil {
		logger.Log.Error("update status delivered", zap.String("message_id", msg.ID), zap.Error(err))
	}
	r.notifySender(ctx, msg.Sender, domain.StatusUpdate{ID: msg.ID, Status: domain.StatusDelivered})
	r.publishEvent(*msg, domain.StatusDelivered)
	r.pushUnread(msg.Receiver, msg.Sender)
}

func (r *Relay) forwardRemote(ctx context.Context, msg *domain.Message) {
	if r.bridge == nil {
		return
	}
	online, err := r.presence.IsOnline(ctx, msg.Receiver)
	if err != nil {
		logger.Log.Warn("presence lookup", zap.String("identity", msg.Receiver), zap.Error(errors.Join(domain.ErrPresenceStore, err)))
		return
	}
	if !online {
		return
	}
	env := domain.BridgeEnvelope{Kind: domain.BridgeKindMessage, Origin: r.opts.NodeID, Message: msg}
	if err := r.bridge.Publish(ctx, msg.Receiver, env); err != nil {
		logger.Log.Error("bridge publish message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// notifySender message_status_update to the original sender, local or through the bridge; dropped when offline
func (r *Relay) notifySender(ctx context.Context, sender string, update domain.StatusUpdate) {
	if conn, ok := r.registry.Lookup(sender); ok {
		r.send(conn, domain.WSResponse{Event: domain.MessageStatusUpdate, Success: true, Data: update})
		return
	}
	if r.bridge == nil {
		return
	}
	env := domain.BridgeEnvelope{Kind: domain.BridgeKindStatus, Origin: r.opts.NodeID, Status: &update}
	if err := r.bridge.Publish(ctx, sender, env); err != nil {
		logger.Log.Error("bridge publish status", zap.String("message_id", update.ID), zap.Error(err))
	}
}

// actsAs a token-verified connection acts only as its token identity,
// a registered connection only as one of its registered identities
func (r *Relay) actsAs(conn Connection, identity string) error {
	if v, ok := conn.(verifiedConnection); ok {
		if verified := v.VerifiedIdentity(); verified != "" && verified != identity {
			return domain.ErrUnauthorized
		}
	}
	if ids := r.registry.IdentitiesOf(conn); len(ids) > 0 && !pkg.Contains(ids, identity) {
		return domain.ErrUnauthorized
	}
	return nil
}

// ReadMessage read ack coming from conn: mark read and notify the original sender. Only the
// receiver of the message may ack it; read on a read message is a no-op.
func (r *Relay) ReadMessage(ctx context.Context, conn Connection, in domain.ReadMessageRequest) error {
	msg, err := r.findForRead(ctx, in)
	if err != nil {
		return err
	}
	if err := r.actsAs(conn, msg.Receiver); err != nil {
		return err
	}
	return r.markRead(ctx, msg)
}

func (r *Relay) findForRead(ctx context.Context, in domain.ReadMessageRequest) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	msg, err := r.messages.FindByID(ctx, in.MessageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrPersistence, "find message", err, zap.String("message_id", in.MessageID))
	}
	if msg.Sender != in.Sender {
		return nil, domain.ErrMalformedRequest
	}
	return msg, nil
}

func (r *Relay) markRead(ctx context.Context, msg *domain.Message) error {
	changed, err := r.messages.UpdateStatus(ctx, msg.ID, domain.StatusRead)
	if err != nil {
		return errprocess.Wrap(domain.ErrPersistence, "update status read", err, zap.String("message_id", msg.ID))
	}
	if changed {
		r.notifySender(ctx, msg.Sender, domain.StatusUpdate{ID: msg.ID, Status: domain.StatusRead})
		r.publishEvent(*msg, domain.StatusRead)
	}
	r.pushUnread(msg.Receiver, msg.Sender)
	return nil
}

// Redeliver forward messages still in sent to a freshly registered identity, oldest first
func (r *Relay) Redeliver(ctx context.Context, identity string) {
	pending, err := r.messages.FindUndelivered(ctx, identity)
	if err != nil {
		logger.Log.Error("find undelivered", zap.String("identity", identity), zap.Error(err))
		return
	}
	for i := range pending {
		conn, ok := r.registry.Lookup(identity)
		if !ok {
			return
		}
		if !r.deliverLocal(ctx, conn, &pending[i]) {
			return
		}
	}
	if len(pending) > 0 {
		logger.Log.Info("redelivered", zap.String("identity", identity), zap.Int("count", len(pending)))
	}
}

// HandleBridge envelopes from other nodes for identity; ignored unless identity is registered here
func (r *Relay) HandleBridge(ctx context.Context, identity string, env domain.BridgeEnvelope) {
	if env.Origin == r.opts.NodeID {
		return
	}
	conn, ok := r.registry.Lookup(identity)
	if !ok {
		return
	}

	switch env.Kind {
	case domain.BridgeKindMessage:
		if env.Message == nil || env.Message.Receiver != identity {
			return
		}
		r.deliverLocal(ctx, conn, env.Message)
	case domain.BridgeKindStatus:
		if env.Status == nil {
			return
		}
		r.send(conn, domain.WSResponse{Event: domain.MessageStatusUpdate, Success: true, Data: *env.Status})
	default:
		logger.Log.Warn("unknown bridge envelope", zap.String("kind", env.Kind), zap.String("origin", env.Origin))
	}
}

// Conversations latest message and unread count per counterpart, newest first
func (r *Relay) Conversations(ctx context.Context, user string) ([]domain.Conversation, error) {
	msgs, err := r.messages.FindAllForUser(ctx, user)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrPersistence, "find messages for user", err, zap.String("user", user))
	}
	return domain.BuildConversations(user, msgs), nil
}

// ConversationMessages both directions between the pair, oldest first
func (r *Relay) ConversationMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	msgs, err := r.messages.FindConversationMessages(ctx, userA, userB)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrPersistence, "find conversation", err, zap.String("a", userA), zap.String("b", userB))
	}
	return msgs, nil
}

// UnreadCount messages from sender to receiver not yet read
func (r *Relay) UnreadCount(ctx context.Context, receiver, sender string) (int64, error) {
	n, err := r.messages.CountUnread(ctx, receiver, sender)
	if err != nil {
		return 0, errprocess.Wrap(domain.ErrPersistence, "count unread", err, zap.String("receiver", receiver), zap.String("sender", sender))
	}
	return n, nil
}

// IsOnline presence of identity; falls back to the local registry when the presence store is down
func (r *Relay) IsOnline(ctx context.Context, identity string) bool {
	online, err := r.presence.IsOnline(ctx, identity)
	if err != nil {
		logger.Log.Warn("presence lookup", zap.String("identity", identity), zap.Error(errors.Join(domain.ErrPresenceStore, err)))
		_, ok := r.registry.Lookup(identity)
		return ok
	}
	return online
}

func (r *Relay) pushUnread(receiver, sender string) {
	r.background("unread_count_update", func() {
		conn, ok := r.registry.Lookup(receiver)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		n, err := r.messages.CountUnread(ctx, receiver, sender)
		if err != nil {
			logger.Log.Error("count unread", zap.String("receiver", receiver), zap.String("sender", sender), zap.Error(err))
			return
		}
		r.send(conn, domain.WSResponse{Event: domain.UnreadCountUpdate, Success: true, Data: domain.UnreadCount{Sender: sender, Unread: n}})
	})
}

func (r *Relay) publishEvent(msg domain.Message, status domain.MessageStatus) {
	ev := domain.LifecycleEvent{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Status:    status,
		At:        r.now().UTC(),
	}
	r.background("lifecycle_event", func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := r.events.Publish(ctx, ev); err != nil {
			logger.Log.Error("publish lifecycle event", zap.String("message_id", ev.MessageID), zap.String("status", string(status)), zap.Error(err))
		}
	})
}

// background best-effort work, dropped when the pool is saturated
func (r *Relay) background(name string, task func()) {
	if r.pool == nil {
		task()
		return
	}
	if !r.pool.TrySubmit(task) {
		logger.Log.Warn("background task dropped", zap.String("task", name))
	}
}
