package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Event websocket event name
type Event string

const (
	// Register client -> server, data is the identity string
	Register Event = "register"
	// Heartbeat client -> server, no data, renews presence
	Heartbeat Event = "heartbeat"
	// SendMessage client -> server, data SendMessageRequest
	SendMessage Event = "send_message"
	// ReadMessage client -> server, data ReadMessageRequest
	ReadMessage Event = "read_message"

	// ReceiveMessage server -> receiver, data Message
	ReceiveMessage Event = "receive_message"
	// MessageStatusUpdate server -> original sender, data StatusUpdate
	MessageStatusUpdate Event = "message_status_update"
	// UnreadCountUpdate server -> receiver, data UnreadCount
	UnreadCountUpdate Event = "unread_count_update"
	// SessionReplaced server -> evicted connection before it is closed
	SessionReplaced Event = "session_replaced"
	// ErrorEvent server -> client for undecodable frames
	ErrorEvent Event = "error"
)

// WSRequest websocket Request
type WSRequest struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSResponse websocket Response. Acks echo the request event with Success/Error,
// pushes carry Success=true and the payload in Data.
type WSResponse struct {
	Event   Event       `json:"event"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SendMessageRequest send_message payload
type SendMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
}

// Validate all fields are required
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Sender) == "" || strings.TrimSpace(r.Receiver) == "" || r.Text == "" {
		return ErrMalformedRequest
	}
	return nil
}

// ReadMessageRequest read_message payload; Sender is the original sender to notify
type ReadMessageRequest struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
}

// Validate all fields are required
func (r ReadMessageRequest) Validate() error {
	if r.MessageID == "" || r.Sender == "" {
		return ErrMalformedRequest
	}
	return nil
}

// StatusUpdate message_status_update payload
type StatusUpdate struct {
	ID     string        `json:"id"`
	Status MessageStatus `json:"status"`
}

// UnreadCount unread_count_update payload
type UnreadCount struct {
	Sender string `json:"sender"`
	Unread int64  `json:"unread"`
}

// LifecycleEvent published to the event sink on every status transition
type LifecycleEvent struct {
	MessageID string        `json:"message_id"`
	Sender    string        `json:"sender"`
	Receiver  string        `json:"receiver"`
	Status    MessageStatus `json:"status"`
	At        time.Time     `json:"at"`
}

// BridgeEnvelope cross node payload on the relay bridge channels
type BridgeEnvelope struct {
	Kind    string        `json:"kind"` // "message" or "status"
	Origin  string        `json:"origin"`
	Message *Message      `json:"message,omitempty"`
	Status  *StatusUpdate `json:"status,omitempty"`
}

const (
	// BridgeKindMessage a message for a receiver owned by another node
	BridgeKindMessage = "message"
	// BridgeKindStatus a status notice for a sender owned by another node
	BridgeKindStatus = "status"
)

// ParseIdentity register data is a JSON string; an object {"identity": "..."} is accepted too
func ParseIdentity(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", ErrMalformedRequest
		}
		id = obj.Identity
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMalformedRequest
	}
	return id, nil
}
