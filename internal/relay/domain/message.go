package domain

import "time"

// MessageStatus delivery lifecycle stage
type MessageStatus string

const (
	// StatusSent persisted, not yet handed to the receiver
	StatusSent MessageStatus = "sent"
	// StatusDelivered forwarded to the receiver's live connection
	StatusDelivered MessageStatus = "delivered"
	// StatusRead acknowledged by the receiver
	StatusRead MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid report whether s is one of the known statuses
func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo status 只能往前走, 同狀態視為 no-op 不算前進
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Valid() && next.rank() > s.rank()
}

// PriorStatuses statuses from which next can be reached
func PriorStatuses(next MessageStatus) []MessageStatus {
	var out []MessageStatus
	for _, s := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Message 表示一則一對一訊息
type Message struct {
	ID        string        `bson:"_id" json:"id" gorm:"primaryKey;type:varchar(64)"`
	Sender    string        `bson:"sender" json:"sender" gorm:"index:idx_pair,priority:1;not null"`
	Receiver  string        `bson:"receiver" json:"receiver" gorm:"index:idx_pair,priority:2;index:idx_receiver_status,priority:1;not null"`
	Text      string        `bson:"text" json:"text" gorm:"not null"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp" gorm:"index;not null"`
	Status    MessageStatus `bson:"status" json:"status" gorm:"type:varchar(16);index:idx_receiver_status,priority:2;not null"`
}

// TableName gorm table name
func (Message) TableName() string {
	return "messages"
}

// Counterpart the other party of the message as seen by user
func (m *Message) Counterpart(user string) string {
	if m.Sender == user {
		return m.Receiver
	}
	return m.Sender
}

// IsUnreadFor addressed to user and not read yet
func (m *Message) IsUnreadFor(user string) bool {
	return m.Receiver == user && m.Status != StatusRead
}
