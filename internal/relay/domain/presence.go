package domain

import "time"

// PresenceState 存在 presence store 的狀態
type PresenceState string

const (
	// PresenceOnline identity has a reachable connection
	PresenceOnline PresenceState = "online"
)

// PresenceRecord identity -> online flag with absolute expiry. Absence means offline.
type PresenceRecord struct {
	Identity  string        `json:"identity"`
	State     PresenceState `json:"state"`
	NodeID    string        `json:"node_id,omitempty"`
	// Owner connection id that wrote the record; only the owner may remove it
	Owner     string        `json:"owner,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Alive not expired at now
func (r PresenceRecord) Alive(now time.Time) bool {
	return r.State == PresenceOnline && now.Before(r.ExpiresAt)
}

// OwnedBy record was written by connection owner
func (r PresenceRecord) OwnedBy(owner string) bool {
	return r.Owner == owner
}
