package domain

import "sort"

// Conversation 對某個 user 而言, 與一個對象的最新訊息與未讀數
type Conversation struct {
	Counterpart string  `json:"counterpart"`
	LastMessage Message `json:"last_message"`
	Unread      int     `json:"unread"`
}

// BuildConversations derive the conversation list of user from its messages (any order).
// Result is newest conversation first.
func BuildConversations(user string, msgs []Message) []Conversation {
	index := make(map[string]int)
	convs := make([]Conversation, 0)

	for _, m := range msgs {
		peer := m.Counterpart(user)
		i, ok := index[peer]
		if !ok {
			index[peer] = len(convs)
			convs = append(convs, Conversation{Counterpart: peer, LastMessage: m})
			i = len(convs) - 1
		} else if m.Timestamp.After(convs[i].LastMessage.Timestamp) {
			convs[i].LastMessage = m
		}
		if m.IsUnreadFor(user) {
			convs[i].Unread++
		}
	}

	sort.SliceStable(convs, func(a, b int) bool {
		return convs[a].LastMessage.Timestamp.After(convs[b].LastMessage.Timestamp)
	})
	return convs
}
