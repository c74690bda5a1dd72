// Package messaging implements skiff's client-side conversation sync
// engine: a polling loop with reconnection backoff, a bounded TTL cache
// with a durable key-value tier, optimistic sends with rollback and
// manual retry, per-user rate limiting, and content security validation,
// composed behind a per-conversation Session.
package messaging

import (
	"sort"
	"time"
)

// ReadStatus marks whether the recipient has read a message.
type ReadStatus string

const (
	ReadStatusUnread ReadStatus = "unread"
	ReadStatusRead   ReadStatus = "read"
)

// Message is the canonical conversation message representation.
// Identity is ID; within a conversation, ordering is CreatedAt
// ascending with ties broken by ID.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Body           string     `json:"body"`
	ReadStatus     ReadStatus `json:"read_status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Identity is the current user on whose behalf the engine operates.
// A zero ID disables all messaging operations.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// sortMessages orders msgs by CreatedAt ascending, ties by ID.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// dedupeByID removes duplicate ids keeping the first occurrence.
// The input order is preserved.
func dedupeByID(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
