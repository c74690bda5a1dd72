package messaging

import "context"

// CreateMessageInput is the wire request for a new message.
type CreateMessageInput struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	Body           string `json:"body"`
}

// Transport is the message API the engine polls and sends through.
// There is no pagination cursor: history is always the full set for a
// conversation, and "load more" is a refetch-and-diff.
//
// Implementations must classify failures via the Error wrapper so the
// engine can apply its retry policy (httpapi does this from HTTP status
// codes).
type Transport interface {
	MessagesByConversation(ctx context.Context, conversationID string) ([]Message, error)
	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)
	MarkRead(ctx context.Context, messageID string) error
}
