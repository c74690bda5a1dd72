package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"skiff/cmd/internal/messaging"
)

// MessageClient implements messaging.Transport over the REST API.
type MessageClient struct {
	*Client
}

// NewMessageClient wraps a Client as the message transport.
func NewMessageClient(c *Client) *MessageClient {
	return &MessageClient{Client: c}
}

type messagesResponse struct {
	Messages []messaging.Message `json:"messages"`
}

// MessagesByConversation fetches the full ordered message list.
func (m *MessageClient) MessagesByConversation(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("httpapi: empty conversation id")
	}

	var out messagesResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := m.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateMessage posts a new message and returns the server record.
func (m *MessageClient) CreateMessage(ctx context.Context, in messaging.CreateMessageInput) (messaging.Message, error) {
	var out messaging.Message
	if err := m.do(ctx, http.MethodPost, "/api/messages", in, &out); err != nil {
		return messaging.Message{}, err
	}
	return out, nil
}

// MarkRead flags a message as read for the current user.
func (m *MessageClient) MarkRead(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("httpapi: empty message id")
	}
	return m.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}
