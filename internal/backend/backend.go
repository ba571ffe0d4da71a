// Package backend declares the boundary contracts the engine consumes.
// Implementations live with the hosting application: a hosted
// conversation API, a realtime channel, file storage. The engine never
// performs network I/O itself; internal/history provides a local
// implementation used for hydration and offline work.
package backend

import (
	"context"
	"io"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// SendResult is the backend's confirmation of an outbound message.
type SendResult struct {
	ServerID string
	Status   model.Status
}

// HistoryProvider serves stored contacts, conversations and messages,
// used to hydrate the in-memory store. internal/history implements it
// over the local archive.
type HistoryProvider interface {
	FetchContacts(ctx context.Context) ([]*model.Contact, error)
	FetchConversations(ctx context.Context) ([]*model.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// MessageSender delivers an outbound message and returns the
// server-assigned id. The result feeds reconciliation; callers must
// not block engine operations on it.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID string, msg *model.Message) (SendResult, error)
}

// ConversationBackend is the full hosted conversation/message API.
type ConversationBackend interface {
	HistoryProvider
	MessageSender
}

// AttachmentStorage uploads files and returns a public URL. The engine
// stores only the URL and display metadata, never file bytes.
type AttachmentStorage interface {
	Upload(ctx context.Context, filename string, r io.Reader) (url string, err error)
}
