package backend

import "github.com/chatdeskhq/chatdesk/internal/model"

// Realtime event kinds, published on the bus under the "rt." namespace
// by whatever drives the realtime subscription. The reconciler is the
// single consumer; each kind maps to exactly one store operation.
const (
	KindMessageCreated     = "rt.message_created"
	KindSendAck            = "rt.send_ack"
	KindSendFailed         = "rt.send_failed"
	KindStatusChanged      = "rt.status_changed"
	KindReactionAdded      = "rt.reaction_added"
	KindConversationTagged = "rt.conversation_tagged"
)

// MessageCreated announces an inbound message, or one echoed from
// another device of the same operator. ContactID lets the reconciler
// create the conversation lazily when this is the first message.
type MessageCreated struct {
	ContactID string
	Message   *model.Message
}

// SendAck confirms an optimistic send: the temp id is replaced by the
// server-confirmed message.
type SendAck struct {
	TempID  string
	Message *model.Message
}

// SendFailed reports a terminal send failure for an optimistic message.
type SendFailed struct {
	TempID string
	Reason string
}

// StatusChanged advances the delivery status of a known message.
type StatusChanged struct {
	MessageID string
	Status    model.Status
}

// ReactionAdded sets a user's reaction on a message.
type ReactionAdded struct {
	MessageID string
	Reaction  model.Reaction
}

// ConversationTagged adds a tag to a conversation.
type ConversationTagged struct {
	ConversationID string
	Tag            string
}
