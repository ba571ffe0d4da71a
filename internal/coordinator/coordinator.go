// Package coordinator orchestrates user-initiated actions over the
// store: selection, optimistic sends, replies, reactions, forwards and
// contact flags. All operations are synchronous over local state; the
// only failures are unknown references and illegal status transitions,
// both recoverable.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/expiry"
	"github.com/chatdeskhq/chatdesk/internal/grouping"
	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queued is the payload of message.queued events: an optimistic
// message waiting for the dispatcher to hand it to the backend.
// Message is a snapshot taken at enqueue time and never aliases store
// state, so consumers may read it without locking.
type Queued struct {
	ConversationID string
	Message        *model.Message
}

// Coordinator owns the interactive state of one operator session.
type Coordinator struct {
	store   *store.Store
	sweeper *expiry.Sweeper
	bus     *bus.Bus
	logger  *zap.Logger

	selfID   string
	selfName string
	view     grouping.Options

	mu           sync.Mutex
	activeConvID string
	replyTarget  *model.Message
}

// New creates a coordinator. selfID/selfName identify the operator as
// the sender of outbound messages; view carries the configured timeline
// presentation settings (a zero gap falls back to grouping.DefaultGap).
func New(s *store.Store, sweeper *expiry.Sweeper, b *bus.Bus, selfID, selfName string, view grouping.Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if view.Gap <= 0 {
		view.Gap = grouping.DefaultGap
	}
	return &Coordinator{
		store:    s,
		sweeper:  sweeper,
		bus:      b,
		logger:   logger,
		selfID:   selfID,
		selfName: selfName,
		view:     view,
	}
}

// Timeline returns the conversation's messages partitioned into
// calendar-date buckets in the configured viewer timezone.
func (c *Coordinator) Timeline(convID string) ([]grouping.DateBucket, error) {
	msgs, err := c.store.Messages(convID)
	if err != nil {
		return nil, err
	}
	return grouping.GroupByDate(msgs, c.view.TZOffset), nil
}

// Collapses reports whether curr renders collapsed under prev, using
// the configured sender-run gap.
func (c *Coordinator) Collapses(prev, curr *model.Message) bool {
	return grouping.IsSequential(prev, curr, c.view.Gap)
}

// SelectConversation makes a conversation the active one. Selection by
// itself never touches message or unread state; reading is an explicit
// MarkRead call.
func (c *Coordinator) SelectConversation(convID string) error {
	if _, err := c.store.Conversation(convID); err != nil {
		return err
	}
	c.mu.Lock()
	c.activeConvID = convID
	c.replyTarget = nil
	c.mu.Unlock()
	return nil
}

// SelectContact selects the contact's conversation if one exists. A
// contact without history is selectable; the conversation appears on
// the first send.
func (c *Coordinator) SelectContact(contactID string) error {
	if _, err := c.store.Contact(contactID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyTarget = nil
	if cv, err := c.store.ConversationByContact(contactID); err == nil {
		c.activeConvID = cv.ID
	} else {
		c.activeConvID = ""
	}
	return nil
}

// ActiveConversation returns the currently selected conversation id,
// empty if none.
func (c *Coordinator) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeConvID
}

// MarkRead transitions all inbound unread messages of a conversation
// to read.
func (c *Coordinator) MarkRead(convID string) error {
	changed, err := c.store.MarkRead(convID)
	if err != nil {
		return err
	}
	if changed > 0 {
		c.publish("conversation.read", convID)
	}
	return nil
}

// SendMessage creates an optimistic message with a temporary id and
// sending status, and returns immediately. Delivery is the
// dispatcher's job; the reconciler later replaces the temp id with the
// server-confirmed one or marks the message failed. A pending reply
// target is attached as a frozen snapshot and cleared.
func (c *Coordinator) SendMessage(convID, body string, typ model.MessageType, att *model.Attachment) (*model.Message, error) {
	if _, err := c.store.Conversation(convID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	var replyTo *model.ReplySnapshot
	if c.replyTarget != nil {
		replyTo = c.replyTarget.Snapshot()
		c.replyTarget = nil
	}
	c.mu.Unlock()

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Timestamp:      time.Now().UTC(),
		FromMe:         true,
		SenderID:       c.selfID,
		SenderName:     c.selfName,
		Body:           body,
		Type:           typ,
		Attachment:     att,
		ReplyTo:        replyTo,
		Status:         model.StatusSending,
	}
	stored, err := c.store.Append(msg)
	if err != nil {
		return nil, err
	}
	c.sweep(convID)
	if c.bus != nil {
		c.bus.Publish(bus.Emit("message.queued", Queued{ConversationID: convID, Message: stored}))
	}
	return stored, nil
}

// SendToContact sends to a contact, creating the conversation lazily
// on first contact.
func (c *Coordinator) SendToContact(contactID, body string, typ model.MessageType, att *model.Attachment) (*model.Message, error) {
	cv, err := c.store.EnsureConversation(contactID)
	if err != nil {
		return nil, err
	}
	return c.SendMessage(cv.ID, body, typ, att)
}

// SetReplyTarget holds a message as the pending reply target. At most
// one is held; setting a new one replaces the previous.
func (c *Coordinator) SetReplyTarget(msgID string) error {
	msg, err := c.store.Message(msgID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.replyTarget = msg
	c.mu.Unlock()
	return nil
}

// CancelReply drops the pending reply target.
func (c *Coordinator) CancelReply() {
	c.mu.Lock()
	c.replyTarget = nil
	c.mu.Unlock()
}

// ReplyTarget returns the pending reply target, nil if none.
func (c *Coordinator) ReplyTarget() *model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTarget
}

// AddReaction sets the operator's reaction on a message, replacing any
// previous one.
func (c *Coordinator) AddReaction(msgID, emoji string) error {
	err := c.store.AddReaction(msgID, model.Reaction{
		UserID:   c.selfID,
		UserName: c.selfName,
		Emoji:    emoji,
	})
	if err != nil {
		return err
	}
	c.publish("message.reacted", msgID)
	return nil
}

// ForwardMessage sends a copy of a message's content to another
// contact as a fresh optimistic send. The copy carries no reply
// snapshot and no reactions.
func (c *Coordinator) ForwardMessage(msgID, toContactID string) (*model.Message, error) {
	src, err := c.store.Message(msgID)
	if err != nil {
		return nil, err
	}
	var att *model.Attachment
	if src.Attachment != nil {
		copied := *src.Attachment
		att = &copied
	}
	return c.SendToContact(toContactID, src.Body, src.Type, att)
}

// DeleteMessage removes a message. Reply snapshots referencing it are
// unaffected.
func (c *Coordinator) DeleteMessage(msgID string) error {
	if err := c.store.Remove(msgID); err != nil {
		return err
	}
	c.publish("message.deleted", msgID)
	return nil
}

// SetDisappearing configures disappearing messages for a conversation
// and sweeps immediately so a newly shortened timeout takes effect
// without waiting for the next mutation.
func (c *Coordinator) SetDisappearing(convID string, enabled bool, timeout time.Duration) error {
	if _, err := c.store.Conversation(convID); err != nil {
		return err
	}
	if c.sweeper == nil {
		return fmt.Errorf("disappearing messages are not configured")
	}
	c.sweeper.SetPolicy(convID, expiry.Policy{Enabled: enabled, Timeout: timeout})
	c.sweep(convID)
	c.publish("conversation.disappearing_changed", convID)
	return nil
}

// ToggleArchive flips the archived flag of a contact.
func (c *Coordinator) ToggleArchive(contactID string) (bool, error) {
	return c.toggle(contactID, c.store.ToggleArchived)
}

// ToggleStar flips the starred flag of a contact.
func (c *Coordinator) ToggleStar(contactID string) (bool, error) {
	return c.toggle(contactID, c.store.ToggleStarred)
}

// ToggleBlock flips the blocked flag of a contact.
func (c *Coordinator) ToggleBlock(contactID string) (bool, error) {
	return c.toggle(contactID, c.store.ToggleBlocked)
}

// ToggleMute flips the muted flag of a contact.
func (c *Coordinator) ToggleMute(contactID string) (bool, error) {
	return c.toggle(contactID, c.store.ToggleMuted)
}

func (c *Coordinator) toggle(contactID string, fn func(string) (bool, error)) (bool, error) {
	v, err := fn(contactID)
	if err != nil {
		return false, err
	}
	c.publish("contact.updated", contactID)
	return v, nil
}

func (c *Coordinator) sweep(convID string) {
	if c.sweeper != nil {
		c.sweeper.SweepConversation(convID, time.Now())
	}
}

func (c *Coordinator) publish(kind, id string) {
	if c.bus != nil {
		c.bus.Publish(bus.Emit(kind, id))
	}
}
