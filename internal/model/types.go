package model

import (
	"maps"
	"slices"
	"time"
)

// ChatType classifies a contact and its conversations.
type ChatType string

const (
	ChatTeam   ChatType = "team"
	ChatClient ChatType = "client"
	ChatLead   ChatType = "lead"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeVoice    MessageType = "voice"
)

// Contact represents a person or team member the operator talks to.
// Identity fields (ID, Phone) are immutable; flags are flipped by the
// coordinator. Archived/blocked contacts are hidden from default views
// but never hard-deleted by the engine.
type Contact struct {
	ID         string
	Name       string
	Phone      string
	Type       ChatType
	IsOnline   bool
	IsStarred  bool
	IsArchived bool
	IsBlocked  bool
	IsMuted    bool
	Tags       map[string]struct{}
	AvatarURL  string
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	_, ok := c.Tags[tag]
	return ok
}

// Clone returns a copy that is safe to read while the original keeps
// mutating (flags and tags change in place on the stored contact).
func (c *Contact) Clone() *Contact {
	d := *c
	d.Tags = maps.Clone(c.Tags)
	return &d
}

// Conversation is a thread of messages with a single contact.
// UnreadCount and the last message are derived from the message list
// on read and are deliberately absent here.
type Conversation struct {
	ID         string
	ContactID  string
	ChatType   ChatType
	IsPinned   bool
	AssignedTo string
	Tags       map[string]struct{}
}

// HasTag reports whether the conversation carries the given tag.
func (cv *Conversation) HasTag(tag string) bool {
	_, ok := cv.Tags[tag]
	return ok
}

// Clone returns a copy that is safe to read while the original keeps
// mutating.
func (cv *Conversation) Clone() *Conversation {
	d := *cv
	d.Tags = maps.Clone(cv.Tags)
	return &d
}

// Attachment is a frozen reference to uploaded media. The engine only
// ever stores the URL and display metadata, never file bytes.
type Attachment struct {
	URL             string
	Filename        string
	Size            int64
	DurationSeconds int
}

// Reaction is an emoji reaction by one user. A message holds at most
// one reaction per UserID.
type Reaction struct {
	UserID   string
	UserName string
	Emoji    string
}

// ReplySnapshot is a frozen copy of the replied-to message taken at
// reply time. It is a copy, not a reference: deleting or expiring the
// original later does not touch it.
type ReplySnapshot struct {
	MessageID  string
	SenderName string
	Body       string
	Type       MessageType
}

// Message is a single message in a conversation. ID is either a
// client-generated temporary id (optimistic send) or a server id once
// confirmed. Body, Type, Timestamp and the reply snapshot are immutable
// after creation; only Status and Reactions change in place.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64 // insertion sequence assigned by the store, breaks timestamp ties
	Timestamp      time.Time
	FromMe         bool
	SenderID       string
	SenderName     string
	Body           string
	Type           MessageType
	Attachment     *Attachment
	ReplyTo        *ReplySnapshot
	Reactions      []Reaction
	Status         Status
}

// Clone returns a copy that is safe to read while the stored original
// keeps mutating. Status and Reactions change in place; the remaining
// fields are immutable after creation and are shared.
func (m *Message) Clone() *Message {
	c := *m
	c.Reactions = slices.Clone(m.Reactions)
	return &c
}

// Snapshot returns the frozen reply snapshot for this message.
func (m *Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		MessageID:  m.ID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Type:       m.Type,
	}
}

// Before reports whether m sorts before other in a conversation:
// timestamp order, insertion sequence as the tiebreak.
func (m *Message) Before(other *Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.Seq < other.Seq
	}
	return m.Timestamp.Before(other.Timestamp)
}
