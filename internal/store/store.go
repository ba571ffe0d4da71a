package store

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// Store owns the in-memory contact, conversation and message state.
// Messages within a conversation are kept in timestamp order with
// insertion sequence as the tiebreak. Derived fields (unread count,
// last message) are recomputed on read, never stored.
//
// The store is the single source of truth: views, filters and counts
// are pure functions over its output and must never be mutated
// independently.
//
// Every accessor returns snapshots, never the stored values. Status and
// reactions mutate in place under the store lock, so a live pointer
// handed to a caller would race with those writes.
type Store struct {
	mu sync.RWMutex

	contacts     map[string]*model.Contact
	contactOrder []string

	convs     map[string]*model.Conversation
	convOrder []string
	byContact map[string]string // contact id -> conversation id

	msgs    map[string][]*model.Message // conversation id -> ordered messages
	msgConv map[string]string           // message id -> conversation id

	seq int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		contacts:  make(map[string]*model.Contact),
		convs:     make(map[string]*model.Conversation),
		byContact: make(map[string]string),
		msgs:      make(map[string][]*model.Message),
		msgConv:   make(map[string]string),
	}
}

// Append inserts a message into its conversation, maintaining
// timestamp-then-sequence order, and returns a snapshot of the stored
// message with its assigned sequence number. The input is copied on the
// way in, so the caller's pointer never aliases store state. Appending
// an id that already exists is a silent no-op returning the existing
// message: inbound realtime events are delivered at least once and
// duplicates must not fork the list.
func (s *Store) Append(msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID, ok := s.msgConv[msg.ID]; ok {
		return s.find(convID, msg.ID).Clone(), nil
	}
	if _, ok := s.convs[msg.ConversationID]; !ok {
		return nil, fmt.Errorf("append to conversation %q: %w", msg.ConversationID, ErrNotFound)
	}

	s.seq++
	stored := msg.Clone()
	stored.Seq = s.seq

	list := s.msgs[stored.ConversationID]
	at := len(list)
	for i, m := range list {
		if stored.Before(m) {
			at = i
			break
		}
	}
	s.msgs[stored.ConversationID] = slices.Insert(list, at, stored)
	s.msgConv[stored.ID] = stored.ConversationID
	return stored.Clone(), nil
}

// UpdateStatus advances a message's delivery status. Repeating the
// current status is a no-op; a backwards move returns
// ErrInvalidTransition.
func (s *Store) UpdateStatus(msgID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.lookup(msgID)
	if msg == nil {
		return fmt.Errorf("update status of %q: %w", msgID, ErrNotFound)
	}
	if msg.Status == status {
		return nil
	}
	if !model.CanTransition(msg.Status, status) {
		return fmt.Errorf("message %q %s -> %s: %w", msgID, msg.Status, status, ErrInvalidTransition)
	}
	msg.Status = status
	return nil
}

// Reconcile replaces the temporary message tempID with its
// server-confirmed counterpart, preserving its position in the list.
// The temp message's timestamp and sequence are kept so the
// conversation is never reordered by confirmation. Returns ErrNotFound
// when tempID is unknown; the caller then falls back to Append, since
// the server event may have beaten the optimistic insert.
func (s *Store) Reconcile(tempID string, server *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Duplicate ack: the server id is already in the list. Drop the
	// temp entry if it is somehow still around, then no-op.
	if convID, ok := s.msgConv[server.ID]; ok && server.ID != tempID {
		if _, stillTemp := s.msgConv[tempID]; stillTemp {
			s.removeLocked(tempID)
		}
		return s.find(convID, server.ID).Clone(), nil
	}

	convID, ok := s.msgConv[tempID]
	if !ok {
		return nil, fmt.Errorf("reconcile %q: %w", tempID, ErrNotFound)
	}

	list := s.msgs[convID]
	for i, m := range list {
		if m.ID != tempID {
			continue
		}
		confirmed := *server.Clone()
		confirmed.ConversationID = convID
		confirmed.Seq = m.Seq
		confirmed.Timestamp = m.Timestamp
		confirmed.ReplyTo = m.ReplyTo
		if confirmed.Status == "" || !model.CanTransition(m.Status, confirmed.Status) {
			confirmed.Status = m.Status
		}
		list[i] = &confirmed
		delete(s.msgConv, tempID)
		s.msgConv[confirmed.ID] = convID
		return confirmed.Clone(), nil
	}
	return nil, fmt.Errorf("reconcile %q: %w", tempID, ErrNotFound)
}

// Remove deletes a message. Reply snapshots pointing at it are frozen
// copies and are left untouched.
func (s *Store) Remove(msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgConv[msgID]; !ok {
		return fmt.Errorf("remove %q: %w", msgID, ErrNotFound)
	}
	s.removeLocked(msgID)
	return nil
}

// AddReaction sets a user's reaction on a message, replacing any
// earlier reaction from the same user.
func (s *Store) AddReaction(msgID string, r model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.lookup(msgID)
	if msg == nil {
		return fmt.Errorf("react to %q: %w", msgID, ErrNotFound)
	}
	for i, existing := range msg.Reactions {
		if existing.UserID == r.UserID {
			msg.Reactions[i] = r
			return nil
		}
	}
	msg.Reactions = append(msg.Reactions, r)
	return nil
}

// MarkRead transitions every inbound non-read message of a
// conversation to read and returns how many changed.
func (s *Store) MarkRead(convID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[convID]; !ok {
		return 0, fmt.Errorf("mark read %q: %w", convID, ErrNotFound)
	}
	changed := 0
	for _, m := range s.msgs[convID] {
		if m.FromMe || m.Status == model.StatusRead {
			continue
		}
		if model.CanTransition(m.Status, model.StatusRead) {
			m.Status = model.StatusRead
			changed++
		}
	}
	return changed, nil
}

// Messages returns a snapshot of the ordered message list of a
// conversation.
func (s *Store) Messages(convID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.convs[convID]; !ok {
		return nil, fmt.Errorf("messages of %q: %w", convID, ErrNotFound)
	}
	list := s.msgs[convID]
	out := make([]*model.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out, nil
}

// Message returns a snapshot of a single message by id.
func (s *Store) Message(msgID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.lookup(msgID)
	if msg == nil {
		return nil, fmt.Errorf("message %q: %w", msgID, ErrNotFound)
	}
	return msg.Clone(), nil
}

// lookup finds a message by id. Caller holds the lock.
func (s *Store) lookup(msgID string) *model.Message {
	convID, ok := s.msgConv[msgID]
	if !ok {
		return nil
	}
	return s.find(convID, msgID)
}

func (s *Store) find(convID, msgID string) *model.Message {
	for _, m := range s.msgs[convID] {
		if m.ID == msgID {
			return m
		}
	}
	return nil
}

// removeLocked deletes a message. Caller holds the lock.
func (s *Store) removeLocked(msgID string) {
	convID := s.msgConv[msgID]
	list := s.msgs[convID]
	for i, m := range list {
		if m.ID == msgID {
			s.msgs[convID] = slices.Delete(list, i, i+1)
			break
		}
	}
	delete(s.msgConv, msgID)
}
