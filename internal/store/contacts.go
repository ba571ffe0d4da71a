package store

import (
	"fmt"

	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/google/uuid"
)

// UpsertContact inserts or updates a contact. The input is copied, so
// the caller's pointer never aliases store state. Insertion order is
// preserved for listing.
func (s *Store) UpsertContact(c *model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[c.ID]; !ok {
		s.contactOrder = append(s.contactOrder, c.ID)
	}
	stored := c.Clone()
	if stored.Tags == nil {
		stored.Tags = make(map[string]struct{})
	}
	s.contacts[stored.ID] = stored
}

// Contact returns a snapshot of a contact by id. Archived/blocked
// contacts stay addressable here; only default views hide them.
func (s *Store) Contact(id string) (*model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// Contacts returns snapshots of all contacts in insertion order.
func (s *Store) Contacts() []*model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Contact, 0, len(s.contactOrder))
	for _, id := range s.contactOrder {
		out = append(out, s.contacts[id].Clone())
	}
	return out
}

// mutateContact applies fn to a contact under the lock.
func (s *Store) mutateContact(id string, fn func(*model.Contact)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return fmt.Errorf("contact %q: %w", id, ErrNotFound)
	}
	fn(c)
	return nil
}

// ToggleArchived flips the archived flag and returns the new value.
func (s *Store) ToggleArchived(id string) (bool, error) {
	var v bool
	err := s.mutateContact(id, func(c *model.Contact) {
		c.IsArchived = !c.IsArchived
		v = c.IsArchived
	})
	return v, err
}

// ToggleStarred flips the starred flag and returns the new value.
func (s *Store) ToggleStarred(id string) (bool, error) {
	var v bool
	err := s.mutateContact(id, func(c *model.Contact) {
		c.IsStarred = !c.IsStarred
		v = c.IsStarred
	})
	return v, err
}

// ToggleBlocked flips the blocked flag and returns the new value.
func (s *Store) ToggleBlocked(id string) (bool, error) {
	var v bool
	err := s.mutateContact(id, func(c *model.Contact) {
		c.IsBlocked = !c.IsBlocked
		v = c.IsBlocked
	})
	return v, err
}

// ToggleMuted flips the muted flag and returns the new value.
func (s *Store) ToggleMuted(id string) (bool, error) {
	var v bool
	err := s.mutateContact(id, func(c *model.Contact) {
		c.IsMuted = !c.IsMuted
		v = c.IsMuted
	})
	return v, err
}

// SetOnline records a contact's presence.
func (s *Store) SetOnline(id string, online bool) error {
	return s.mutateContact(id, func(c *model.Contact) { c.IsOnline = online })
}

// AddConversation registers a conversation with a known id, used when
// hydrating from the archive or the backend. The input is copied.
func (s *Store) AddConversation(cv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[cv.ContactID]; !ok {
		return fmt.Errorf("conversation for contact %q: %w", cv.ContactID, ErrNotFound)
	}
	if _, ok := s.convs[cv.ID]; ok {
		return nil
	}
	stored := cv.Clone()
	if stored.Tags == nil {
		stored.Tags = make(map[string]struct{})
	}
	s.convs[stored.ID] = stored
	s.convOrder = append(s.convOrder, stored.ID)
	s.byContact[stored.ContactID] = stored.ID
	return nil
}

// EnsureConversation returns the conversation for a contact, creating
// it lazily the first time a message targets that contact.
func (s *Store) EnsureConversation(contactID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return nil, fmt.Errorf("conversation for contact %q: %w", contactID, ErrNotFound)
	}
	if id, ok := s.byContact[contactID]; ok {
		return s.convs[id].Clone(), nil
	}
	cv := &model.Conversation{
		ID:        uuid.NewString(),
		ContactID: contactID,
		ChatType:  c.Type,
		Tags:      make(map[string]struct{}),
	}
	s.convs[cv.ID] = cv
	s.convOrder = append(s.convOrder, cv.ID)
	s.byContact[contactID] = cv.ID
	return cv.Clone(), nil
}

// ConversationByContact returns a snapshot of the conversation for a
// contact, if any.
func (s *Store) ConversationByContact(contactID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byContact[contactID]
	if !ok {
		return nil, fmt.Errorf("conversation for contact %q: %w", contactID, ErrNotFound)
	}
	return s.convs[id].Clone(), nil
}

// Conversation returns a snapshot of a conversation by id.
func (s *Store) Conversation(id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return cv.Clone(), nil
}

// TagConversation adds a tag to a conversation.
func (s *Store) TagConversation(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	cv.Tags[tag] = struct{}{}
	return nil
}

// AssignConversation sets the assignee of a conversation.
func (s *Store) AssignConversation(id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	cv.AssignedTo = userID
	return nil
}

// TogglePinned flips a conversation's pinned flag.
func (s *Store) TogglePinned(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.convs[id]
	if !ok {
		return false, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	cv.IsPinned = !cv.IsPinned
	return cv.IsPinned, nil
}
