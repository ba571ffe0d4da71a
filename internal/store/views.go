package store

import "github.com/chatdeskhq/chatdesk/internal/model"

// ConversationView is a conversation snapshot with its derived fields
// computed from the message list at read time.
type ConversationView struct {
	Conversation *model.Conversation
	Contact      *model.Contact
	LastMessage  *model.Message
	UnreadCount  int
}

// Conversations returns a view of every conversation in insertion
// order, with last message and unread count recomputed from the
// message lists. Every pointer in the view is a snapshot.
func (s *Store) Conversations() []ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationView, 0, len(s.convOrder))
	for _, id := range s.convOrder {
		cv := s.convs[id]
		view := ConversationView{
			Conversation: cv.Clone(),
			Contact:      s.contacts[cv.ContactID].Clone(),
		}
		list := s.msgs[id]
		if len(list) > 0 {
			view.LastMessage = list[len(list)-1].Clone()
		}
		for _, m := range list {
			if !m.FromMe && m.Status != model.StatusRead {
				view.UnreadCount++
			}
		}
		out = append(out, view)
	}
	return out
}
