package history

import (
	"context"
	"fmt"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// Hydrate loads the archive into an in-memory store: contacts first,
// then conversations, then each conversation's messages in timestamp
// order. Append dedupes by id, so hydrating an already-populated store
// is safe.
func (db *DB) Hydrate(ctx context.Context, s *store.Store) error {
	contacts, err := db.FetchContacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}
	for _, c := range contacts {
		s.UpsertContact(c)
	}

	convs, err := db.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	for _, cv := range convs {
		if err := s.AddConversation(cv); err != nil {
			return fmt.Errorf("add conversation %s: %w", cv.ID, err)
		}
		msgs, err := db.FetchMessages(ctx, cv.ID)
		if err != nil {
			return fmt.Errorf("fetch messages of %s: %w", cv.ID, err)
		}
		for _, m := range msgs {
			if _, err := s.Append(m); err != nil {
				return fmt.Errorf("append message %s: %w", m.ID, err)
			}
		}
	}
	return nil
}
