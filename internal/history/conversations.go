package history

import (
	"context"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// UpsertConversation inserts or updates a conversation row.
func (db *DB) UpsertConversation(cv *model.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, contact_id, chat_type, is_pinned, assigned_to, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_type = excluded.chat_type,
			is_pinned = excluded.is_pinned,
			assigned_to = excluded.assigned_to,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		cv.ID, cv.ContactID, string(cv.ChatType), cv.IsPinned, cv.AssignedTo, joinTags(cv.Tags), now)
	return err
}

// FetchConversations returns all archived conversations in insertion
// (rowid) order.
func (db *DB) FetchConversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, contact_id, chat_type, is_pinned, assigned_to, tags
		FROM conversations
		ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*model.Conversation
	for rows.Next() {
		var cv model.Conversation
		var chatType, tags string
		if err := rows.Scan(&cv.ID, &cv.ContactID, &chatType, &cv.IsPinned, &cv.AssignedTo, &tags); err != nil {
			return nil, err
		}
		cv.ChatType = model.ChatType(chatType)
		cv.Tags = splitTags(tags)
		convs = append(convs, &cv)
	}
	return convs, rows.Err()
}
