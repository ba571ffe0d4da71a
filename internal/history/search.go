package history

import "github.com/chatdeskhq/chatdesk/internal/model"

// SearchResult holds a matched message with a highlighted snippet.
type SearchResult struct {
	Message *model.Message
	Snippet string
}

// SearchMessages performs a full-text search on message bodies,
// optionally scoped to one conversation.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.sender_id, m.sender_name, m.body, m.message_type, m.from_me, m.status, m.timestamp,
		       m.attachment_url, m.attachment_filename, m.attachment_size, m.attachment_duration,
		       m.reply_to_id, m.reply_sender, m.reply_body, m.reply_type,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var snippet string
		m, err := scanMessage(func(dest ...any) error {
			return rows.Scan(append(dest, &snippet)...)
		})
		if err != nil {
			return nil, err
		}
		r.Message = m
		r.Snippet = snippet
		results = append(results, r)
	}
	return results, rows.Err()
}
