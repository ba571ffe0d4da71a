package history

import (
	"context"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// UpsertMessage inserts or updates a message row (idempotent on id).
func (db *DB) UpsertMessage(m *model.Message) error {
	now := time.Now().UnixMilli()
	var attURL, attFilename string
	var attSize int64
	var attDuration int
	if m.Attachment != nil {
		attURL = m.Attachment.URL
		attFilename = m.Attachment.Filename
		attSize = m.Attachment.Size
		attDuration = m.Attachment.DurationSeconds
	}
	var replyID, replySender, replyBody, replyType string
	if m.ReplyTo != nil {
		replyID = m.ReplyTo.MessageID
		replySender = m.ReplyTo.SenderName
		replyBody = m.ReplyTo.Body
		replyType = string(m.ReplyTo.Type)
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, body, message_type, from_me, status, timestamp,
			attachment_url, attachment_filename, attachment_size, attachment_duration,
			reply_to_id, reply_sender, reply_body, reply_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = excluded.status`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Body, string(m.Type), m.FromMe, string(m.Status),
		m.Timestamp.UnixMilli(), attURL, attFilename, attSize, attDuration,
		replyID, replySender, replyBody, replyType, now)
	return err
}

// DeleteMessage removes a message row. Deleting an absent id is a
// no-op.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

const messageColumns = `id, conversation_id, sender_id, sender_name, body, message_type, from_me, status, timestamp,
	attachment_url, attachment_filename, attachment_size, attachment_duration,
	reply_to_id, reply_sender, reply_body, reply_type`

func scanMessage(scan func(...any) error) (*model.Message, error) {
	var m model.Message
	var msgType, status string
	var tsMillis int64
	var attURL, attFilename string
	var attSize int64
	var attDuration int
	var replyID, replySender, replyBody, replyType string

	err := scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body, &msgType, &m.FromMe, &status, &tsMillis,
		&attURL, &attFilename, &attSize, &attDuration,
		&replyID, &replySender, &replyBody, &replyType)
	if err != nil {
		return nil, err
	}
	m.Type = model.MessageType(msgType)
	m.Status = model.Status(status)
	m.Timestamp = time.UnixMilli(tsMillis).UTC()
	if attURL != "" {
		m.Attachment = &model.Attachment{
			URL:             attURL,
			Filename:        attFilename,
			Size:            attSize,
			DurationSeconds: attDuration,
		}
	}
	if replyID != "" {
		m.ReplyTo = &model.ReplySnapshot{
			MessageID:  replyID,
			SenderName: replySender,
			Body:       replyBody,
			Type:       model.MessageType(replyType),
		}
	}
	return &m, nil
}

// FetchMessages returns a conversation's messages in timestamp order.
func (db *DB) FetchMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp, rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
