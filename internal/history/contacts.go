package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/model"
)

// joinTags encodes a tag set as a sorted comma-separated string.
func joinTags(tags map[string]struct{}) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func splitTags(s string) map[string]struct{} {
	tags := make(map[string]struct{})
	for _, tag := range strings.Split(s, ",") {
		if tag != "" {
			tags[tag] = struct{}{}
		}
	}
	return tags
}

// UpsertContact inserts or updates a contact row (idempotent on id).
func (db *DB) UpsertContact(c *model.Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, phone, chat_type, is_starred, is_archived, is_blocked, is_muted, tags, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			chat_type = excluded.chat_type,
			is_starred = excluded.is_starred,
			is_archived = excluded.is_archived,
			is_blocked = excluded.is_blocked,
			is_muted = excluded.is_muted,
			tags = excluded.tags,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Phone, string(c.Type), c.IsStarred, c.IsArchived, c.IsBlocked, c.IsMuted,
		joinTags(c.Tags), c.AvatarURL, now)
	return err
}

// FetchContacts returns all archived contacts in name order.
func (db *DB) FetchContacts(ctx context.Context) ([]*model.Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, phone, chat_type, is_starred, is_archived, is_blocked, is_muted, tags, avatar_url
		FROM contacts
		ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []*model.Contact
	for rows.Next() {
		var c model.Contact
		var chatType, tags string
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &chatType, &c.IsStarred, &c.IsArchived, &c.IsBlocked, &c.IsMuted, &tags, &c.AvatarURL); err != nil {
			return nil, err
		}
		c.Type = model.ChatType(chatType)
		c.Tags = splitTags(tags)
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
