// Package filter implements predicate composition over conversation
// views and contacts. All criteria combine with AND semantics; a zero
// criterion matches everything. Filtering is stable: output preserves
// input order.
package filter

import (
	"strings"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/model"
	"github.com/chatdeskhq/chatdesk/internal/store"
)

// Spec is a filter specification. Zero values are inactive criteria.
type Spec struct {
	ChatType   model.ChatType
	SearchText string
	From       time.Time // inclusive lower bound on the last message timestamp
	To         time.Time // exclusive upper bound on the last message timestamp
	Assignee   string
	Tag        string

	// Archived and blocked contacts are hidden by default but remain
	// addressable by id; these flags opt them back into results.
	IncludeArchived bool
	IncludeBlocked  bool
}

// ActiveCount returns how many criteria the spec enforces. It must
// agree exactly with Match: a criterion counts iff it can exclude
// something.
func (sp Spec) ActiveCount() int {
	n := 0
	if sp.ChatType != "" {
		n++
	}
	if sp.SearchText != "" {
		n++
	}
	if !sp.From.IsZero() || !sp.To.IsZero() {
		n++
	}
	if sp.Assignee != "" {
		n++
	}
	if sp.Tag != "" {
		n++
	}
	return n
}

// Conversations returns the views matching the spec, in input order.
func Conversations(views []store.ConversationView, sp Spec) []store.ConversationView {
	var out []store.ConversationView
	for _, v := range views {
		if MatchConversation(v, sp) {
			out = append(out, v)
		}
	}
	return out
}

// MatchConversation reports whether a single view passes every active
// criterion.
func MatchConversation(v store.ConversationView, sp Spec) bool {
	if v.Contact != nil {
		if v.Contact.IsArchived && !sp.IncludeArchived {
			return false
		}
		if v.Contact.IsBlocked && !sp.IncludeBlocked {
			return false
		}
	}
	if sp.ChatType != "" && v.Conversation.ChatType != sp.ChatType {
		return false
	}
	if sp.SearchText != "" {
		if v.Contact == nil || !containsFold(v.Contact.Name, sp.SearchText) {
			return false
		}
	}
	if !sp.From.IsZero() || !sp.To.IsZero() {
		if v.LastMessage == nil {
			return false
		}
		ts := v.LastMessage.Timestamp
		if !sp.From.IsZero() && ts.Before(sp.From) {
			return false
		}
		if !sp.To.IsZero() && !ts.Before(sp.To) {
			return false
		}
	}
	if sp.Assignee != "" && v.Conversation.AssignedTo != sp.Assignee {
		return false
	}
	if sp.Tag != "" && !v.Conversation.HasTag(sp.Tag) {
		return false
	}
	return true
}

// Contacts returns the contacts matching the spec, in input order.
// The date-range and assignee criteria do not apply to contacts.
func Contacts(contacts []*model.Contact, sp Spec) []*model.Contact {
	var out []*model.Contact
	for _, c := range contacts {
		if MatchContact(c, sp) {
			out = append(out, c)
		}
	}
	return out
}

// MatchContact reports whether a contact passes the contact criteria.
func MatchContact(c *model.Contact, sp Spec) bool {
	if c.IsArchived && !sp.IncludeArchived {
		return false
	}
	if c.IsBlocked && !sp.IncludeBlocked {
		return false
	}
	if sp.ChatType != "" && c.Type != sp.ChatType {
		return false
	}
	if sp.SearchText != "" && !containsFold(c.Name, sp.SearchText) {
		return false
	}
	if sp.Tag != "" && !c.HasTag(sp.Tag) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
