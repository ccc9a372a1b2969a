// Package mail defines the core message and category types shared by the
// cache, state, and sync layers.
package mail

// Well-known Gmail label IDs used for category membership and flags.
const (
	LabelInbox   = "INBOX"
	LabelStarred = "STARRED"
	LabelUnread  = "UNREAD"
	LabelSpam    = "SPAM"
	LabelTrash   = "TRASH"
)

// Category identifies one of the persistent mailbox views, plus the
// ephemeral search view.
type Category string

const (
	CategoryInbox   Category = "inbox"
	CategoryStarred Category = "starred"
	CategorySpam    Category = "spam"
	CategoryTrash   Category = "trash"
	CategorySearch  Category = "search"
)

// Categories lists the four persistent categories. Search is excluded:
// search results are never cached and never synced.
var Categories = []Category{CategoryInbox, CategoryStarred, CategorySpam, CategoryTrash}

// Valid reports whether c is a known category (including search).
func (c Category) Valid() bool {
	switch c {
	case CategoryInbox, CategoryStarred, CategorySpam, CategoryTrash, CategorySearch:
		return true
	}
	return false
}

// Query returns the Gmail search query that defines membership in the category.
func (c Category) Query() string {
	switch c {
	case CategoryInbox:
		return "in:inbox -in:spam -in:trash"
	case CategoryStarred:
		return "is:starred -in:trash"
	case CategorySpam:
		return "in:spam"
	case CategoryTrash:
		return "in:trash"
	}
	return ""
}

// Message is a list-view email. IsUnread and IsStarred are denormalized
// from the label set; every update that touches labels must keep them in
// step, which is why mutations go through the With* copy helpers instead
// of writing fields directly.
type Message struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	Subject      string   `json:"subject"`
	From         string   `json:"from"`
	Date         string   `json:"date"`
	Snippet      string   `json:"snippet"`
	LabelIDs     []string `json:"labelIds"`
	IsUnread     bool     `json:"isUnread"`
	IsStarred    bool     `json:"isStarred"`
	InternalDate int64    `json:"internalDate,string"`
}

// HasLabel reports whether the message carries the given label.
func (m Message) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// WithLabels returns a copy of m with the given labels added and removed
// (in that order) and the unread/starred flags re-derived from the result.
// The receiver's label slice is never mutated; copies share nothing.
func (m Message) WithLabels(add, remove []string) Message {
	labels := make([]string, 0, len(m.LabelIDs)+len(add))
	labels = append(labels, m.LabelIDs...)
	for _, l := range add {
		if !contains(labels, l) {
			labels = append(labels, l)
		}
	}
	if len(remove) > 0 {
		kept := labels[:0]
		for _, l := range labels {
			if !contains(remove, l) {
				kept = append(kept, l)
			}
		}
		labels = kept
	}
	m.LabelIDs = labels
	m.IsUnread = contains(labels, LabelUnread)
	m.IsStarred = contains(labels, LabelStarred)
	return m
}

// WithStarred returns a copy of m with the STARRED label and flag set together.
func (m Message) WithStarred(starred bool) Message {
	if starred {
		return m.WithLabels([]string{LabelStarred}, nil)
	}
	return m.WithLabels(nil, []string{LabelStarred})
}

// WithRead returns a copy of m with the UNREAD label and flag cleared together.
func (m Message) WithRead() Message {
	return m.WithLabels(nil, []string{LabelUnread})
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
