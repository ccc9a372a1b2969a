// Package state holds the reducer-driven category state store: the single
// source of truth for the rendered email lists.
package state

import (
	"github.com/mailpane/mailpane/internal/mail"
)

// Emails is the per-category message lists. Reducers never mutate a
// previous value's slices in place; every transition returns a new value
// with fresh slices for the categories it touched.
type Emails struct {
	Inbox   []mail.Message
	Starred []mail.Message
	Spam    []mail.Message
	Trash   []mail.Message
	Search  []mail.Message
}

// Category returns the list for the given category.
func (e Emails) Category(c mail.Category) []mail.Message {
	switch c {
	case mail.CategoryInbox:
		return e.Inbox
	case mail.CategoryStarred:
		return e.Starred
	case mail.CategorySpam:
		return e.Spam
	case mail.CategoryTrash:
		return e.Trash
	case mail.CategorySearch:
		return e.Search
	}
	return nil
}

func (e Emails) withCategory(c mail.Category, msgs []mail.Message) Emails {
	switch c {
	case mail.CategoryInbox:
		e.Inbox = msgs
	case mail.CategoryStarred:
		e.Starred = msgs
	case mail.CategorySpam:
		e.Spam = msgs
	case mail.CategoryTrash:
		e.Trash = msgs
	case mail.CategorySearch:
		e.Search = msgs
	}
	return e
}

// allCategories includes the ephemeral search view: flag updates and
// read-marking must reach search results too.
var allCategories = []mail.Category{
	mail.CategoryInbox, mail.CategoryStarred, mail.CategorySpam, mail.CategoryTrash, mail.CategorySearch,
}

// Action is a state transition applied through Reduce.
type Action interface {
	isAction()
}

// SetEmails replaces a category's list wholesale (fresh first-page loads
// and search results).
type SetEmails struct {
	Category mail.Category
	Messages []mail.Message
}

// AppendEmails concatenates a page at the end (pagination).
type AppendEmails struct {
	Category mail.Category
	Messages []mail.Message
}

// PrependEmail inserts at the front unless the id is already present.
// Idempotence matters: a live-push sync and a user refresh can race and
// must not double-insert.
type PrependEmail struct {
	Category mail.Category
	Message  mail.Message
}

// UpdateEmail replaces the matching entry with Update applied to it.
type UpdateEmail struct {
	Category mail.Category
	ID       string
	Update   func(mail.Message) mail.Message
}

// UpdateEmailAllCategories applies UpdateEmail across every category.
type UpdateEmailAllCategories struct {
	ID     string
	Update func(mail.Message) mail.Message
}

// MarkEmailRead clears the unread flag and UNREAD label together, in
// every category holding the id.
type MarkEmailRead struct {
	ID string
}

// RemoveEmail filters the id out of one category.
type RemoveEmail struct {
	Category mail.Category
	ID       string
}

// ClearCategory resets a category to empty (leaving search mode).
type ClearCategory struct {
	Category mail.Category
}

func (SetEmails) isAction()                {}
func (AppendEmails) isAction()             {}
func (PrependEmail) isAction()             {}
func (UpdateEmail) isAction()              {}
func (UpdateEmailAllCategories) isAction() {}
func (MarkEmailRead) isAction()            {}
func (RemoveEmail) isAction()              {}
func (ClearCategory) isAction()            {}

// Reduce is the pure state-transition function. Unknown actions return
// the state unchanged.
func Reduce(s Emails, action Action) Emails {
	switch a := action.(type) {
	case SetEmails:
		return s.withCategory(a.Category, append([]mail.Message(nil), a.Messages...))

	case AppendEmails:
		cur := s.Category(a.Category)
		next := make([]mail.Message, 0, len(cur)+len(a.Messages))
		next = append(next, cur...)
		next = append(next, a.Messages...)
		return s.withCategory(a.Category, next)

	case PrependEmail:
		cur := s.Category(a.Category)
		for _, m := range cur {
			if m.ID == a.Message.ID {
				return s
			}
		}
		next := make([]mail.Message, 0, len(cur)+1)
		next = append(next, a.Message)
		next = append(next, cur...)
		return s.withCategory(a.Category, next)

	case UpdateEmail:
		return s.withCategory(a.Category, updateByID(s.Category(a.Category), a.ID, a.Update))

	case UpdateEmailAllCategories:
		for _, c := range allCategories {
			s = s.withCategory(c, updateByID(s.Category(c), a.ID, a.Update))
		}
		return s

	case MarkEmailRead:
		for _, c := range allCategories {
			s = s.withCategory(c, updateByID(s.Category(c), a.ID, mail.Message.WithRead))
		}
		return s

	case RemoveEmail:
		cur := s.Category(a.Category)
		next := make([]mail.Message, 0, len(cur))
		for _, m := range cur {
			if m.ID != a.ID {
				next = append(next, m)
			}
		}
		if len(next) == len(cur) {
			return s
		}
		return s.withCategory(a.Category, next)

	case ClearCategory:
		return s.withCategory(a.Category, nil)
	}
	return s
}

// updateByID maps over msgs, applying update to the matching entry.
// When nothing matches, the original slice is returned untouched so
// unchanged categories keep their identity.
func updateByID(msgs []mail.Message, id string, update func(mail.Message) mail.Message) []mail.Message {
	matched := false
	for _, m := range msgs {
		if m.ID == id {
			matched = true
			break
		}
	}
	if !matched {
		return msgs
	}
	next := make([]mail.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == id {
			next[i] = update(m)
		} else {
			next[i] = m
		}
	}
	return next
}
