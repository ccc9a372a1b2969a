package cache

import (
	"github.com/mailpane/mailpane/internal/mail"
)

// UpdateListsOnStarChange patches the cached inbox and starred first pages
// after a confirmed star change, so the UI stays coherent without a full
// refetch.
//
// The whole operation is best-effort: the server response is the source of
// truth for the star action itself, so each step reports whether it patched
// anything and the orchestration discards those outcomes. Categories
// without an existing cached entry are left absent, never created.
func (l *Lists) UpdateListsOnStarChange(msg mail.Message, starred bool, userID string) {
	if starred {
		_ = l.removeFromList(mail.CategoryInbox, msg.ID, userID)
		_ = l.upsertStarred(msg, userID)
		return
	}

	_ = l.removeFromList(mail.CategoryStarred, msg.ID, userID)
	// A message can be starred without being in the inbox; only messages
	// that still carry the INBOX label reappear there.
	if msg.HasLabel(mail.LabelInbox) {
		_ = l.prependToList(mail.CategoryInbox, msg.WithStarred(false), userID)
	}
}

// removeFromList drops the message from a cached category page, leaving
// the remaining order untouched. Reports false when the page is not
// cached or the message was not in it.
func (l *Lists) removeFromList(category mail.Category, id, userID string) bool {
	page, ok := l.Get(category, "", userID)
	if !ok {
		return false
	}
	kept := make([]mail.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(page.Messages) {
		return false
	}
	page.Messages = kept
	l.Put(category, page, "", userID)
	return true
}

// upsertStarred replaces the message in the cached starred page if present,
// or inserts the starred copy at the front (newly starred items are
// most-recent-first). Reports false when the page is not cached.
func (l *Lists) upsertStarred(msg mail.Message, userID string) bool {
	page, ok := l.Get(mail.CategoryStarred, "", userID)
	if !ok {
		return false
	}
	updated := msg.WithStarred(true)
	replaced := false
	messages := make([]mail.Message, len(page.Messages))
	for i, m := range page.Messages {
		if m.ID == msg.ID {
			messages[i] = updated
			replaced = true
		} else {
			messages[i] = m
		}
	}
	if !replaced {
		messages = append([]mail.Message{updated}, messages...)
	}
	page.Messages = messages
	l.Put(mail.CategoryStarred, page, "", userID)
	return true
}

// prependToList inserts the message at the front of a cached category page.
// Reports false when the page is not cached.
func (l *Lists) prependToList(category mail.Category, msg mail.Message, userID string) bool {
	page, ok := l.Get(category, "", userID)
	if !ok {
		return false
	}
	page.Messages = append([]mail.Message{msg}, page.Messages...)
	l.Put(category, page, "", userID)
	return true
}
