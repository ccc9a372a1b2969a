package cache

import (
	"net/url"
	"time"

	"github.com/mailpane/mailpane/internal/mail"
)

// TTL policy for cached list pages. The inbox first page uses a short TTL
// so new mail surfaces quickly; everything else keeps the default.
const (
	inboxFirstPageTTL = 30 * time.Second
	defaultListTTL    = 5 * time.Minute
	emptyPageTTL      = 60 * time.Second
)

// anonymousUser is the key segment used when no user identity is known.
const anonymousUser = "anonymous"

// Lists is the category-list facade over the tiered cache. It owns key
// construction and the per-category TTL policy; all list pages go through
// the persistent durable tier.
type Lists struct {
	cache *Manager
}

// NewLists creates the list facade over the given cache manager.
func NewLists(m *Manager) *Lists {
	return &Lists{cache: m}
}

// ListKey builds the cache key for a category page. Keys are namespaced by
// user so a shared store never leaks lists across users.
func ListKey(category mail.Category, pageToken, userID string) string {
	if userID == "" {
		userID = anonymousUser
	}
	if pageToken == "" {
		pageToken = "first"
	}
	return userID + ":" + string(category) + ":" + pageToken
}

// SearchKey builds the cache key for a search-result page. The query is
// escaped so distinct queries can never collide with category keys.
func SearchKey(query, pageToken, userID string) string {
	if userID == "" {
		userID = anonymousUser
	}
	if pageToken == "" {
		pageToken = "first"
	}
	return userID + ":search:" + url.QueryEscape(query) + ":" + pageToken
}

// Put caches a category page under the TTL policy.
func (l *Lists) Put(category mail.Category, page mail.ListPage, pageToken, userID string) {
	l.cache.Set(ListKey(category, pageToken, userID), page, listTTL(category, pageToken, page), TierPersistent)
}

// Get returns the cached page for a category, consulting the persistent
// tier (and promoting hits into the fast tier).
func (l *Lists) Get(category mail.Category, pageToken, userID string) (mail.ListPage, bool) {
	return l.cache.Get(ListKey(category, pageToken, userID), TierPersistent)
}

// PutSearch caches a search-result page. Search results always use the
// default TTL; there is no short-TTL first page for searches.
func (l *Lists) PutSearch(query string, page mail.ListPage, pageToken, userID string) {
	ttl := defaultListTTL
	if len(page.Messages) == 0 {
		ttl = emptyPageTTL
	}
	l.cache.Set(SearchKey(query, pageToken, userID), page, ttl, TierPersistent)
}

// GetSearch returns the cached page for a search query.
func (l *Lists) GetSearch(query, pageToken, userID string) (mail.ListPage, bool) {
	return l.cache.Get(SearchKey(query, pageToken, userID), TierPersistent)
}

// InvalidateCategory removes every cached page for the user's category,
// regardless of page token, across all tiers. Used after a push signals
// change so the next fetch bypasses the cache.
func (l *Lists) InvalidateCategory(category mail.Category, userID string) {
	if userID == "" {
		userID = anonymousUser
	}
	l.cache.DeleteByPrefix(userID + ":" + string(category) + ":")
}

// Clear drops every cached list page.
func (l *Lists) Clear() {
	l.cache.Clear()
}

// Stats exposes the underlying tier counts.
func (l *Lists) Stats() Stats {
	return l.cache.GetStats()
}

func listTTL(category mail.Category, pageToken string, page mail.ListPage) time.Duration {
	if len(page.Messages) == 0 {
		return emptyPageTTL
	}
	if category == mail.CategoryInbox && pageToken == "" {
		return inboxFirstPageTTL
	}
	return defaultListTTL
}
