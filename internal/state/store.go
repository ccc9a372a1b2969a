package state

import (
	"sync"

	"github.com/mailpane/mailpane/internal/mail"
)

// Store wraps the reducer with the per-category loading flags and
// pagination cursors, behind a single dispatch point. All methods are
// safe for concurrent use; dispatches are serialized and last-write-wins.
type Store struct {
	mu         sync.RWMutex
	emails     Emails
	loading    map[mail.Category]bool
	pageTokens map[mail.Category]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		loading:    make(map[mail.Category]bool),
		pageTokens: make(map[mail.Category]string),
	}
}

// Dispatch applies an action through the reducer.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = Reduce(s.emails, action)
}

// Snapshot returns the current email lists. Reducers never mutate slices
// in place, so the returned value is safe to read without copying as long
// as callers treat it as immutable.
func (s *Store) Snapshot() Emails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emails
}

// Category returns the current list for one category.
func (s *Store) Category(c mail.Category) []mail.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emails.Category(c)
}

// SetLoading sets the loading flag for a category.
func (s *Store) SetLoading(c mail.Category, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[c] = loading
}

// Loading reports whether a category fetch is in flight.
func (s *Store) Loading(c mail.Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[c]
}

// SetPageToken stores the next-page cursor for a category. Empty means
// no further pages.
func (s *Store) SetPageToken(c mail.Category, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageTokens[c] = token
}

// PageToken returns the next-page cursor for a category.
func (s *Store) PageToken(c mail.Category) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageTokens[c]
}

// Counts returns the number of messages currently held per category.
func (s *Store) Counts() map[mail.Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[mail.Category]int, len(allCategories))
	for _, c := range allCategories {
		counts[c] = len(s.emails.Category(c))
	}
	return counts
}
