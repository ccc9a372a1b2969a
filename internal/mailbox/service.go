// Package mailbox orchestrates list fetches and message actions across
// the Gmail client, the list cache, and the state store.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailpane/mailpane/internal/cache"
	"github.com/mailpane/mailpane/internal/gmail"
	"github.com/mailpane/mailpane/internal/mail"
	"github.com/mailpane/mailpane/internal/state"
)

const defaultPageSize = 20

// Service serves list pages cache-first and applies message actions
// server-first: a mutation only touches local state after the server
// confirmed it, so the local view never shows a change that didn't take.
type Service struct {
	api      gmail.API
	lists    *cache.Lists
	store    *state.Store
	logger   *slog.Logger
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPageSize overrides the list page size.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewService creates the mailbox service.
func NewService(api gmail.API, lists *cache.Lists, store *state.Store, opts ...Option) *Service {
	s := &Service{
		api:      api,
		lists:    lists,
		store:    store,
		logger:   slog.Default(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns one page of a category, from cache when possible. force
// bypasses the cache read but still refreshes the cache with the result.
// The state store is updated alongside: first pages replace the category,
// later pages append, and the category's loading flag is raised for the
// duration of a server fetch.
func (s *Service) Fetch(ctx context.Context, category mail.Category, pageToken, userID string, force bool) (mail.ListPage, error) {
	if !category.Valid() || category == mail.CategorySearch {
		return mail.ListPage{}, fmt.Errorf("invalid category %q", category)
	}

	if !force {
		if page, ok := s.lists.Get(category, pageToken, userID); ok {
			s.applyPage(category, pageToken, page)
			return page, nil
		}
	}

	s.store.SetLoading(category, true)
	defer s.store.SetLoading(category, false)

	page, err := s.fetchPage(ctx, category.Query(), pageToken)
	if err != nil {
		return mail.ListPage{}, err
	}

	// The first inbox page carries the mailbox history ID so sync can
	// seed its cursor from a fresh full view.
	if category == mail.CategoryInbox && pageToken == "" {
		if profile, err := s.api.GetProfile(ctx); err == nil {
			page.HistoryID = profile.HistoryID
		} else {
			s.logger.Warn("failed to fetch profile for history seed", "error", err)
		}
	}

	s.lists.Put(category, page, pageToken, userID)
	s.applyPage(category, pageToken, page)
	return page, nil
}

// Search returns one page of search results. Results are cached by query
// and never mix with category pages. Spam and trash are excluded unless
// the query itself asks for a location.
func (s *Service) Search(ctx context.Context, query, pageToken, userID string) (mail.ListPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return mail.ListPage{}, fmt.Errorf("empty search query")
	}

	if page, ok := s.lists.GetSearch(query, pageToken, userID); ok {
		s.applyPage(mail.CategorySearch, pageToken, page)
		return page, nil
	}

	s.store.SetLoading(mail.CategorySearch, true)
	defer s.store.SetLoading(mail.CategorySearch, false)

	page, err := s.fetchPage(ctx, searchQuery(query), pageToken)
	if err != nil {
		return mail.ListPage{}, err
	}

	s.lists.PutSearch(query, page, pageToken, userID)
	s.applyPage(mail.CategorySearch, pageToken, page)
	return page, nil
}

// searchQuery scopes a user query away from spam and trash unless the
// query already names a location.
func searchQuery(query string) string {
	if strings.Contains(query, "in:") || strings.Contains(query, "label:") {
		return query
	}
	return query + " -in:spam -in:trash"
}

// RefreshInbox force-fetches the inbox first page and returns the
// mailbox history ID it was fetched at. Serves as the sync engine's full
// refetch and the update coordinator's fallback poll.
func (s *Service) RefreshInbox(ctx context.Context, userID string) (uint64, error) {
	page, err := s.Fetch(ctx, mail.CategoryInbox, "", userID, true)
	if err != nil {
		return 0, err
	}
	return page.HistoryID, nil
}

// SetStarred stars or unstars a message. The label change is confirmed
// by the server first; only then are the cached lists patched and the
// state store updated, both following the same movement rules: starring
// moves the message into the starred list, unstarring returns it to the
// inbox only when it still carries the inbox label.
func (s *Service) SetStarred(ctx context.Context, msg mail.Message, starred bool, userID string) error {
	var add, remove []string
	if starred {
		add = []string{mail.LabelStarred}
	} else {
		remove = []string{mail.LabelStarred}
	}
	if _, err := s.api.ModifyLabels(ctx, msg.ID, add, remove); err != nil {
		return fmt.Errorf("modify labels: %w", err)
	}

	s.lists.UpdateListsOnStarChange(msg, starred, userID)

	updated := msg.WithStarred(starred)
	s.store.Dispatch(state.UpdateEmailAllCategories{ID: msg.ID, Update: func(m mail.Message) mail.Message {
		return m.WithStarred(starred)
	}})
	if starred {
		s.store.Dispatch(state.PrependEmail{Category: mail.CategoryStarred, Message: updated})
	} else {
		s.store.Dispatch(state.RemoveEmail{Category: mail.CategoryStarred, ID: msg.ID})
		if updated.HasLabel(mail.LabelInbox) {
			s.store.Dispatch(state.PrependEmail{Category: mail.CategoryInbox, Message: updated})
		}
	}
	return nil
}

// MarkRead clears the unread flag on the server, then in every local
// list holding the message.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	if _, err := s.api.ModifyLabels(ctx, messageID, nil, []string{mail.LabelUnread}); err != nil {
		return fmt.Errorf("modify labels: %w", err)
	}
	s.store.Dispatch(state.MarkEmailRead{ID: messageID})
	return nil
}

// Trash moves a message to trash and drops it from its source category.
func (s *Service) Trash(ctx context.Context, messageID string, from mail.Category, userID string) error {
	if err := s.api.TrashMessage(ctx, messageID); err != nil {
		return fmt.Errorf("trash: %w", err)
	}
	s.store.Dispatch(state.RemoveEmail{Category: from, ID: messageID})
	s.lists.InvalidateCategory(from, userID)
	s.lists.InvalidateCategory(mail.CategoryTrash, userID)
	return nil
}

// Untrash restores a message from trash.
func (s *Service) Untrash(ctx context.Context, messageID, userID string) error {
	if err := s.api.UntrashMessage(ctx, messageID); err != nil {
		return fmt.Errorf("untrash: %w", err)
	}
	s.store.Dispatch(state.RemoveEmail{Category: mail.CategoryTrash, ID: messageID})
	s.lists.InvalidateCategory(mail.CategoryTrash, userID)
	s.lists.InvalidateCategory(mail.CategoryInbox, userID)
	return nil
}

// MarkSpam moves a message to spam.
func (s *Service) MarkSpam(ctx context.Context, messageID string, from mail.Category, userID string) error {
	if _, err := s.api.ModifyLabels(ctx, messageID, []string{mail.LabelSpam}, []string{mail.LabelInbox}); err != nil {
		return fmt.Errorf("modify labels: %w", err)
	}
	s.store.Dispatch(state.RemoveEmail{Category: from, ID: messageID})
	s.lists.InvalidateCategory(from, userID)
	s.lists.InvalidateCategory(mail.CategorySpam, userID)
	return nil
}

// UnmarkSpam restores a message from spam to the inbox.
func (s *Service) UnmarkSpam(ctx context.Context, messageID, userID string) error {
	if _, err := s.api.ModifyLabels(ctx, messageID, []string{mail.LabelInbox}, []string{mail.LabelSpam}); err != nil {
		return fmt.Errorf("modify labels: %w", err)
	}
	s.store.Dispatch(state.RemoveEmail{Category: mail.CategorySpam, ID: messageID})
	s.lists.InvalidateCategory(mail.CategorySpam, userID)
	s.lists.InvalidateCategory(mail.CategoryInbox, userID)
	return nil
}

// CacheStats exposes cache tier sizes for the stats endpoint.
func (s *Service) CacheStats() cache.Stats {
	return s.lists.Stats()
}

// fetchPage lists matching IDs then batch-fetches their metadata.
func (s *Service) fetchPage(ctx context.Context, query, pageToken string) (mail.ListPage, error) {
	listResp, err := s.api.ListMessages(ctx, query, pageToken, s.pageSize)
	if err != nil {
		return mail.ListPage{}, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, len(listResp.Messages))
	for i, ref := range listResp.Messages {
		ids[i] = ref.ID
	}

	msgs, err := s.api.GetMessagesMetaBatch(ctx, ids)
	if err != nil {
		return mail.ListPage{}, fmt.Errorf("fetch metadata: %w", err)
	}

	return mail.ListPage{
		Messages:           msgs,
		NextPageToken:      listResp.NextPageToken,
		ResultSizeEstimate: listResp.ResultSizeEstimate,
	}, nil
}

// applyPage pushes a fetched page into the state store.
func (s *Service) applyPage(category mail.Category, pageToken string, page mail.ListPage) {
	if pageToken == "" {
		s.store.Dispatch(state.SetEmails{Category: category, Messages: page.Messages})
	} else {
		s.store.Dispatch(state.AppendEmails{Category: category, Messages: page.Messages})
	}
	s.store.SetPageToken(category, page.NextPageToken)
}
