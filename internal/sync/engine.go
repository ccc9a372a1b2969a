package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailpane/mailpane/internal/cache"
	"github.com/mailpane/mailpane/internal/gmail"
	"github.com/mailpane/mailpane/internal/mail"
	"github.com/mailpane/mailpane/internal/state"
)

// defaultMaxDelta caps how many new messages one notification may inject.
// A burst larger than this is served better by a full refetch anyway.
const defaultMaxDelta = 10

// RefreshFunc refetches the inbox first page from the server and returns
// the history ID the mailbox reported, for cursor seeding.
type RefreshFunc func(ctx context.Context, userID string) (uint64, error)

// Engine applies mailbox-change notifications to the local state. With a
// stored cursor it fetches the history delta and prepends new inbox
// messages; without one, or when the delta cannot be served, it falls
// back to a full refetch. The cursor always advances so one bad delta
// cannot wedge future syncs.
type Engine struct {
	api      gmail.Lister
	cursors  *Cursors
	store    *state.Store
	lists    *cache.Lists
	refresh  RefreshFunc
	logger   *slog.Logger
	maxDelta int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxDelta overrides the per-notification new-message cap.
func WithMaxDelta(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxDelta = n
		}
	}
}

// NewEngine creates a sync engine.
func NewEngine(api gmail.Lister, cursors *Cursors, store *state.Store, lists *cache.Lists, refresh RefreshFunc, opts ...EngineOption) *Engine {
	e := &Engine{
		api:      api,
		cursors:  cursors,
		store:    store,
		lists:    lists,
		refresh:  refresh,
		logger:   slog.Default(),
		maxDelta: defaultMaxDelta,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleNotification processes one mailbox-change signal. notifiedID is
// the history ID carried by the notification; zero means unknown.
//
// An expired authorization is returned to the caller untouched: it is the
// one failure no fallback may mask, since every cheaper strategy would
// fail the same way.
func (e *Engine) HandleNotification(ctx context.Context, userID string, notifiedID uint64) error {
	cursor, ok := e.cursors.Get(userID)
	if !ok {
		e.logger.Info("no sync cursor, full refetch", "user", userID)
		return e.fullRefresh(ctx, userID, notifiedID)
	}

	if notifiedID != 0 && cursor >= notifiedID {
		e.logger.Debug("already up to date", "user", userID, "cursor", cursor)
		return nil
	}

	added, finalID, err := e.collectDelta(ctx, cursor)
	if err != nil {
		if errors.Is(err, gmail.ErrAuthExpired) {
			return err
		}
		var notFound *gmail.NotFoundError
		if errors.As(err, &notFound) {
			e.logger.Warn("history expired, falling back to full refetch", "user", userID, "cursor", cursor)
		} else {
			e.logger.Warn("history delta failed, falling back to full refetch", "user", userID, "error", err)
		}
		return e.fullRefresh(ctx, userID, notifiedID)
	}

	if len(added) > 0 {
		msgs, err := e.api.GetMessagesMetaBatch(ctx, refIDs(added))
		if err != nil {
			if errors.Is(err, gmail.ErrAuthExpired) {
				return err
			}
			e.logger.Warn("delta metadata fetch failed, falling back to full refetch", "user", userID, "error", err)
			return e.fullRefresh(ctx, userID, notifiedID)
		}

		// History runs oldest to newest; prepending in that order leaves
		// the newest message at the front.
		for _, m := range msgs {
			e.store.Dispatch(state.PrependEmail{Category: mail.CategoryInbox, Message: m})
		}
		if len(msgs) > 0 {
			e.lists.InvalidateCategory(mail.CategoryInbox, userID)
		}
		e.logger.Info("applied history delta", "user", userID, "added", len(msgs))
	}

	e.advanceCursor(userID, finalID, notifiedID)
	return nil
}

// collectDelta walks the history pages after the cursor and returns the
// new inbox message refs, capped at maxDelta most recent, plus the final
// history ID.
func (e *Engine) collectDelta(ctx context.Context, cursor uint64) ([]gmail.MessageRef, uint64, error) {
	var (
		added     []gmail.MessageRef
		seen      = make(map[string]bool)
		finalID   uint64
		pageToken string
	)

	for {
		resp, err := e.api.ListHistory(ctx, cursor, pageToken)
		if err != nil {
			return nil, 0, fmt.Errorf("list history: %w", err)
		}
		if resp.HistoryID > finalID {
			finalID = resp.HistoryID
		}

		for _, record := range resp.History {
			for _, ref := range record.MessagesAdded {
				if seen[ref.ID] || !hasInboxLabel(ref.LabelIDs) {
					continue
				}
				seen[ref.ID] = true
				added = append(added, ref)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// Keep only the most recent additions when a notification covers a
	// large burst.
	if len(added) > e.maxDelta {
		added = added[len(added)-e.maxDelta:]
	}
	return added, finalID, nil
}

// fullRefresh refetches the inbox wholesale and seeds the cursor from the
// refreshed mailbox state.
func (e *Engine) fullRefresh(ctx context.Context, userID string, notifiedID uint64) error {
	historyID, err := e.refresh(ctx, userID)
	if err != nil {
		return fmt.Errorf("full refetch: %w", err)
	}
	e.advanceCursor(userID, historyID, notifiedID)
	return nil
}

// advanceCursor persists the best known history ID. The cursor always
// moves forward so one permanently-failing delta cannot block future
// syncs; cursor-store failures only log because the next notification
// repairs them via full refetch.
func (e *Engine) advanceCursor(userID string, historyID, notifiedID uint64) {
	if notifiedID > historyID {
		historyID = notifiedID
	}
	if historyID == 0 {
		return
	}
	if cur, ok := e.cursors.Get(userID); ok && cur >= historyID {
		return
	}
	if err := e.cursors.Set(userID, historyID); err != nil {
		e.logger.Warn("failed to persist sync cursor", "user", userID, "error", err)
	}
}

func hasInboxLabel(labels []string) bool {
	for _, l := range labels {
		if l == mail.LabelInbox {
			return true
		}
	}
	return false
}

func refIDs(refs []gmail.MessageRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}
