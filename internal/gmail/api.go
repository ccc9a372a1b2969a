// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"time"

	"github.com/mailpane/mailpane/internal/mail"
)

// Lister provides read access to the mailbox: profile, list pages,
// message metadata, and the change history.
type Lister interface {
	// GetProfile returns the authenticated user's profile, including the
	// current history ID used to seed incremental sync.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListMessages returns message IDs matching the query.
	// Use pageToken for pagination; maxResults caps the page size.
	ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error)

	// GetMessageMeta fetches the list-view metadata for a single message.
	GetMessageMeta(ctx context.Context, messageID string) (*mail.Message, error)

	// GetMessagesMetaBatch fetches metadata for multiple messages in
	// parallel. Individual failures are dropped from the result; an
	// expired authorization aborts the whole batch with ErrAuthExpired.
	GetMessagesMetaBatch(ctx context.Context, messageIDs []string) ([]mail.Message, error)

	// ListHistory returns changes recorded after the given history ID.
	ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error)
}

// Modifier provides write operations on messages.
type Modifier interface {
	// ModifyLabels adds and removes labels on a message and returns the
	// resulting label set.
	ModifyLabels(ctx context.Context, messageID string, add, remove []string) ([]string, error)

	// TrashMessage moves a message to trash (recoverable for 30 days).
	TrashMessage(ctx context.Context, messageID string) error

	// UntrashMessage restores a message from trash.
	UntrashMessage(ctx context.Context, messageID string) error
}

// Watcher manages the push-notification watch on the mailbox.
type Watcher interface {
	// Watch registers a Pub/Sub topic for mailbox change notifications.
	Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResponse, error)

	// StopWatch cancels the active watch.
	StopWatch(ctx context.Context) error
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	Lister
	Modifier
	Watcher

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageRef is a message reference from list and history operations.
type MessageRef struct {
	ID       string
	ThreadID string
	LabelIDs []string
}

// HistoryResponse contains changes since a history ID.
type HistoryResponse struct {
	History       []HistoryRecord
	NextPageToken string
	HistoryID     uint64
}

// HistoryRecord represents a single history change.
type HistoryRecord struct {
	ID              uint64
	MessagesAdded   []MessageRef
	MessagesDeleted []MessageRef
	LabelsAdded     []HistoryLabelChange
	LabelsRemoved   []HistoryLabelChange
}

// HistoryLabelChange represents a label change in history.
type HistoryLabelChange struct {
	Message  MessageRef
	LabelIDs []string
}

// WatchResponse is the result of registering a mailbox watch.
type WatchResponse struct {
	HistoryID  uint64
	Expiration time.Time
}
