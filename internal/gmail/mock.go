package gmail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mailpane/mailpane/internal/mail"
)

// ModifyCall records one ModifyLabels invocation for assertions.
type ModifyCall struct {
	ID     string
	Add    []string
	Remove []string
}

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Messages indexed by ID
	Messages map[string]mail.Message

	// Message list pages - each page is a list of message IDs
	MessagePages [][]string

	// History records
	HistoryRecords []HistoryRecord
	HistoryID      uint64

	// Watch response
	WatchResult *WatchResponse

	// Error injection
	ProfileError      error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	HistoryError      error
	ModifyError       error
	TrashError        error
	WatchError        error

	// Call tracking for assertions
	ProfileCalls      int
	ListMessagesCalls int
	LastQuery         string // Last query passed to ListMessages
	LastMaxResults    int
	GetMessageCalls   []string
	HistoryCalls      []uint64
	ModifyCalls       []ModifyCall
	TrashCalls        []string
	UntrashCalls      []string
	WatchCalls        []string // Topics passed to Watch
	StopCalls         int
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]mail.Message),
		GetMessageError: make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
			HistoryID:     m.HistoryID,
		}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message IDs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query
	m.LastMaxResults = maxResults

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	// Determine which page to return
	pageNum := 0
	if pageToken != "" {
		_, err := fmt.Sscanf(pageToken, "page_%d", &pageNum)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}

	if len(m.MessagePages) == 0 {
		// Return all messages if no pages configured
		var messages []MessageRef
		for id, msg := range m.Messages {
			messages = append(messages, MessageRef{ID: id, ThreadID: msg.ThreadID})
		}
		return &MessageListResponse{
			Messages:           messages,
			ResultSizeEstimate: int64(len(messages)),
		}, nil
	}

	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageRef, len(page))
	for i, id := range page {
		messages[i] = MessageRef{ID: id, ThreadID: m.Messages[id].ThreadID}
	}

	var nextPageToken string
	if pageNum+1 < len(m.MessagePages) {
		nextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      nextPageToken,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessageMeta returns a mock message.
func (m *MockAPI) GetMessageMeta(ctx context.Context, messageID string) (*mail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getMessageLocked(messageID)
}

func (m *MockAPI) getMessageLocked(messageID string) (*mail.Message, error) {
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return &msg, nil
}

// GetMessagesMetaBatch fetches multiple messages.
// Mirrors the real Client behavior: individual fetch errors drop the
// message from the results rather than failing the entire batch, except
// an expired authorization which aborts.
func (m *MockAPI) GetMessagesMetaBatch(ctx context.Context, messageIDs []string) ([]mail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]mail.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := m.getMessageLocked(id)
		if err != nil {
			if errors.Is(err, ErrAuthExpired) {
				return nil, err
			}
			continue
		}
		results = append(results, *msg)
	}
	return results, nil
}

// ListHistory returns mock history records.
func (m *MockAPI) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls = append(m.HistoryCalls, startHistoryID)

	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	return &HistoryResponse{
		History:   m.HistoryRecords,
		HistoryID: m.HistoryID,
	}, nil
}

// ModifyLabels records the call and applies the change to the stored message.
func (m *MockAPI) ModifyLabels(ctx context.Context, messageID string, add, remove []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{ID: messageID, Add: add, Remove: remove})

	if m.ModifyError != nil {
		return nil, m.ModifyError
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	updated := msg.WithLabels(add, remove)
	m.Messages[messageID] = updated
	return updated.LabelIDs, nil
}

// TrashMessage records a trash call.
func (m *MockAPI) TrashMessage(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrashCalls = append(m.TrashCalls, messageID)
	if m.TrashError != nil {
		return m.TrashError
	}
	if msg, ok := m.Messages[messageID]; ok {
		m.Messages[messageID] = msg.WithLabels([]string{mail.LabelTrash}, []string{mail.LabelInbox})
	}
	return nil
}

// UntrashMessage records an untrash call.
func (m *MockAPI) UntrashMessage(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UntrashCalls = append(m.UntrashCalls, messageID)
	if m.TrashError != nil {
		return m.TrashError
	}
	if msg, ok := m.Messages[messageID]; ok {
		m.Messages[messageID] = msg.WithLabels([]string{mail.LabelInbox}, []string{mail.LabelTrash})
	}
	return nil
}

// Watch records the watch registration.
func (m *MockAPI) Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WatchCalls = append(m.WatchCalls, topic)

	if m.WatchError != nil {
		return nil, m.WatchError
	}
	if m.WatchResult != nil {
		return m.WatchResult, nil
	}
	return &WatchResponse{HistoryID: m.HistoryID}, nil
}

// StopWatch records the stop call.
func (m *MockAPI) StopWatch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// AddMessage adds a message to the mock store with flags derived from labels.
func (m *MockAPI) AddMessage(id, subject string, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := mail.Message{
		ID:           id,
		ThreadID:     "thread_" + id,
		Subject:      subject,
		From:         "sender@example.com",
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	}
	m.Messages[id] = msg.WithLabels(labelIDs, nil)
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = make(map[string]mail.Message)
	m.MessagePages = nil
	m.HistoryRecords = nil
	m.GetMessageError = make(map[string]error)
	m.WatchResult = nil

	m.ProfileCalls = 0
	m.ListMessagesCalls = 0
	m.LastQuery = ""
	m.LastMaxResults = 0
	m.GetMessageCalls = nil
	m.HistoryCalls = nil
	m.ModifyCalls = nil
	m.TrashCalls = nil
	m.UntrashCalls = nil
	m.WatchCalls = nil
	m.StopCalls = 0
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
