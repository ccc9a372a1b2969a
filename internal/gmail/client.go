package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/mailpane/mailpane/internal/mail"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	maxRetries     = 12  // Covers ~10 minutes of network outages
	maxBackoff     = 600 // Max backoff in seconds
	defaultTimeout = 10 * time.Second
)

// ErrAuthExpired indicates the OAuth credentials are no longer valid and
// the user must re-authorize. Callers must not retry silently; it is the
// one failure that cheaper-strategy fallbacks do not mask.
var ErrAuthExpired = errors.New("gmail: authorization expired")

// Client implements the Gmail API interface.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	userID      string // "me" for authenticated user
	concurrency int    // Max parallel requests for batch operations
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConcurrency sets the max concurrent requests for batch operations.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		c.concurrency = n
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a new Gmail API client.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		baseURL:     defaultBaseURL,
		userID:      "me",
		concurrency: 10,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = defaultTimeout
	}

	// Default rate limiter if not set
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}

	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing
	return nil
}

// request makes an HTTP request with rate limiting and retry logic.
// bodyBytes can be nil for requests without a body.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	// Acquire rate limit tokens
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Create a new reader for each attempt to ensure body can be re-read on retry
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue // Retry on network errors
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Check for success
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		// Handle specific error codes
		switch resp.StatusCode {
		case 429: // Rate limited
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = fmt.Errorf("rate limited (429)")
			continue

		case 403: // Could be rate limit or permission error
			// Gmail returns 403 for quota exceeded with "rateLimitExceeded" reason
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = fmt.Errorf("quota exceeded (403)")
				continue // Retry with backoff
			}
			// Actual permission error - don't retry
			return nil, fmt.Errorf("forbidden (403): %s", string(respBody))

		case 500, 502, 503, 504: // Server errors
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue

		case 401: // Unauthorized - oauth2 refresh already failed, don't retry
			return nil, fmt.Errorf("unauthorized (401): %w", ErrAuthExpired)

		case 404: // Not found
			return nil, &NotFoundError{Path: path}

		default: // Other client errors - don't retry
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the backoff duration for a retry attempt.
// Uses exponential backoff with full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential: 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 600, 600...
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}

	// Full jitter: random value between 0 and base
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// NotFoundError indicates a 404 response. History fetches surface it when
// the start history ID has aged out server-side.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// isRateLimitError checks if a 403 response is actually a rate limit error.
// Gmail returns 403 with "rateLimitExceeded" for quota exceeded instead of 429.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// Gmail API JSON response types (unexported, used only for JSON unmarshaling).

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     string `json:"historyId"`
}

type gmailMessageRef struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

type listMessagesResponse struct {
	Messages           []gmailMessageRef `json:"messages"`
	NextPageToken      string            `json:"nextPageToken"`
	ResultSizeEstimate int64             `json:"resultSizeEstimate"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type metadataMessageResponse struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []messageHeader `json:"headers"`
	} `json:"payload"`
}

type modifyMessageResponse struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

type historyMessageChange struct {
	Message gmailMessageRef `json:"message"`
}

type historyLabelChangeJSON struct {
	Message  gmailMessageRef `json:"message"`
	LabelIDs []string        `json:"labelIds"`
}

type historyEntry struct {
	ID              string                   `json:"id"`
	MessagesAdded   []historyMessageChange   `json:"messagesAdded"`
	MessagesDeleted []historyMessageChange   `json:"messagesDeleted"`
	LabelsAdded     []historyLabelChangeJSON `json:"labelsAdded"`
	LabelsRemoved   []historyLabelChangeJSON `json:"labelsRemoved"`
}

type listHistoryResponse struct {
	History       []historyEntry `json:"history"`
	NextPageToken string         `json:"nextPageToken"`
	HistoryID     string         `json:"historyId"`
}

type watchResponseJSON struct {
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"` // Unix milliseconds
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)

	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     historyID,
	}, nil
}

// ListMessages returns message IDs matching the query.
func (c *Client) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(maxResults))
	if query != "" {
		params.Set("q", query)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	messages := make([]MessageRef, len(resp.Messages))
	for i, m := range resp.Messages {
		messages[i] = MessageRef{ID: m.ID, ThreadID: m.ThreadID}
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessageMeta fetches a single message in metadata format and maps it
// to the list-view shape. Only the Subject, From, and Date headers are
// requested; bodies never cross the wire.
func (c *Client) GetMessageMeta(ctx context.Context, messageID string) (*mail.Message, error) {
	params := url.Values{}
	params.Set("format", "metadata")
	for _, h := range []string{"Subject", "From", "Date"} {
		params.Add("metadataHeaders", h)
	}

	path := fmt.Sprintf("/users/%s/messages/%s?%s", c.userID, messageID, params.Encode())
	data, err := c.request(ctx, OpMessagesGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp metadataMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	msg := buildMessage(resp)
	return &msg, nil
}

// buildMessage maps a metadata response onto mail.Message, supplying the
// placeholder subject and sender when the headers are missing.
func buildMessage(resp metadataMessageResponse) mail.Message {
	header := func(name string) string {
		for _, h := range resp.Payload.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	internalDate, _ := strconv.ParseInt(resp.InternalDate, 10, 64)

	subject := header("Subject")
	if subject == "" {
		subject = "No Subject"
	}
	from := header("From")
	if from == "" {
		from = "Unknown Sender"
	}
	date := header("Date")
	if date == "" && internalDate > 0 {
		date = time.UnixMilli(internalDate).UTC().Format(time.RFC1123Z)
	}

	return mail.Message{
		ID:           resp.ID,
		ThreadID:     resp.ThreadID,
		Subject:      subject,
		From:         from,
		Date:         date,
		Snippet:      resp.Snippet,
		LabelIDs:     resp.LabelIDs,
		IsUnread:     containsLabel(resp.LabelIDs, mail.LabelUnread),
		IsStarred:    containsLabel(resp.LabelIDs, mail.LabelStarred),
		InternalDate: internalDate,
	}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// GetMessagesMetaBatch fetches metadata for multiple messages in parallel
// with rate limiting. Messages that fail to fetch are dropped from the
// result, preserving the order of the rest; an expired authorization
// aborts the whole batch.
func (c *Client) GetMessagesMetaBatch(ctx context.Context, messageIDs []string) ([]mail.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]*mail.Message, len(messageIDs))
	sem := make(chan struct{}, c.concurrency)

	g, ctx := errgroup.WithContext(ctx)

	for i, id := range messageIDs {
		i, id := i, id // Capture for goroutine

		g.Go(func() error {
			// Acquire semaphore
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			msg, err := c.GetMessageMeta(ctx, id)
			if err != nil {
				if errors.Is(err, ErrAuthExpired) {
					return err
				}
				// Log but don't fail the batch - allow partial results
				c.logger.Warn("failed to fetch message", "id", id, "error", err)
				return nil
			}

			results[i] = msg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]mail.Message, 0, len(results))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// ListHistory returns changes since the given history ID.
func (c *Client) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	params := url.Values{}
	params.Set("startHistoryId", strconv.FormatUint(startHistoryID, 10))
	for _, ht := range []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"} {
		params.Add("historyTypes", ht)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/history?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpHistoryList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listHistoryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)

	return &HistoryResponse{
		History:       mapHistoryEntries(resp.History),
		NextPageToken: resp.NextPageToken,
		HistoryID:     historyID,
	}, nil
}

// mapHistoryEntries converts JSON history entries to domain types.
func mapHistoryEntries(entries []historyEntry) []HistoryRecord {
	records := make([]HistoryRecord, len(entries))
	for i, h := range entries {
		id, _ := strconv.ParseUint(h.ID, 10, 64)
		records[i] = HistoryRecord{
			ID:              id,
			MessagesAdded:   mapMessageChanges(h.MessagesAdded),
			MessagesDeleted: mapMessageChanges(h.MessagesDeleted),
			LabelsAdded:     mapLabelChanges(h.LabelsAdded),
			LabelsRemoved:   mapLabelChanges(h.LabelsRemoved),
		}
	}
	return records
}

func mapMessageChanges(changes []historyMessageChange) []MessageRef {
	out := make([]MessageRef, len(changes))
	for i, c := range changes {
		out[i] = MessageRef(c.Message)
	}
	return out
}

func mapLabelChanges(changes []historyLabelChangeJSON) []HistoryLabelChange {
	out := make([]HistoryLabelChange, len(changes))
	for i, c := range changes {
		out[i] = HistoryLabelChange{
			Message:  MessageRef(c.Message),
			LabelIDs: c.LabelIDs,
		}
	}
	return out
}

// ModifyLabels adds and removes labels on a message.
func (c *Client) ModifyLabels(ctx context.Context, messageID string, add, remove []string) ([]string, error) {
	body := struct {
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{AddLabelIDs: add, RemoveLabelIDs: remove}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/%s/modify", c.userID, messageID)
	data, err := c.request(ctx, OpMessagesModify, "POST", path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp modifyMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse modify response: %w", err)
	}
	return resp.LabelIDs, nil
}

// TrashMessage moves a message to trash.
func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/trash", c.userID, messageID)
	_, err := c.request(ctx, OpMessagesTrash, "POST", path, nil)
	return err
}

// UntrashMessage restores a message from trash.
func (c *Client) UntrashMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/untrash", c.userID, messageID)
	_, err := c.request(ctx, OpMessagesTrash, "POST", path, nil)
	return err
}

// Watch registers a Pub/Sub topic for mailbox change notifications.
func (c *Client) Watch(ctx context.Context, topic string, labelIDs []string) (*WatchResponse, error) {
	body := struct {
		TopicName           string   `json:"topicName"`
		LabelIDs            []string `json:"labelIds,omitempty"`
		LabelFilterBehavior string   `json:"labelFilterBehavior,omitempty"`
	}{TopicName: topic, LabelIDs: labelIDs}
	if len(labelIDs) > 0 {
		body.LabelFilterBehavior = "INCLUDE"
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/watch", c.userID)
	data, err := c.request(ctx, OpWatch, "POST", path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp watchResponseJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse watch response: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)
	expirationMs, _ := strconv.ParseInt(resp.Expiration, 10, 64)

	return &WatchResponse{
		HistoryID:  historyID,
		Expiration: time.UnixMilli(expirationMs).UTC(),
	}, nil
}

// StopWatch cancels the active watch.
func (c *Client) StopWatch(ctx context.Context) error {
	path := fmt.Sprintf("/users/%s/stop", c.userID)
	_, err := c.request(ctx, OpStop, "POST", path, nil)
	return err
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
