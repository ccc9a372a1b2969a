package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"github.com/mailpane/mailpane/internal/mail"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// gmailErrorBody builds a Gmail API error response JSON body.
// Optional fields (message, errors, details) are included only when non-zero.
func gmailErrorBody(code int, message string, errors []map[string]string, details []map[string]string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if errors != nil {
		inner["errors"] = errors
	}
	if details != nil {
		inner["details"] = details
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func errorWithReason(reason string) []byte {
	return gmailErrorBody(403, "", []map[string]string{{"reason": reason}}, nil)
}

func errorWithDetail(reason string) []byte {
	return gmailErrorBody(403, "", nil, []map[string]string{{"reason": reason}})
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: errorWithReason("rateLimitExceeded"),
			want: true,
		},
		{
			name: "RateLimitExceededByMessage",
			body: gmailErrorBody(403, quotaExceededMsg, []map[string]string{{"reason": "rateLimitExceeded"}}, nil),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: errorWithDetail("RATE_LIMIT_EXCEEDED"),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: gmailErrorBody(403, quotaExceededMsg, nil, nil),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: errorWithReason("userRateLimitExceeded"),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: errorWithReason("forbidden"),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// newTestClient starts a test server with the given handler and returns a
// client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return NewClient(ts, WithBaseURL(srv.URL))
}

func TestGetMessageMetaMapsHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "metadata" {
			t.Errorf("format = %q, want metadata", got)
		}
		fmt.Fprint(w, `{
			"id": "m1", "threadId": "t1",
			"labelIds": ["INBOX", "UNREAD"],
			"snippet": "hi there",
			"internalDate": "1704067200000",
			"payload": {"headers": [
				{"name": "Subject", "value": "Hello"},
				{"name": "From", "value": "Ann <ann@example.com>"},
				{"name": "Date", "value": "Mon, 01 Jan 2024 00:00:00 +0000"}
			]}
		}`)
	})

	msg, err := client.GetMessageMeta(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessageMeta() error = %v", err)
	}

	if msg.Subject != "Hello" || msg.From != "Ann <ann@example.com>" {
		t.Errorf("headers not mapped: %+v", msg)
	}
	if !msg.IsUnread || msg.IsStarred {
		t.Errorf("flags not derived from labels: unread=%v starred=%v", msg.IsUnread, msg.IsStarred)
	}
	if msg.InternalDate != 1704067200000 {
		t.Errorf("internalDate = %d", msg.InternalDate)
	}
}

func TestGetMessageMetaMissingHeaderDefaults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "m1", "threadId": "t1", "labelIds": [],
			"internalDate": "1704067200000", "payload": {"headers": []}}`)
	})

	msg, err := client.GetMessageMeta(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessageMeta() error = %v", err)
	}
	if msg.Subject != "No Subject" {
		t.Errorf("Subject = %q, want placeholder", msg.Subject)
	}
	if msg.From != "Unknown Sender" {
		t.Errorf("From = %q, want placeholder", msg.From)
	}
	if msg.Date == "" {
		t.Error("Date should fall back to internalDate")
	}
}

func TestUnauthorizedIsAuthExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetProfile(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("error = %v, want ErrAuthExpired", err)
	}
}

func TestNotFoundError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.ListHistory(context.Background(), 42, "")
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Errorf("error = %v, want *NotFoundError", err)
	}
}

func TestListMessagesParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("q"); got != "in:inbox -in:spam -in:trash" {
			t.Errorf("q = %q", got)
		}
		if got := q.Get("maxResults"); got != "20" {
			t.Errorf("maxResults = %q", got)
		}
		if got := q.Get("pageToken"); got != "tok2" {
			t.Errorf("pageToken = %q", got)
		}
		fmt.Fprint(w, `{"messages": [{"id": "a", "threadId": "ta"}],
			"nextPageToken": "tok3", "resultSizeEstimate": 57}`)
	})

	resp, err := client.ListMessages(context.Background(), mail.CategoryInbox.Query(), "tok2", 20)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "a" {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if resp.NextPageToken != "tok3" || resp.ResultSizeEstimate != 57 {
		t.Errorf("pagination fields wrong: %+v", resp)
	}
}

func TestModifyLabelsSendsBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Add    []string `json:"addLabelIds"`
			Remove []string `json:"removeLabelIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Add) != 1 || body.Add[0] != mail.LabelStarred {
			t.Errorf("addLabelIds = %v", body.Add)
		}
		fmt.Fprint(w, `{"id": "m1", "threadId": "t1", "labelIds": ["INBOX", "STARRED"]}`)
	})

	labels, err := client.ModifyLabels(context.Background(), "m1", []string{mail.LabelStarred}, nil)
	if err != nil {
		t.Fatalf("ModifyLabels() error = %v", err)
	}
	if len(labels) != 2 {
		t.Errorf("labels = %v", labels)
	}
}

func TestWatchParsesExpiration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Topic string `json:"topicName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Topic != "projects/p/topics/mail" {
			t.Errorf("topicName = %q", body.Topic)
		}
		fmt.Fprint(w, `{"historyId": "9999", "expiration": "1704067200000"}`)
	})

	resp, err := client.Watch(context.Background(), "projects/p/topics/mail", []string{mail.LabelInbox})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if resp.HistoryID != 9999 {
		t.Errorf("HistoryID = %d", resp.HistoryID)
	}
	if resp.Expiration.Year() != 2024 {
		t.Errorf("Expiration = %v", resp.Expiration)
	}
}

func TestGetMessagesMetaBatchDropsFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/me/messages/bad":
			w.WriteHeader(http.StatusNotFound)
		default:
			id := r.URL.Path[len("/users/me/messages/"):]
			fmt.Fprintf(w, `{"id": %q, "threadId": "t", "labelIds": ["INBOX"],
				"internalDate": "1704067200000", "payload": {"headers": []}}`, id)
		}
	})

	msgs, err := client.GetMessagesMetaBatch(context.Background(), []string{"a", "bad", "b"})
	if err != nil {
		t.Fatalf("GetMessagesMetaBatch() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (failure dropped)", len(msgs))
	}
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("order not preserved: %v", []string{msgs[0].ID, msgs[1].ID})
	}
}

func TestGetMessagesMetaBatchAbortsOnAuthExpiry(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetMessagesMetaBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("error = %v, want ErrAuthExpired", err)
	}
}

func TestHistoryMapsAddedMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("startHistoryId"); got != "100" {
			t.Errorf("startHistoryId = %q", got)
		}
		fmt.Fprint(w, `{
			"history": [{"id": "101", "messagesAdded": [
				{"message": {"id": "m1", "threadId": "t1", "labelIds": ["INBOX", "UNREAD"]}}
			]}],
			"historyId": "105"
		}`)
	})

	resp, err := client.ListHistory(context.Background(), 100, "")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if resp.HistoryID != 105 {
		t.Errorf("HistoryID = %d", resp.HistoryID)
	}
	added := resp.History[0].MessagesAdded
	if len(added) != 1 || added[0].ID != "m1" {
		t.Fatalf("MessagesAdded = %+v", added)
	}
	if len(added[0].LabelIDs) != 2 {
		t.Errorf("labels should ride along with history refs: %v", added[0].LabelIDs)
	}
}
