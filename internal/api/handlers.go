package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mailpane/mailpane/internal/gmail"
	"github.com/mailpane/mailpane/internal/mail"
	"github.com/mailpane/mailpane/internal/updates"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UpdatesStatusResponse reports the push-channel state.
type UpdatesStatusResponse struct {
	State string `json:"state"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeUpstreamError maps a Gmail-layer error to an HTTP status. Expired
// authorization surfaces as 401 so clients know to re-run the OAuth flow
// instead of retrying.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var notFound *gmail.NotFoundError
	switch {
	case errors.Is(err, gmail.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "auth_expired", "Gmail authorization expired; sign in again")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("upstream request failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Gmail request failed")
	}
}

// listCategory parses a category query parameter, defaulting to the inbox.
func listCategory(r *http.Request, param, fallback string) (mail.Category, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		raw = fallback
	}
	c := mail.Category(raw)
	if !c.Valid() || c == mail.CategorySearch {
		return "", false
	}
	return c, true
}

// handleListEmails returns one page of a category list.
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	category, ok := listCategory(r, "category", string(mail.CategoryInbox))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "Unknown category")
		return
	}

	pageToken := r.URL.Query().Get("pageToken")
	force := r.URL.Query().Get("force") == "true"

	page, err := s.mailbox.Fetch(r.Context(), category, pageToken, s.userID(), force)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSearch returns one page of search results.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}

	page, err := s.mailbox.Search(r.Context(), query, r.URL.Query().Get("pageToken"), s.userID())
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// StarRequest carries a star toggle. The full message rides along so the
// starred list can be patched without refetching it.
type StarRequest struct {
	Starred bool         `json:"starred"`
	Message mail.Message `json:"message"`
}

// handleStar stars or unstars a message.
func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}
	if req.Message.ID == "" {
		req.Message.ID = id
	}
	if req.Message.ID != id {
		writeError(w, http.StatusBadRequest, "id_mismatch", "Message ID in body does not match URL")
		return
	}

	if err := s.mailbox.SetStarred(r.Context(), req.Message, req.Starred, s.userID()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": req.Starred})
}

// handleMarkRead clears the unread flag on a message.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mailbox.MarkRead(r.Context(), id); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTrash moves a message to trash. The "from" query parameter names
// the category the client is viewing, so the right list gets patched.
func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	from, ok := listCategory(r, "from", string(mail.CategoryInbox))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "Unknown source category")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.mailbox.Trash(r.Context(), id, from, s.userID()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUntrash restores a message from trash.
func (s *Server) handleUntrash(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mailbox.Untrash(r.Context(), id, s.userID()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMarkSpam moves a message to spam.
func (s *Server) handleMarkSpam(w http.ResponseWriter, r *http.Request) {
	from, ok := listCategory(r, "from", string(mail.CategoryInbox))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "Unknown source category")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.mailbox.MarkSpam(r.Context(), id, from, s.userID()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnmarkSpam restores a message from spam.
func (s *Server) handleUnmarkSpam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mailbox.UnmarkSpam(r.Context(), id, s.userID()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdatesStatus reports the push-channel state.
func (s *Server) handleUpdatesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UpdatesStatusResponse{State: s.updates.State().String()})
}

// handleStartWatch registers (or refreshes) the Gmail watch.
func (s *Server) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	s.updates.EnsureWatch(r.Context())
	writeJSON(w, http.StatusOK, UpdatesStatusResponse{State: s.updates.State().String()})
}

// handleStopWatch cancels the Gmail watch.
func (s *Server) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.updates.StopWatch(r.Context()); err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatesStatusResponse{State: s.updates.State().String()})
}

// handleCacheStats reports per-tier cache entry counts.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mailbox.CacheStats())
}

// pubSubEnvelope is the Pub/Sub push delivery wrapper.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushPayload is the Gmail notification inside the envelope.
type pushPayload struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// handleWebhook accepts a Gmail Pub/Sub push notification, hands it to
// the update coordinator, and tells connected clients to refresh. It
// acknowledges malformed deliveries with 204 as well: returning an error
// would only make Pub/Sub redeliver the same broken payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope pubSubEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a Pub/Sub envelope")
		return
	}

	// Pub/Sub push bodies carry standard base64; some publishers use the
	// URL-safe alphabet, so accept both.
	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
	}
	if err != nil {
		s.logger.Warn("webhook payload is not valid base64", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.EmailAddress == "" {
		s.logger.Warn("webhook payload malformed", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// The daemon serves one account; a notification for any other address
	// would store sync state under a key nothing reads.
	if !strings.EqualFold(payload.EmailAddress, s.userID()) {
		s.logger.Warn("webhook for unconfigured account ignored", "emailAddress", payload.EmailAddress)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.updates.Notify(updates.Notification{
		UserID:    s.userID(),
		HistoryID: payload.HistoryID,
	})
	s.hub.Publish(Event{Type: "email_update", Data: map[string]interface{}{
		"emailAddress": s.userID(),
		"historyId":    payload.HistoryID,
	}})

	w.WriteHeader(http.StatusNoContent)
}
