package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openforum/skyrelay/internal/application"
	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// statusForError maps domain failures onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, driven.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrPrivatePost),
		errors.Is(err, application.ErrAnonymousPost),
		errors.Is(err, application.ErrUnapprovedPost):
		return http.StatusForbidden
	}

	switch model.KindOf(err) {
	case model.KindFormat:
		return http.StatusBadRequest
	case model.KindAuth, model.KindSessionExpired:
		return http.StatusUnauthorized
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// LinkStatusResponse is the JSON representation of a linked identity for the
// settings surface. Credential material never appears here.
type LinkStatusResponse struct {
	AccountID        string `json:"account_id"`
	Handle           string `json:"handle,omitempty"`
	DID              string `json:"did,omitempty"`
	Verified         bool   `json:"verified"`
	State            string `json:"state"`
	BroadcastEnabled bool   `json:"broadcast_enabled"`
	ConnectedAt      string `json:"connected_at,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
}

func linkStatusResponse(identity *model.LinkedIdentity) LinkStatusResponse {
	resp := LinkStatusResponse{
		AccountID:        identity.AccountID,
		Handle:           identity.Handle,
		DID:              identity.DID,
		Verified:         identity.Verified,
		State:            string(identity.State),
		BroadcastEnabled: identity.BroadcastEnabled,
	}
	if !identity.ConnectedAt.IsZero() {
		resp.ConnectedAt = identity.ConnectedAt.UTC().Format(time.RFC3339)
	}
	if !identity.AccessExpiresAt.IsZero() {
		resp.ExpiresAt = identity.AccessExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// BroadcastResponse is returned after a successful broadcast.
type BroadcastResponse struct {
	URI       string `json:"uri"`
	CID       string `json:"cid"`
	Truncated bool   `json:"truncated"`
}

// ReplyResponse is the JSON representation of an imported reply.
type ReplyResponse struct {
	URI               string `json:"uri"`
	CID               string `json:"cid"`
	Text              string `json:"text"`
	AuthorHandle      string `json:"author_handle"`
	AuthorDisplayName string `json:"author_display_name,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// EngagementResponse is the JSON representation of an engagement snapshot.
type EngagementResponse struct {
	PostURI  string `json:"post_uri"`
	Likes    int    `json:"likes"`
	Reposts  int    `json:"reposts"`
	Replies  int    `json:"replies"`
	SyncedAt string `json:"synced_at"`
}

// RefreshResponse is returned by single-account refresh.
type RefreshResponse struct {
	Refreshed  bool   `json:"refreshed"`
	Via        string `json:"via,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RetryLater bool   `json:"retry_later,omitempty"`
}

// BatchRefreshResponse is returned by the batch refresh trigger.
type BatchRefreshResponse struct {
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
