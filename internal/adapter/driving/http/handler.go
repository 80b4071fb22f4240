package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openforum/skyrelay/internal/application"
	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// Handler serves the identity-link and broadcast API.
type Handler struct {
	lifecycle *application.LifecycleService
	broadcast *application.BroadcastService
	importer  *application.ImportService
}

// NewHandler creates a Handler backed by the given services.
func NewHandler(lifecycle *application.LifecycleService, broadcast *application.BroadcastService, importer *application.ImportService) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		broadcast: broadcast,
		importer:  importer,
	}
}

// NewServeMux builds the route table and wraps it with recovery and request
// logging middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("POST /api/v1/link", h.Connect)
	mux.HandleFunc("GET /api/v1/link/{accountID}", h.Status)
	mux.HandleFunc("DELETE /api/v1/link/{accountID}", h.Disconnect)
	mux.HandleFunc("POST /api/v1/link/{accountID}/refresh", h.Refresh)
	mux.HandleFunc("PUT /api/v1/link/{accountID}/broadcast", h.SetBroadcastEnabled)

	mux.HandleFunc("POST /api/v1/refresh", h.RefreshBatch)

	mux.HandleFunc("POST /api/v1/broadcast", h.Broadcast)
	mux.HandleFunc("POST /api/v1/replies/import", h.ImportReplies)
	mux.HandleFunc("POST /api/v1/engagement/sync", h.SyncEngagement)

	return loggingMiddleware(logger, recoveryMiddleware(logger, mux))
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Connect links a forum account to a network identity using handle and app
// password. The app password is used once to mint a session and is never
// stored.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   string `json:"account_id"`
		Handle      string `json:"handle"`
		AppPassword string `json:"app_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	identity, err := h.lifecycle.Connect(r.Context(), req.AccountID, req.Handle, req.AppPassword)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, linkStatusResponse(identity))
}

// Status returns the link state for an account. Unknown accounts report the
// unlinked state rather than an error, so the settings surface can render a
// single shape.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	identity, err := h.lifecycle.Status(r.Context(), accountID)
	if errors.Is(err, driven.ErrIdentityNotFound) {
		writeJSON(w, http.StatusOK, LinkStatusResponse{
			AccountID: accountID,
			State:     string(model.LinkStateUnlinked),
		})
		return
	}
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, linkStatusResponse(identity))
}

// Disconnect unlinks an account and destroys its stored credentials.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Disconnect(r.Context(), r.PathValue("accountID")); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh runs the refresh strategy chain for one account. An app password
// may be supplied in the body to re-authenticate when the renewal token is
// gone; expected failures come back in the result, not as HTTP errors.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppPassword string `json:"app_password"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.lifecycle.Refresh(r.Context(), r.PathValue("accountID"), req.AppPassword)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		Refreshed:  result.Refreshed,
		Via:        result.Via,
		Reason:     result.Reason,
		RetryLater: result.RetryLater,
	})
}

// SetBroadcastEnabled toggles the per-account broadcast opt-in flag.
func (h *Handler) SetBroadcastEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID := r.PathValue("accountID")
	if err := h.lifecycle.SetBroadcastEnabled(r.Context(), accountID, req.Enabled); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	identity, err := h.lifecycle.Status(r.Context(), accountID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, linkStatusResponse(identity))
}

// RefreshBatch triggers a sequential refresh pass over every linked account.
func (h *Handler) RefreshBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.RefreshBatch(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BatchRefreshResponse{
		Total:     report.Total,
		Refreshed: report.Refreshed,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		Errors:    report.Errors,
	})
}

// Broadcast publishes a forum post to the network, fitting it to the length
// budget and attaching link and mention entities.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID                int64  `json:"id"`
		AuthorAccountID   string `json:"author_account_id"`
		Content           string `json:"content"`
		AuthorAttribution string `json:"author_attribution"`
		CanonicalURL      string `json:"canonical_url"`
		Private           bool   `json:"private"`
		Anonymous         bool   `json:"anonymous"`
		Approved          bool   `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.broadcast.Broadcast(r.Context(), &model.SourcePost{
		ID:                req.ID,
		AuthorAccountID:   req.AuthorAccountID,
		Content:           req.Content,
		AuthorAttribution: req.AuthorAttribution,
		CanonicalURL:      req.CanonicalURL,
		Private:           req.Private,
		Anonymous:         req.Anonymous,
		Approved:          req.Approved,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, BroadcastResponse{
		URI:       result.URI,
		CID:       result.CID,
		Truncated: result.Truncated,
	})
}

// ImportReplies pulls remote replies to a broadcast post, returning only the
// ones not seen before.
func (h *Handler) ImportReplies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		PostURI   string `json:"post_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PostURI == "" {
		writeError(w, http.StatusBadRequest, "post_uri is required")
		return
	}

	replies, err := h.importer.ImportReplies(r.Context(), req.AccountID, req.PostURI)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	out := make([]ReplyResponse, 0, len(replies))
	for _, reply := range replies {
		resp := ReplyResponse{
			URI:               reply.URI,
			CID:               reply.CID,
			Text:              reply.Text,
			AuthorHandle:      reply.AuthorHandle,
			AuthorDisplayName: reply.AuthorDisplayName,
		}
		if !reply.CreatedAt.IsZero() {
			resp.CreatedAt = reply.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// SyncEngagement refreshes the stored engagement counts for a broadcast post.
func (h *Handler) SyncEngagement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		PostURI   string `json:"post_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PostURI == "" {
		writeError(w, http.StatusBadRequest, "post_uri is required")
		return
	}

	snapshot, err := h.importer.SyncEngagement(r.Context(), req.AccountID, req.PostURI)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EngagementResponse{
		PostURI:  snapshot.PostURI,
		Likes:    snapshot.Likes,
		Reposts:  snapshot.Reposts,
		Replies:  snapshot.Replies,
		SyncedAt: snapshot.SyncedAt.UTC().Format(time.RFC3339),
	})
}
