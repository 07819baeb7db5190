// Package api implements the HTTP surface: profile reads served through the
// read-through cache, search served from the inverted index with a batched
// store fan-out, and mutations that write the store first, then invalidate.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mealex/peerdir/internal/api/middleware"
	"github.com/mealex/peerdir/internal/cache"
	"github.com/mealex/peerdir/internal/events"
	"github.com/mealex/peerdir/internal/index"
	"github.com/mealex/peerdir/internal/invitation"
	"github.com/mealex/peerdir/internal/metrics"
	"github.com/mealex/peerdir/internal/profile"
	"github.com/mealex/peerdir/internal/search"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
)

// Handler implements every API endpoint.
type Handler struct {
	profiles    *profile.Repository
	invitations *invitation.Repository
	engine      *search.Engine
	builder     *index.Builder
	cache       *cache.Layer
	collector   *metrics.Collector
	publisher   *events.Publisher
	logger      *slog.Logger
}

// New creates the Handler. publisher may be nil when Kafka is disabled.
func New(
	profiles *profile.Repository,
	invitations *invitation.Repository,
	engine *search.Engine,
	builder *index.Builder,
	cacheLayer *cache.Layer,
	collector *metrics.Collector,
	publisher *events.Publisher,
) *Handler {
	return &Handler{
		profiles:    profiles,
		invitations: invitations,
		engine:      engine,
		builder:     builder,
		cache:       cacheLayer,
		collector:   collector,
		publisher:   publisher,
		logger:      logger.WithComponent("api-handler"),
	}
}

// ---------- Health and metrics ----------

// Health reports overall status, cache connectivity, and the published
// index size.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"cacheConnected": h.cache.Connected(r.Context()),
		"indexSize":      h.builder.Current().Profiles(),
	})
}

// Metrics returns the app metrics snapshot.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

// ---------- Profiles ----------

// ListProfiles returns every profile, served through the profile-list cache
// class.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	records, _, err := cache.GetOrCompute(r.Context(), h.cache, cache.ProfileListKey(), cache.ClassProfileList,
		func(ctx context.Context) (map[string]profile.Record, error) {
			return h.profiles.All(ctx)
		})
	if err != nil {
		h.writeDataError(w, r, "listing profiles", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: records})
}

// GetProfile returns one profile, served through the single-profile cache
// class.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, _, err := cache.GetOrCompute(r.Context(), h.cache, cache.ProfileKey(id), cache.ClassProfile,
		func(ctx context.Context) (profile.Record, error) {
			return h.profiles.Get(ctx, id)
		})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.writeDataError(w, r, "fetching profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: record})
}

// searchResponse is the cached payload of a search query.
type searchResponse struct {
	Results []profile.Record `json:"results"`
	Total   int              `json:"total"`
}

// SearchProfiles intersects the requested predicates against the current
// index snapshot, then resolves matching ids with one batched store read.
// Results are cached under the normalized query signature.
func (h *Handler) SearchProfiles(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Major: strings.TrimSpace(r.URL.Query().Get("major")),
		Year:  strings.TrimSpace(r.URL.Query().Get("year")),
		Tags:  splitTags(r.URL.Query().Get("tags")),
	}
	if q.Empty() {
		// A search needs at least one filter; listing everything is what
		// GET /api/profiles is for.
		h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: searchResponse{Results: []profile.Record{}}})
		return
	}

	key := cache.SearchKey(q.Major, q.Year, q.Tags)
	result, _, err := cache.GetOrCompute(r.Context(), h.cache, key, cache.ClassSearch,
		func(ctx context.Context) (searchResponse, error) {
			ids := h.engine.Search(q)
			if len(ids) == 0 {
				return searchResponse{Results: []profile.Record{}}, nil
			}
			records, err := h.profiles.GetMany(ctx, ids)
			if err != nil {
				return searchResponse{}, err
			}
			return searchResponse{Results: records, Total: len(records)}, nil
		})
	if err != nil {
		h.writeDataError(w, r, "searching profiles", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

// UpdateProfile merges fields into the caller's own profile, then invalidates
// every cache key the change could touch and requests an index rebuild.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if middleware.GetPrincipal(r.Context()) != id {
		middleware.WriteError(w, http.StatusForbidden, "cannot update other users' profiles")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	fields, err := profile.ValidateUpdate(body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "body must be a JSON object with updatable fields")
		return
	}

	if err := h.profiles.Update(r.Context(), id, fields); err != nil {
		h.writeDataError(w, r, "updating profile", err)
		return
	}

	// Store write succeeded; everything after is best-effort convergence.
	keys := []string{cache.ProfileKey(id), cache.ProfileListKey()}
	h.cache.Invalidate(r.Context(), keys...)
	h.cache.InvalidatePattern(r.Context(), cache.SearchPattern())
	h.publisher.Publish(r.Context(), events.Invalidation{
		Entity:       "profile",
		ID:           id,
		Keys:         keys,
		Patterns:     []string{cache.SearchPattern()},
		RebuildIndex: true,
	})
	h.builder.TriggerRebuild()

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "profile updated"})
}

// ---------- Invitations ----------

// IncomingInvitations returns the caller's received invitations.
func (h *Handler) IncomingInvitations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if middleware.GetPrincipal(r.Context()) != userID {
		middleware.WriteError(w, http.StatusForbidden, "cannot access other users' invitations")
		return
	}

	invitations, _, err := cache.GetOrCompute(r.Context(), h.cache, cache.IncomingInvitationsKey(userID), cache.ClassInvitation,
		func(ctx context.Context) (map[string]invitation.Invitation, error) {
			return h.invitations.Incoming(ctx, userID)
		})
	if err != nil {
		h.writeDataError(w, r, "listing incoming invitations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: invitations})
}

// OutgoingInvitations returns the caller's sent invitations.
func (h *Handler) OutgoingInvitations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if middleware.GetPrincipal(r.Context()) != userID {
		middleware.WriteError(w, http.StatusForbidden, "cannot access other users' invitations")
		return
	}

	outgoing, _, err := cache.GetOrCompute(r.Context(), h.cache, cache.OutgoingInvitationsKey(userID), cache.ClassInvitation,
		func(ctx context.Context) (map[string]map[string]invitation.Invitation, error) {
			return h.invitations.Outgoing(ctx, userID)
		})
	if err != nil {
		h.writeDataError(w, r, "listing outgoing invitations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: outgoing})
}

type createInvitationRequest struct {
	Receiver string `json:"receiver"`
	Body     string `json:"body"`
}

// CreateInvitation sends a new invitation from the caller to the receiver.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	sender := middleware.GetPrincipal(r.Context())

	var req createInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	id, inv, err := h.invitations.Create(r.Context(), sender, req.Receiver, req.Body)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidInput) {
			middleware.WriteError(w, http.StatusBadRequest, "missing required fields: receiver, body")
			return
		}
		h.writeDataError(w, r, "creating invitation", err)
		return
	}

	h.invalidateInvitations(r.Context(), id, req.Receiver, sender)

	h.writeJSON(w, http.StatusCreated, envelope{
		Success:      true,
		Message:      "invitation sent",
		InvitationID: id,
		Data:         inv,
	})
}

type updateInvitationRequest struct {
	Status string `json:"status"`
}

// UpdateInvitationStatus records the caller's accept/reject decision on one
// of their incoming invitations.
func (h *Handler) UpdateInvitationStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	invitationID := r.PathValue("invitationId")
	if middleware.GetPrincipal(r.Context()) != userID {
		middleware.WriteError(w, http.StatusForbidden, "cannot update other users' invitations")
		return
	}

	var req updateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	inv, err := h.invitations.SetStatus(r.Context(), userID, invitationID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			middleware.WriteError(w, http.StatusBadRequest, `status must be "accepted" or "rejected"`)
		case errors.Is(err, pkgerrors.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "invitation not found")
		default:
			h.writeDataError(w, r, "updating invitation", err)
		}
		return
	}

	h.invalidateInvitations(r.Context(), invitationID, userID, inv.Sender)

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "invitation " + req.Status})
}

// DeleteInvitation removes one of the caller's incoming invitations.
func (h *Handler) DeleteInvitation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	invitationID := r.PathValue("invitationId")
	if middleware.GetPrincipal(r.Context()) != userID {
		middleware.WriteError(w, http.StatusForbidden, "cannot delete other users' invitations")
		return
	}

	inv, err := h.invitations.Delete(r.Context(), userID, invitationID)
	if err != nil {
		h.writeDataError(w, r, "deleting invitation", err)
		return
	}

	h.invalidateInvitations(r.Context(), invitationID, userID, inv.Sender)

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "invitation deleted"})
}

// invalidateInvitations drops the invitation-list entries a change left
// stale: the receiver's incoming and outgoing lists, plus the sender's
// outgoing list so their view reflects the change immediately.
func (h *Handler) invalidateInvitations(ctx context.Context, invitationID, receiver, sender string) {
	keys := []string{
		cache.IncomingInvitationsKey(receiver),
		cache.OutgoingInvitationsKey(receiver),
	}
	if sender != "" {
		keys = append(keys, cache.OutgoingInvitationsKey(sender))
	}
	h.cache.Invalidate(ctx, keys...)
	h.publisher.Publish(ctx, events.Invalidation{
		Entity: "invitation",
		ID:     invitationID,
		Keys:   keys,
	})
}

// ---------- Helpers ----------

// envelope is the uniform success response body.
type envelope struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	InvitationID string `json:"invitationId,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("writing response failed", "error", err)
	}
}

// writeDataError logs the failure with full detail and returns the uniform
// envelope. Document-store failures are fatal to the request: the store is
// the system of record, so there is no degraded answer to give.
// writeDataError logs the full error and answers with only what the client
// may see: an AppError's message if the error carries one, otherwise the
// generic status text.
func (h *Handler) writeDataError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	logger.FromContext(r.Context()).Error(operation+" failed", "error", err)
	status := pkgerrors.HTTPStatusCode(err)
	var appErr *pkgerrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		middleware.WriteError(w, status, appErr.Message)
		return
	}
	middleware.WriteError(w, status, strings.ToLower(http.StatusText(status)))
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
