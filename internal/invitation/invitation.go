// Package invitation provides typed access to invitation records. An
// invitation lives under the receiver's subtree:
// invitations/<receiver>/messages/<id>.
package invitation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mealex/peerdir/internal/store"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
)

const rootPath = "invitations"

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Invitation is one peer-to-peer invitation message.
type Invitation struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Body      string `json:"body"`
	Resolved  bool   `json:"resolved"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Repository reads and mutates invitations in the document store.
type Repository struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRepository(s store.Store) *Repository {
	return &Repository{
		store:  s,
		logger: logger.WithComponent("invitation-repo"),
		now:    time.Now,
	}
}

func messagesPath(userID string) string {
	return rootPath + "/" + userID + "/messages"
}

func messagePath(userID, invitationID string) string {
	return messagesPath(userID) + "/" + invitationID
}

// Incoming returns all invitations addressed to userID, keyed by id. A user
// with no invitations yields an empty map.
func (r *Repository) Incoming(ctx context.Context, userID string) (map[string]Invitation, error) {
	children, err := r.store.Children(ctx, messagesPath(userID))
	if err != nil {
		return nil, fmt.Errorf("listing incoming invitations for %s: %w", userID, err)
	}
	return decodeAll(children, r.logger), nil
}

// Outgoing returns all invitations sent by userID, grouped by receiver then
// invitation id. This scans every receiver's subtree; the result is cached
// upstream with the invitation TTL class.
func (r *Repository) Outgoing(ctx context.Context, userID string) (map[string]map[string]Invitation, error) {
	receivers, err := r.store.Children(ctx, rootPath)
	if err != nil {
		return nil, fmt.Errorf("scanning invitations: %w", err)
	}
	outgoing := make(map[string]map[string]Invitation)
	for receiverID, raw := range receivers {
		var subtree struct {
			Messages map[string]Invitation `json:"messages"`
		}
		if err := json.Unmarshal(raw, &subtree); err != nil {
			r.logger.Warn("skipping undecodable invitation subtree", "receiver", receiverID, "error", err)
			continue
		}
		for id, inv := range subtree.Messages {
			if inv.Sender != userID {
				continue
			}
			if _, ok := outgoing[receiverID]; !ok {
				outgoing[receiverID] = make(map[string]Invitation)
			}
			outgoing[receiverID][id] = inv
		}
	}
	return outgoing, nil
}

// Create validates and appends a new pending invitation under the receiver,
// returning its generated id.
func (r *Repository) Create(ctx context.Context, sender, receiver, body string) (string, Invitation, error) {
	body = strings.TrimSpace(body)
	if receiver == "" || body == "" {
		return "", Invitation{}, fmt.Errorf("%w: receiver and body are required", pkgerrors.ErrInvalidInput)
	}
	inv := Invitation{
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		Resolved:  false,
		Status:    StatusPending,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(inv)
	if err != nil {
		return "", Invitation{}, fmt.Errorf("encoding invitation: %w", err)
	}
	id, err := r.store.Append(ctx, messagesPath(receiver), raw)
	if err != nil {
		return "", Invitation{}, fmt.Errorf("storing invitation: %w", err)
	}
	return id, inv, nil
}

// SetStatus records the receiver's accept/reject decision and returns the
// invitation as it was before the update, so callers know the sender whose
// cached views the change staled.
func (r *Repository) SetStatus(ctx context.Context, userID, invitationID, status string) (Invitation, error) {
	if status != StatusAccepted && status != StatusRejected {
		return Invitation{}, pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest,
			"status must be %q or %q", StatusAccepted, StatusRejected)
	}
	path := messagePath(userID, invitationID)
	raw, err := r.store.Read(ctx, path)
	if err != nil {
		return Invitation{}, err
	}
	var inv Invitation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invitation{}, fmt.Errorf("decoding invitation %s: %w", invitationID, err)
	}
	fields, _ := json.Marshal(map[string]any{"status": status, "resolved": true})
	if err := r.store.Patch(ctx, path, fields); err != nil {
		return Invitation{}, fmt.Errorf("updating invitation %s: %w", invitationID, err)
	}
	return inv, nil
}

// Delete removes an invitation and returns the removed record. Deleting an
// absent invitation is a no-op that returns a zero Invitation.
func (r *Repository) Delete(ctx context.Context, userID, invitationID string) (Invitation, error) {
	path := messagePath(userID, invitationID)
	raw, err := r.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return Invitation{}, nil
		}
		return Invitation{}, fmt.Errorf("reading invitation %s: %w", invitationID, err)
	}
	var inv Invitation
	if err := json.Unmarshal(raw, &inv); err != nil {
		r.logger.Warn("deleting undecodable invitation", "id", invitationID, "error", err)
	}
	if err := r.store.Remove(ctx, path); err != nil {
		return Invitation{}, fmt.Errorf("deleting invitation %s: %w", invitationID, err)
	}
	return inv, nil
}

func decodeAll(children map[string]json.RawMessage, logger *slog.Logger) map[string]Invitation {
	invitations := make(map[string]Invitation, len(children))
	for id, raw := range children {
		var inv Invitation
		if err := json.Unmarshal(raw, &inv); err != nil {
			logger.Warn("skipping undecodable invitation", "id", id, "error", err)
			continue
		}
		invitations[id] = inv
	}
	return invitations
}
