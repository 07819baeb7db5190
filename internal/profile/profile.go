// Package profile provides typed access to profile records in the document
// store. The store owns the data; this layer only reads, patches, and
// validates.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mealex/peerdir/internal/store"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
)

const rootPath = "profiles"

// Record is a peer profile. Major, Year, and Tags are the indexed subset.
type Record struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	PhotoURL       string   `json:"photoUrl,omitempty"`
	Major          string   `json:"major,omitempty"`
	Year           string   `json:"year,omitempty"`
	Bio            string   `json:"bio,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Availability   []string `json:"availability,omitempty"`
	MealPreference []string `json:"mealPreference,omitempty"`
	LinkedinURL    string   `json:"linkedinUrl,omitempty"`
}

// Repository reads and updates profiles in the document store.
type Repository struct {
	store  store.Store
	logger *slog.Logger
}

func NewRepository(s store.Store) *Repository {
	return &Repository{
		store:  s,
		logger: logger.WithComponent("profile-repo"),
	}
}

// Path returns the store path of a profile.
func Path(id string) string {
	return rootPath + "/" + id
}

// Get returns a single profile, or pkg/errors.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	raw, err := r.store.Read(ctx, Path(id))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding profile %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

// All returns every profile keyed by id. An empty store yields an empty map,
// not an error.
func (r *Repository) All(ctx context.Context) (map[string]Record, error) {
	children, err := r.store.Children(ctx, rootPath)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	records := make(map[string]Record, len(children))
	for id, raw := range children {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Warn("skipping undecodable profile", "id", id, "error", err)
			continue
		}
		rec.ID = id
		records[id] = rec
	}
	return records, nil
}

// GetMany resolves the given ids in one batched store read, returning the
// records in id order. Ids with no backing record are dropped.
func (r *Repository) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = Path(id)
	}
	values, err := r.store.ReadMany(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("resolving %d profiles: %w", len(ids), err)
	}
	records := make([]Record, 0, len(values))
	for i, p := range paths {
		raw, ok := values[p]
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Warn("skipping undecodable profile", "id", ids[i], "error", err)
			continue
		}
		rec.ID = ids[i]
		records = append(records, rec)
	}
	return records, nil
}

// Update merges the given fields into the profile. The store is written
// first; cache invalidation and index rebuild are the caller's follow-up.
func (r *Repository) Update(ctx context.Context, id string, fields json.RawMessage) error {
	if err := r.store.Patch(ctx, Path(id), fields); err != nil {
		return fmt.Errorf("updating profile %s: %w", id, err)
	}
	return nil
}

// ValidateUpdate checks that a profile update body is a non-empty JSON
// object and strips fields the caller may not set. It returns the cleaned
// body.
func ValidateUpdate(body []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", pkgerrors.ErrInvalidInput)
	}
	// The authenticated uid rides along in some clients' payloads; it is
	// not profile data.
	delete(fields, "uid")
	delete(fields, "id")
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no updatable fields", pkgerrors.ErrInvalidInput)
	}
	cleaned, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	return cleaned, nil
}

// SortedIDs returns the record ids in lexicographic order, the canonical
// order for list responses.
func SortedIDs(records map[string]Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
