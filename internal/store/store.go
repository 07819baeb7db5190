// Package store defines the document-store abstraction: a hierarchical
// key-path store holding JSON values, the system of record for all entities.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is a hierarchical key-path document store. Paths use slash-separated
// segments ("profiles/u1", "invitations/u2/messages/m1"). Reading an interior
// path assembles its subtree into a nested JSON object.
type Store interface {
	// Read returns the value at path, or errors.ErrNotFound.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	// ReadMany returns the values at the given leaf paths in one round trip.
	// Absent paths are omitted from the result.
	ReadMany(ctx context.Context, paths []string) (map[string]json.RawMessage, error)
	// Write replaces the value (and any existing subtree) at path.
	Write(ctx context.Context, path string, value json.RawMessage) error
	// Append stores value under a generated child id of path and returns it.
	Append(ctx context.Context, path string, value json.RawMessage) (string, error)
	// Patch merges the given top-level fields into the value at path,
	// creating it when absent.
	Patch(ctx context.Context, path string, fields json.RawMessage) error
	// Remove deletes the value at path together with its subtree. Removing
	// an absent path is a no-op.
	Remove(ctx context.Context, path string) error
	// Children returns the direct children of path keyed by child id.
	Children(ctx context.Context, path string) (map[string]json.RawMessage, error)
}

// NormalizePath validates a slash-separated path and strips surrounding
// slashes. Empty segments and wildcard characters are rejected so paths can
// never alter LIKE patterns or escape their subtree.
func NormalizePath(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" {
			return "", fmt.Errorf("empty segment in path %q", path)
		}
		if strings.ContainsAny(seg, "%_\\") {
			return "", fmt.Errorf("invalid characters in path segment %q", seg)
		}
	}
	return trimmed, nil
}
