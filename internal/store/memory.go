package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/mealex/peerdir/pkg/errors"
)

// MemoryStore implements Store on a process-local map with the same subtree
// semantics as PostgresStore. It backs tests and local development without a
// database.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.data[p]; ok {
		return value, nil
	}
	tree := make(map[string]any)
	found := false
	for key, value := range s.data {
		if strings.HasPrefix(key, p+"/") {
			found = true
			insertAt(tree, strings.Split(key[len(p)+1:], "/"), value)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrNotFound, p)
	}
	return json.Marshal(tree)
}

func (s *MemoryStore) ReadMany(ctx context.Context, paths []string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage, len(paths))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, path := range paths {
		p, err := NormalizePath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
		}
		if value, ok := s.data[p]; ok {
			result[p] = value
		}
	}
	return result, nil
}

func (s *MemoryStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, p+"/") {
			delete(s.data, key)
		}
	}
	s.data[p] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, path string, value json.RawMessage) (string, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p+"/"+id] = append(json.RawMessage(nil), value...)
	return id, nil
}

func (s *MemoryStore) Patch(ctx context.Context, path string, fields json.RawMessage) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(fields, &patch); err != nil {
		return fmt.Errorf("%w: patch must be a JSON object: %v", pkgerrors.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]json.RawMessage)
	if existing, ok := s.data[p]; ok {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return fmt.Errorf("existing value at %s is not an object: %w", p, err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding merged value: %w", err)
	}
	s.data[p] = raw
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, p)
	for key := range s.data {
		if strings.HasPrefix(key, p+"/") {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *MemoryStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	grouped := make(map[string]map[string]any)
	direct := make(map[string]json.RawMessage)
	for key, value := range s.data {
		if !strings.HasPrefix(key, p+"/") {
			continue
		}
		segments := strings.Split(key[len(p)+1:], "/")
		if len(segments) == 1 {
			direct[segments[0]] = value
			continue
		}
		if _, ok := grouped[segments[0]]; !ok {
			grouped[segments[0]] = make(map[string]any)
		}
		insertAt(grouped[segments[0]], segments[1:], value)
	}

	result := make(map[string]json.RawMessage, len(direct)+len(grouped))
	for id, value := range direct {
		result[id] = value
	}
	for id, tree := range grouped {
		assembled, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("assembling child %s: %w", id, err)
		}
		result[id] = assembled
	}
	return result, nil
}
