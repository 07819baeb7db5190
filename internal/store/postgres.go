package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
	"github.com/mealex/peerdir/pkg/postgres"
)

// PostgresStore implements Store on a single documents table keyed by path.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates a PostgresStore and ensures its schema exists.
func NewPostgres(ctx context.Context, db *postgres.Client) (*PostgresStore, error) {
	s := &PostgresStore{
		db:     db,
		logger: logger.WithComponent("document-store"),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			path        TEXT PRIMARY KEY,
			value       JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}

	var value []byte
	err = s.db.DB.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE path = $1`, p,
	).Scan(&value)
	if err == nil {
		return value, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	// No exact row: assemble the subtree into a nested object.
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT path, value FROM documents WHERE path LIKE $1`, p+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("reading subtree %s: %w", p, err)
	}
	defer rows.Close()

	tree := make(map[string]any)
	found := false
	for rows.Next() {
		var childPath string
		var childValue []byte
		if err := rows.Scan(&childPath, &childValue); err != nil {
			return nil, fmt.Errorf("scanning subtree row: %w", err)
		}
		found = true
		insertAt(tree, strings.Split(childPath[len(p)+1:], "/"), childValue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subtree %s: %w", p, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrNotFound, p)
	}
	return json.Marshal(tree)
}

func (s *PostgresStore) ReadMany(ctx context.Context, paths []string) (map[string]json.RawMessage, error) {
	if len(paths) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	normalized := make([]string, 0, len(paths))
	for _, path := range paths {
		p, err := NormalizePath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
		}
		normalized = append(normalized, p)
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT path, value FROM documents WHERE path = ANY($1)`,
		pq.Array(normalized),
	)
	if err != nil {
		return nil, fmt.Errorf("batch read of %d paths: %w", len(paths), err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage, len(paths))
	for rows.Next() {
		var p string
		var value []byte
		if err := rows.Scan(&p, &value); err != nil {
			return nil, fmt.Errorf("scanning batch row: %w", err)
		}
		result[p] = value
	}
	return result, rows.Err()
}

func (s *PostgresStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	// Replacing a document replaces its subtree; both happen in one
	// transaction so readers never see a half-written tree.
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE path = $1 OR path LIKE $2`, p, p+"/%",
		); err != nil {
			return fmt.Errorf("clearing subtree %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, value) VALUES ($1, $2)`, p, []byte(value),
		); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
		return nil
	})
}

func (s *PostgresStore) Append(ctx context.Context, path string, value json.RawMessage) (string, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	id := uuid.NewString()
	if _, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO documents (path, value) VALUES ($1, $2)`,
		p+"/"+id, []byte(value),
	); err != nil {
		return "", fmt.Errorf("appending to %s: %w", p, err)
	}
	return id, nil
}

func (s *PostgresStore) Patch(ctx context.Context, path string, fields json.RawMessage) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO documents (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE
		SET value = documents.value || EXCLUDED.value, updated_at = now()`,
		p, []byte(fields),
	)
	if err != nil {
		return fmt.Errorf("patching %s: %w", p, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	if _, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM documents WHERE path = $1 OR path LIKE $2`, p, p+"/%",
	); err != nil {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}

func (s *PostgresStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT path, value FROM documents WHERE path LIKE $1`, p+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", p, err)
	}
	defer rows.Close()

	// Group subtree rows by first segment, then assemble each child that
	// spans multiple rows into a nested object.
	grouped := make(map[string]map[string]any)
	direct := make(map[string]json.RawMessage)
	for rows.Next() {
		var childPath string
		var value []byte
		if err := rows.Scan(&childPath, &value); err != nil {
			return nil, fmt.Errorf("scanning child row: %w", err)
		}
		rel := childPath[len(p)+1:]
		segments := strings.Split(rel, "/")
		if len(segments) == 1 {
			direct[segments[0]] = value
			continue
		}
		if _, ok := grouped[segments[0]]; !ok {
			grouped[segments[0]] = make(map[string]any)
		}
		insertAt(grouped[segments[0]], segments[1:], value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating children of %s: %w", p, err)
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

// insertAt places a raw JSON leaf at the nested position given by segments.
func insertAt(tree map[string]any, segments []string, value []byte) {
	if len(segments) == 1 {
		tree[segments[0]] = json.RawMessage(value)
		return
	}
	child, ok := tree[segments[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		tree[segments[0]] = child
	}
	insertAt(child, segments[1:], value)
}
