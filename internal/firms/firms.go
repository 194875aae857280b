// Package firms exposes the small slice of firm data the pipeline needs.
package firms

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrNotFound is returned when the firm does not exist.
var ErrNotFound = errors.New("firm not found")

// Repo defines firm lookups.
type Repo interface {
	GetName(ctx context.Context, firmID string) (string, error)
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) GetName(ctx context.Context, firmID string) (string, error) {
	const query = `SELECT name FROM firms WHERE id = $1`
	var name string
	err := r.DB.QueryRowContext(ctx, query, firmID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

var _ Repo = (*PGRepo)(nil)

// MemoryRepo is an in-memory Repo for tests and database-less dev mode.
type MemoryRepo struct {
	mu    sync.Mutex
	names map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{names: map[string]string{}}
}

func (r *MemoryRepo) SetName(firmID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[firmID] = name
}

func (r *MemoryRepo) GetName(ctx context.Context, firmID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[firmID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

var _ Repo = (*MemoryRepo)(nil)
