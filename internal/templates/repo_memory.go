package templates

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repo for tests and database-less dev mode. An
// empty repo makes the resolver fall through to the built-in default.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Add(record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *MemoryRepo) GetByID(ctx context.Context, templateID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ID == templateID {
			return record, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *MemoryRepo) FirmDefault(ctx context.Context, firmID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.IsDefault && record.FirmID != nil && *record.FirmID == firmID {
			return record, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *MemoryRepo) GlobalDefault(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.IsDefault && record.FirmID == nil {
			return record, nil
		}
	}
	return Record{}, ErrNotFound
}

var _ Repo = (*MemoryRepo)(nil)
