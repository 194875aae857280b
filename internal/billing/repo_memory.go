package billing

import (
	"context"
	"sync"

	"statuscert-backend/internal/entitlements"
)

// MemoryRepo is an in-memory Repo for tests and database-less dev mode.
// Firms are seeded with the default trial on first read.
type MemoryRepo struct {
	mu     sync.Mutex
	states map[string]entitlements.State
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{states: map[string]entitlements.State{}}
}

func (r *MemoryRepo) GetState(ctx context.Context, firmID string, defaultTrial int) (entitlements.State, error) {
	if err := ctx.Err(); err != nil {
		return entitlements.State{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[firmID]
	if !ok {
		state = entitlements.State{TrialRemaining: defaultTrial}
		r.states[firmID] = state
	}
	return state, nil
}

func (r *MemoryRepo) Consume(ctx context.Context, firmID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[firmID]
	switch {
	case state.TrialRemaining > 0:
		state.TrialRemaining--
		r.states[firmID] = state
		return SourceTrial, nil
	case state.CreditsBalance > 0:
		state.CreditsBalance--
		r.states[firmID] = state
		return SourceCredits, nil
	}
	return "", ErrNoBalance
}

// SetState replaces a firm's snapshot. Test helper.
func (r *MemoryRepo) SetState(firmID string, state entitlements.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[firmID] = state
}
