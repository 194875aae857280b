package billing

import (
	"context"
	"errors"

	"statuscert-backend/internal/entitlements"
)

// Consumption sources reported by Consume.
const (
	SourceTrial   = "trial"
	SourceCredits = "credits"
)

// ErrNoBalance is returned when neither trial nor credits could be decremented.
var ErrNoBalance = errors.New("no entitlement balance to consume")

// ErrFirmNotFound is returned when the firm row does not exist.
var ErrFirmNotFound = errors.New("firm not found")

// Repo defines persistence operations for firm billing.
type Repo interface {
	// GetState loads the firm's entitlement snapshot. Firms without a billing
	// row get defaultTrial as their trial balance.
	GetState(ctx context.Context, firmID string, defaultTrial int) (entitlements.State, error)
	// Consume atomically decrements one metered balance, trial before
	// credits. The decrement is conditional on the balance being positive, so
	// concurrent consumers can never drive it negative. Returns the source
	// that was drawn down, or ErrNoBalance.
	Consume(ctx context.Context, firmID string) (string, error)
}

// Service wraps the repo with the configured trial default.
type Service struct {
	Repo         Repo
	DefaultTrial int
}

// StateFor returns the firm's current entitlement state.
func (s *Service) StateFor(ctx context.Context, firmID string) (entitlements.State, error) {
	return s.Repo.GetState(ctx, firmID, s.DefaultTrial)
}

// ConsumeFor records one paid generation against a metered source. Unlimited
// states must be filtered by the caller before persisting.
func (s *Service) ConsumeFor(ctx context.Context, firmID string) (string, error) {
	return s.Repo.Consume(ctx, firmID)
}
