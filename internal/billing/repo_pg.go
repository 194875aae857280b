package billing

import (
	"context"
	"database/sql"
	"errors"

	"statuscert-backend/internal/entitlements"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) GetState(ctx context.Context, firmID string, defaultTrial int) (entitlements.State, error) {
	const query = `
SELECT f.founder_override,
       COALESCE(b.active_subscription, FALSE),
       COALESCE(b.trial_remaining, $2),
       COALESCE(b.credits_balance, 0)
FROM firms f
LEFT JOIN firm_billing b ON b.firm_id = f.id
WHERE f.id = $1`
	var state entitlements.State
	err := r.DB.QueryRowContext(ctx, query, firmID, defaultTrial).Scan(
		&state.FounderOverride,
		&state.ActiveSubscription,
		&state.TrialRemaining,
		&state.CreditsBalance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlements.State{}, ErrFirmNotFound
	}
	if err != nil {
		return entitlements.State{}, err
	}
	return state, nil
}

// Consume decrements trial first, then credits. Each UPDATE is guarded by a
// positive-balance predicate so the decrement and the check are one atomic
// statement.
func (r *PGRepo) Consume(ctx context.Context, firmID string) (string, error) {
	const trialQuery = `
UPDATE firm_billing
SET trial_remaining = trial_remaining - 1, updated_at = now()
WHERE firm_id = $1 AND trial_remaining > 0`
	res, err := r.DB.ExecContext(ctx, trialQuery, firmID)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n > 0 {
		return SourceTrial, nil
	}

	const creditsQuery = `
UPDATE firm_billing
SET credits_balance = credits_balance - 1, updated_at = now()
WHERE firm_id = $1 AND credits_balance > 0`
	res, err = r.DB.ExecContext(ctx, creditsQuery, firmID)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n > 0 {
		return SourceCredits, nil
	}

	return "", ErrNoBalance
}

var _ Repo = (*PGRepo)(nil)
