package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) GetByID(ctx context.Context, templateID string) (Record, error) {
	const query = `
SELECT id, firm_id, name, is_default, sections
FROM status_cert_templates
WHERE id = $1
LIMIT 1`
	return scanRecord(r.DB.QueryRowContext(ctx, query, templateID))
}

func (r *PGRepo) FirmDefault(ctx context.Context, firmID string) (Record, error) {
	const query = `
SELECT id, firm_id, name, is_default, sections
FROM status_cert_templates
WHERE firm_id = $1 AND is_default = TRUE
ORDER BY updated_at DESC
LIMIT 1`
	return scanRecord(r.DB.QueryRowContext(ctx, query, firmID))
}

func (r *PGRepo) GlobalDefault(ctx context.Context) (Record, error) {
	const query = `
SELECT id, firm_id, name, is_default, sections
FROM status_cert_templates
WHERE firm_id IS NULL AND is_default = TRUE
ORDER BY updated_at DESC
LIMIT 1`
	return scanRecord(r.DB.QueryRowContext(ctx, query))
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var firmID sql.NullString
	var rawTemplate []byte
	if err := row.Scan(&rec.ID, &firmID, &rec.Name, &rec.IsDefault, &rawTemplate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if firmID.Valid {
		rec.FirmID = &firmID.String
	}
	// Stored rows are validated on read so a hand-edited or corrupted
	// template never reaches generation.
	tpl, err := ValidateJSON(rawTemplate)
	if err != nil {
		return Record{}, fmt.Errorf("template %s: %w", rec.ID, err)
	}
	rec.Template = tpl
	return rec, nil
}

var _ Repo = (*PGRepo)(nil)
