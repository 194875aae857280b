package templates

import (
	"context"
	"errors"

	"statuscert-backend/internal/shared/telemetry"
)

// Resolver picks the template for a review using a fixed priority chain:
// explicit payload template, then the review's stored template, then the
// firm's default, then the global default, then the built-in template. A
// missing row at any step falls through to the next; any other error aborts.
type Resolver struct {
	Repo Repo
}

// Resolve returns the effective template and the source that satisfied it.
func (r *Resolver) Resolve(ctx context.Context, firmID string, payloadTemplateID, reviewTemplateID *string) (Template, string, error) {
	for _, candidate := range []struct {
		source string
		id     *string
	}{
		{source: "payload", id: payloadTemplateID},
		{source: "review", id: reviewTemplateID},
	} {
		if candidate.id == nil || *candidate.id == "" {
			continue
		}
		rec, err := r.Repo.GetByID(ctx, *candidate.id)
		if err == nil {
			return rec.Template, candidate.source, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Template{}, "", err
		}
		telemetry.Warn("template.lookup_missing", map[string]any{
			"source":      candidate.source,
			"template_id": *candidate.id,
			"firm_id":     firmID,
		})
	}

	rec, err := r.Repo.FirmDefault(ctx, firmID)
	if err == nil {
		return rec.Template, "firm_default", nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Template{}, "", err
	}

	rec, err = r.Repo.GlobalDefault(ctx)
	if err == nil {
		return rec.Template, "global_default", nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Template{}, "", err
	}

	return Default(), "built_in", nil
}
