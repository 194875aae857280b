package templates

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no template row matches.
var ErrNotFound = errors.New("template not found")

// Repo defines persistence operations for stored templates.
type Repo interface {
	GetByID(ctx context.Context, templateID string) (Record, error)
	// FirmDefault returns the default template scoped to the firm.
	FirmDefault(ctx context.Context, firmID string) (Record, error)
	// GlobalDefault returns the default template with no firm scope.
	GlobalDefault(ctx context.Context) (Record, error)
}
