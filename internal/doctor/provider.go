package doctor

import (
	"context"

	"github.com/google/uuid"
)

// AvailabilityProvider supplies the working-hours projection for a
// doctor. Implementations return ErrNotFound for unknown ids.
type AvailabilityProvider interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*Availability, error)
}
