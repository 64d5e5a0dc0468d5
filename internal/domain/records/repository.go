package records

import (
	"context"
	"time"
)

// Repository persiste la cadena de versiones.
//
// AppendVersion es el write condicional del append: inserta rec y baja el
// is_latest del head anterior en una sola operación atómica, fallando con
// ErrConflict si el head observado (observedLatestID) ya no es el head real.
// observedLatestID vacío significa "el paciente no tenía versiones".
type Repository interface {
	AppendVersion(ctx context.Context, rec HealthRecord, observedLatestID string) error
	GetByID(ctx context.Context, id string) (HealthRecord, error)
	GetLatest(ctx context.Context, patientID string) (HealthRecord, error)
	GetLatestApproved(ctx context.Context, patientID string) (HealthRecord, error)
	ListVersions(ctx context.Context, patientID string, page, limit int) ([]HealthRecord, int, error)
	ListPendingReview(ctx context.Context, doctorID string, page, limit int) ([]HealthRecord, int, error)
	SetReview(ctx context.Context, id string, status Status, review Review) error
	SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error
}
