package accesstokens

import "context"

// Repository persiste los tokens.
//
// Create debe garantizar a-lo-sumo-un-activo por (patient, grantee):
// si ya existe un row activo para el par, devuelve ErrConflict.
// En memoria se resuelve bajo un solo lock; en Postgres con un
// índice único parcial sobre (patient_id, granted_to_id) WHERE is_active.
type Repository interface {
	Create(ctx context.Context, t AccessToken) error
	Update(ctx context.Context, t AccessToken) error
	GetByID(ctx context.Context, id string) (AccessToken, error)
	GetByHash(ctx context.Context, hash string) (AccessToken, error)
	GetActive(ctx context.Context, patientID, grantedToID string) (AccessToken, error)
	ListByPatient(ctx context.Context, patientID string) ([]AccessToken, error)
	ListActiveByBooking(ctx context.Context, bookingID string) ([]AccessToken, error)
	ListActiveByPatient(ctx context.Context, patientID string) ([]AccessToken, error)
}
