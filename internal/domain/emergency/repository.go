package emergency

import (
	"context"
	"time"
)

type Repository interface {
	Upsert(ctx context.Context, s Summary) error
	GetByPatient(ctx context.Context, patientID string) (Summary, error)
	GetByTokenHash(ctx context.Context, hash string) (Summary, error)
	// RecordAccess incrementa el contador y marca momento/IP del acceso.
	RecordAccess(ctx context.Context, patientID string, at time.Time, ip string) error
	// ClearToken borra hash y vigencia (revocación hard, sin historial).
	ClearToken(ctx context.Context, patientID string) error
}
