package audit

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, e AccessLog) error
	ListByPatient(ctx context.Context, patientID string, page, limit int) ([]AccessLog, int, error)
	ListByAccessor(ctx context.Context, accessorID string, page, limit int) ([]AccessLog, int, error)
	ListByPatientSince(ctx context.Context, patientID string, since time.Time) ([]AccessLog, error)
	ListFailedSince(ctx context.Context, since time.Time, limit int) ([]AccessLog, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]AccessLog, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
