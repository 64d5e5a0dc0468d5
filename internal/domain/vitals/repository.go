package vitals

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, m HealthMetric) error
	ListByPatientType(ctx context.Context, patientID string, t MetricType, from, to time.Time) ([]HealthMetric, error)
	ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]HealthMetric, error)
}
