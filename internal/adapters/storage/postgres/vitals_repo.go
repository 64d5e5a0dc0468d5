package postgres

import (
	"context"
	"database/sql"
	"time"

	"patient-health-history/internal/domain/vitals"
)

type vitalsRepo struct {
	db *sql.DB
}

func NewVitalsRepo(db *sql.DB) vitals.Repository {
	return &vitalsRepo{db: db}
}

const metricColumns = `id, patient_id, metric_type, value, unit,
	measured_at, measured_by_id, measured_by_role, booking_id, source,
	range_min, range_max, is_abnormal, abnormality_level, created_at`

func (r *vitalsRepo) Insert(ctx context.Context, m vitals.HealthMetric) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_metrics
			(id, patient_id, metric_type, value, unit,
			 measured_at, measured_by_id, measured_by_role, booking_id, source,
			 range_min, range_max, is_abnormal, abnormality_level, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		m.ID, m.PatientID, m.Type, m.Value, m.Unit,
		m.MeasuredAt, m.MeasuredByID, m.MeasuredByRole, m.BookingID, m.Source,
		m.NormalRange.Min, m.NormalRange.Max, m.IsAbnormal, m.AbnormalityLevel, m.CreatedAt)
	return err
}

func (r *vitalsRepo) ListByPatientType(ctx context.Context, patientID string, t vitals.MetricType, from, to time.Time) ([]vitals.HealthMetric, error) {
	return r.list(ctx,
		`SELECT `+metricColumns+` FROM health_metrics
		 WHERE patient_id = $1 AND metric_type = $2 AND measured_at >= $3 AND measured_at <= $4
		 ORDER BY measured_at ASC`,
		patientID, t, from, to)
}

func (r *vitalsRepo) ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]vitals.HealthMetric, error) {
	return r.list(ctx,
		`SELECT `+metricColumns+` FROM health_metrics
		 WHERE patient_id = $1 AND measured_at >= $2 AND measured_at <= $3
		 ORDER BY measured_at ASC`,
		patientID, from, to)
}

func (r *vitalsRepo) list(ctx context.Context, query string, args ...any) ([]vitals.HealthMetric, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]vitals.HealthMetric, 0)
	for rows.Next() {
		var m vitals.HealthMetric
		err := rows.Scan(
			&m.ID, &m.PatientID, &m.Type, &m.Value, &m.Unit,
			&m.MeasuredAt, &m.MeasuredByID, &m.MeasuredByRole, &m.BookingID, &m.Source,
			&m.NormalRange.Min, &m.NormalRange.Max, &m.IsAbnormal, &m.AbnormalityLevel, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
