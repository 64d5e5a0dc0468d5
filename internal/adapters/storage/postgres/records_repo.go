package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"patient-health-history/internal/domain/records"
)

type recordsRepo struct {
	db *sql.DB
}

func NewRecordsRepo(db *sql.DB) records.Repository {
	return &recordsRepo{db: db}
}

const recordColumns = `id, patient_id, version, record_type, status, snapshot, source, review,
	is_latest, previous_version_id, changes, deleted_at, deleted_by, created_at`

// AppendVersion es el write condicional del append, en una transacción:
// baja is_latest del head observado (0 filas tocadas => el head cambió,
// ErrConflict) e inserta la versión nueva. El UNIQUE (patient_id, version)
// atrapa la carrera de dos primeras versiones insertadas a la vez.
func (r *recordsRepo) AppendVersion(ctx context.Context, rec records.HealthRecord, observedLatestID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if observedLatestID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE health_records SET is_latest = FALSE WHERE id = $1 AND is_latest`,
			observedLatestID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return records.ErrConflict
		}
	}

	snapshot, err := toJSONB(rec.Snapshot)
	if err != nil {
		return err
	}
	source, err := toJSONB(rec.Source)
	if err != nil {
		return err
	}
	var review []byte
	reviewerID := ""
	if rec.Review != nil {
		if review, err = toJSONB(rec.Review); err != nil {
			return err
		}
		reviewerID = rec.Review.DoctorID
	}
	var changes []byte
	if rec.Changes != nil {
		if changes, err = toJSONB(rec.Changes); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO health_records
			(id, patient_id, version, record_type, status, snapshot, source, review, reviewer_id,
			 is_latest, previous_version_id, changes, deleted_at, deleted_by, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.PatientID, rec.Version, rec.RecordType, rec.Status,
		snapshot, source, review, reviewerID,
		rec.IsLatest, rec.PreviousVersionID, changes,
		nullTime(rec.DeletedAt), rec.DeletedBy, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return records.ErrConflict
		}
		return err
	}

	return tx.Commit()
}

func (r *recordsRepo) GetByID(ctx context.Context, id string) (records.HealthRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM health_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *recordsRepo) GetLatest(ctx context.Context, patientID string) (records.HealthRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM health_records WHERE patient_id = $1 AND is_latest`,
		patientID)
	return scanRecord(row)
}

func (r *recordsRepo) GetLatestApproved(ctx context.Context, patientID string) (records.HealthRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM health_records
		 WHERE patient_id = $1 AND status = $2 AND deleted_at IS NULL
		 ORDER BY version DESC LIMIT 1`,
		patientID, records.StatusApproved)
	return scanRecord(row)
}

func (r *recordsRepo) ListVersions(ctx context.Context, patientID string, page, limit int) ([]records.HealthRecord, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_records WHERE patient_id = $1 AND deleted_at IS NULL`,
		patientID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM health_records
		 WHERE patient_id = $1 AND deleted_at IS NULL
		 ORDER BY version DESC
		 LIMIT $2 OFFSET $3`,
		patientID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *recordsRepo) ListPendingReview(ctx context.Context, doctorID string, page, limit int) ([]records.HealthRecord, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_records
		 WHERE status = $1 AND reviewer_id = $2 AND deleted_at IS NULL`,
		records.StatusPendingReview, doctorID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// cola de revisión: los más antiguos primero
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM health_records
		 WHERE status = $1 AND reviewer_id = $2 AND deleted_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $3 OFFSET $4`,
		records.StatusPendingReview, doctorID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *recordsRepo) SetReview(ctx context.Context, id string, status records.Status, review records.Review) error {
	data, err := toJSONB(review)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE health_records SET status = $2, review = $3, reviewer_id = $4 WHERE id = $1`,
		id, status, data, review.DoctorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return records.ErrNotFound
	}
	return nil
}

func (r *recordsRepo) SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE health_records SET deleted_at = $2, deleted_by = $3 WHERE id = $1`,
		id, at, deletedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return records.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (records.HealthRecord, error) {
	var (
		rec       records.HealthRecord
		snapshot  []byte
		source    []byte
		review    []byte
		changes   []byte
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.Version, &rec.RecordType, &rec.Status,
		&snapshot, &source, &review,
		&rec.IsLatest, &rec.PreviousVersionID, &changes,
		&deletedAt, &rec.DeletedBy, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.HealthRecord{}, records.ErrNotFound
		}
		return records.HealthRecord{}, err
	}

	if err := fromJSONB(snapshot, &rec.Snapshot); err != nil {
		return records.HealthRecord{}, err
	}
	if err := fromJSONB(source, &rec.Source); err != nil {
		return records.HealthRecord{}, err
	}
	if len(review) > 0 {
		rec.Review = &records.Review{}
		if err := fromJSONB(review, rec.Review); err != nil {
			return records.HealthRecord{}, err
		}
	}
	if len(changes) > 0 {
		rec.Changes = &records.ChangeSummary{}
		if err := fromJSONB(changes, rec.Changes); err != nil {
			return records.HealthRecord{}, err
		}
	}
	rec.DeletedAt = timePtr(deletedAt)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]records.HealthRecord, error) {
	out := make([]records.HealthRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
