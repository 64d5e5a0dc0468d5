package postgres

import (
	"context"
	"database/sql"
	"time"

	"patient-health-history/internal/domain/audit"
)

type auditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) audit.Repository {
	return &auditRepo{db: db}
}

const auditColumns = `id, accessor_id, accessor_role, patient_id,
	resource_type, resource_id, action, access_reason,
	booking_id, access_token_id, ip_address, user_agent, endpoint, method,
	success, error_message, ts, expires_at`

func (r *auditRepo) Insert(ctx context.Context, e audit.AccessLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_access_logs
			(id, accessor_id, accessor_role, patient_id,
			 resource_type, resource_id, action, access_reason,
			 booking_id, access_token_id, ip_address, user_agent, endpoint, method,
			 success, error_message, ts, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		e.ID, e.AccessorID, e.AccessorRole, e.PatientID,
		e.ResourceType, e.ResourceID, e.Action, e.AccessReason,
		e.BookingID, e.AccessTokenID, e.IPAddress, e.UserAgent, e.Endpoint, e.Method,
		e.Success, e.ErrorMessage, e.Timestamp, e.ExpiresAt)
	return err
}

func (r *auditRepo) ListByPatient(ctx context.Context, patientID string, page, limit int) ([]audit.AccessLog, int, error) {
	return r.listPaged(ctx, `patient_id = $1`, patientID, page, limit)
}

func (r *auditRepo) ListByAccessor(ctx context.Context, accessorID string, page, limit int) ([]audit.AccessLog, int, error) {
	return r.listPaged(ctx, `accessor_id = $1`, accessorID, page, limit)
}

func (r *auditRepo) ListByPatientSince(ctx context.Context, patientID string, since time.Time) ([]audit.AccessLog, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM health_access_logs
		 WHERE patient_id = $1 AND ts >= $2 ORDER BY ts DESC`,
		patientID, since)
}

func (r *auditRepo) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]audit.AccessLog, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM health_access_logs
		 WHERE NOT success AND ts >= $1 ORDER BY ts DESC LIMIT $2`,
		since, limit)
}

func (r *auditRepo) ListBetween(ctx context.Context, from, to time.Time) ([]audit.AccessLog, error) {
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM health_access_logs
		 WHERE ts >= $1 AND ts <= $2 ORDER BY ts DESC`,
		from, to)
}

func (r *auditRepo) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM health_access_logs WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *auditRepo) listPaged(ctx context.Context, where string, arg any, page, limit int) ([]audit.AccessLog, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_access_logs WHERE `+where, arg).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	out, err := r.list(ctx,
		`SELECT `+auditColumns+` FROM health_access_logs
		 WHERE `+where+` ORDER BY ts DESC LIMIT $2 OFFSET $3`,
		arg, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *auditRepo) list(ctx context.Context, query string, args ...any) ([]audit.AccessLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.AccessLog, 0)
	for rows.Next() {
		var e audit.AccessLog
		err := rows.Scan(
			&e.ID, &e.AccessorID, &e.AccessorRole, &e.PatientID,
			&e.ResourceType, &e.ResourceID, &e.Action, &e.AccessReason,
			&e.BookingID, &e.AccessTokenID, &e.IPAddress, &e.UserAgent, &e.Endpoint, &e.Method,
			&e.Success, &e.ErrorMessage, &e.Timestamp, &e.ExpiresAt)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
