package postgres

import (
	"context"
	"database/sql"
	"errors"

	"patient-health-history/internal/domain/accesstokens"
)

type tokensRepo struct {
	db *sql.DB
}

func NewAccessTokensRepo(db *sql.DB) accesstokens.Repository {
	return &tokensRepo{db: db}
}

const tokenColumns = `id, token_hash, granted_to_id, granted_to_role, patient_id,
	access_level, allowed_resources, granted_by_id, granted_by_role, booking_id,
	expires_at, is_active, usage_count, max_usage,
	revoked_at, revoked_by_id, revoked_by_type, revoke_reason,
	last_used_at, last_used_ip, created_at, updated_at`

// Create confía en el índice único parcial (patient_id, granted_to_id)
// WHERE is_active para garantizar a-lo-sumo-un-activo por par: la
// violación 23505 se traduce a ErrConflict.
func (r *tokensRepo) Create(ctx context.Context, t accesstokens.AccessToken) error {
	resources, err := toJSONB(t.AllowedResources)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO health_access_tokens
			(id, token_hash, granted_to_id, granted_to_role, patient_id,
			 access_level, allowed_resources, granted_by_id, granted_by_role, booking_id,
			 expires_at, is_active, usage_count, max_usage,
			 revoked_at, revoked_by_id, revoked_by_type, revoke_reason,
			 last_used_at, last_used_ip, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		t.ID, t.TokenHash, t.GrantedToID, t.GrantedToRole, t.PatientID,
		t.AccessLevel, resources, t.GrantedByID, t.GrantedByRole, t.BookingID,
		nullTime(t.ExpiresAt), t.IsActive, t.UsageCount, t.MaxUsage,
		nullTime(t.RevokedAt), t.RevokedByID, t.RevokedByType, t.RevokeReason,
		nullTime(t.LastUsedAt), t.LastUsedIP, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return accesstokens.ErrConflict
		}
		return err
	}
	return nil
}

func (r *tokensRepo) Update(ctx context.Context, t accesstokens.AccessToken) error {
	resources, err := toJSONB(t.AllowedResources)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE health_access_tokens SET
			access_level = $2, allowed_resources = $3,
			expires_at = $4, is_active = $5, usage_count = $6, max_usage = $7,
			revoked_at = $8, revoked_by_id = $9, revoked_by_type = $10, revoke_reason = $11,
			last_used_at = $12, last_used_ip = $13, updated_at = $14
		 WHERE id = $1`,
		t.ID, t.AccessLevel, resources,
		nullTime(t.ExpiresAt), t.IsActive, t.UsageCount, t.MaxUsage,
		nullTime(t.RevokedAt), t.RevokedByID, t.RevokedByType, t.RevokeReason,
		nullTime(t.LastUsedAt), t.LastUsedIP, t.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return accesstokens.ErrNotFound
	}
	return nil
}

func (r *tokensRepo) GetByID(ctx context.Context, id string) (accesstokens.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens WHERE id = $1`, id)
	return scanToken(row)
}

func (r *tokensRepo) GetByHash(ctx context.Context, hash string) (accesstokens.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens WHERE token_hash = $1`, hash)
	return scanToken(row)
}

func (r *tokensRepo) GetActive(ctx context.Context, patientID, grantedToID string) (accesstokens.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens
		 WHERE patient_id = $1 AND granted_to_id = $2 AND is_active`,
		patientID, grantedToID)
	return scanToken(row)
}

func (r *tokensRepo) ListByPatient(ctx context.Context, patientID string) ([]accesstokens.AccessToken, error) {
	return r.list(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens
		 WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
}

func (r *tokensRepo) ListActiveByBooking(ctx context.Context, bookingID string) ([]accesstokens.AccessToken, error) {
	return r.list(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens
		 WHERE booking_id = $1 AND is_active ORDER BY created_at DESC`,
		bookingID)
}

func (r *tokensRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]accesstokens.AccessToken, error) {
	return r.list(ctx,
		`SELECT `+tokenColumns+` FROM health_access_tokens
		 WHERE patient_id = $1 AND is_active ORDER BY created_at DESC`,
		patientID)
}

func (r *tokensRepo) list(ctx context.Context, query string, args ...any) ([]accesstokens.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]accesstokens.AccessToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanToken(row rowScanner) (accesstokens.AccessToken, error) {
	var (
		t          accesstokens.AccessToken
		resources  []byte
		expiresAt  sql.NullTime
		revokedAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.GrantedToID, &t.GrantedToRole, &t.PatientID,
		&t.AccessLevel, &resources, &t.GrantedByID, &t.GrantedByRole, &t.BookingID,
		&expiresAt, &t.IsActive, &t.UsageCount, &t.MaxUsage,
		&revokedAt, &t.RevokedByID, &t.RevokedByType, &t.RevokeReason,
		&lastUsedAt, &t.LastUsedIP, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accesstokens.AccessToken{}, accesstokens.ErrNotFound
		}
		return accesstokens.AccessToken{}, err
	}

	if err := fromJSONB(resources, &t.AllowedResources); err != nil {
		return accesstokens.AccessToken{}, err
	}
	t.ExpiresAt = timePtr(expiresAt)
	t.RevokedAt = timePtr(revokedAt)
	t.LastUsedAt = timePtr(lastUsedAt)
	return t, nil
}
