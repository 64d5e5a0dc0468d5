package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open abre una conexión pool a Postgres usando pgx (database/sql).
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema crea las tablas si no existen. Los dos constraints de
// unicidad de acá son los que sostienen las garantías de concurrencia:
// - health_records: UNIQUE (patient_id, version) atrapa appends en carrera
// - health_access_tokens: índice único parcial => un solo activo por par
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			date_of_birth TIMESTAMPTZ,
			gender TEXT NOT NULL DEFAULT 'unknown',
			blood_group TEXT NOT NULL DEFAULT '',
			emergency_contacts JSONB NOT NULL DEFAULT '[]',
			primary_physician TEXT NOT NULL DEFAULT '',
			insurance JSONB NOT NULL DEFAULT '{}',
			dnr BOOLEAN NOT NULL DEFAULT FALSE,
			organ_donor BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS health_records (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			version INT NOT NULL,
			record_type TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			source JSONB NOT NULL,
			review JSONB,
			reviewer_id TEXT NOT NULL DEFAULT '',
			is_latest BOOLEAN NOT NULL,
			previous_version_id TEXT NOT NULL DEFAULT '',
			changes JSONB,
			deleted_at TIMESTAMPTZ,
			deleted_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (patient_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_records_latest
			ON health_records (patient_id) WHERE is_latest`,
		`CREATE TABLE IF NOT EXISTS health_access_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			granted_to_id TEXT NOT NULL,
			granted_to_role TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL,
			access_level TEXT NOT NULL,
			allowed_resources JSONB NOT NULL DEFAULT '[]',
			granted_by_id TEXT NOT NULL,
			granted_by_role TEXT NOT NULL DEFAULT '',
			booking_id TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL,
			usage_count INT NOT NULL DEFAULT 0,
			max_usage INT NOT NULL DEFAULT 0,
			revoked_at TIMESTAMPTZ,
			revoked_by_id TEXT NOT NULL DEFAULT '',
			revoked_by_type TEXT NOT NULL DEFAULT '',
			revoke_reason TEXT NOT NULL DEFAULT '',
			last_used_at TIMESTAMPTZ,
			last_used_ip TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_one_active
			ON health_access_tokens (patient_id, granted_to_id) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_hash
			ON health_access_tokens (token_hash)`,
		`CREATE TABLE IF NOT EXISTS health_access_logs (
			id TEXT PRIMARY KEY,
			accessor_id TEXT NOT NULL,
			accessor_role TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL DEFAULT '',
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			access_reason TEXT NOT NULL DEFAULT '',
			booking_id TEXT NOT NULL DEFAULT '',
			access_token_id TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_logs_patient_ts
			ON health_access_logs (patient_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_access_logs_accessor_ts
			ON health_access_logs (accessor_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS emergency_summaries (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			blood_group TEXT NOT NULL DEFAULT '',
			date_of_birth TIMESTAMPTZ,
			gender TEXT NOT NULL DEFAULT 'unknown',
			critical_conditions JSONB NOT NULL DEFAULT '[]',
			critical_allergies JSONB NOT NULL DEFAULT '[]',
			active_medications JSONB NOT NULL DEFAULT '[]',
			emergency_contacts JSONB NOT NULL DEFAULT '[]',
			primary_physician TEXT NOT NULL DEFAULT '',
			insurance JSONB NOT NULL DEFAULT '{}',
			special_instructions TEXT NOT NULL DEFAULT '',
			dnr BOOLEAN NOT NULL DEFAULT FALSE,
			organ_donor BOOLEAN NOT NULL DEFAULT FALSE,
			qr_token_hash TEXT NOT NULL DEFAULT '',
			qr_token_expiry TIMESTAMPTZ,
			qr_generated_at TIMESTAMPTZ,
			access_count INT NOT NULL DEFAULT 0,
			last_accessed_at TIMESTAMPTZ,
			last_access_ip TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS health_metrics (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			measured_at TIMESTAMPTZ NOT NULL,
			measured_by_id TEXT NOT NULL,
			measured_by_role TEXT NOT NULL DEFAULT '',
			booking_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			range_min DOUBLE PRECISION NOT NULL,
			range_max DOUBLE PRECISION NOT NULL,
			is_abnormal BOOLEAN NOT NULL,
			abnormality_level TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_metrics_patient_type_ts
			ON health_metrics (patient_id, metric_type, measured_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
