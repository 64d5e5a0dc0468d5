package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"patient-health-history/internal/domain/emergency"
)

type emergencyRepo struct {
	db *sql.DB
}

func NewEmergencyRepo(db *sql.DB) emergency.Repository {
	return &emergencyRepo{db: db}
}

const summaryColumns = `id, patient_id, name, blood_group, date_of_birth, gender,
	critical_conditions, critical_allergies, active_medications,
	emergency_contacts, primary_physician, insurance,
	special_instructions, dnr, organ_donor,
	qr_token_hash, qr_token_expiry, qr_generated_at,
	access_count, last_accessed_at, last_access_ip, updated_at`

// Upsert mantiene el singleton por paciente vía ON CONFLICT (patient_id).
func (r *emergencyRepo) Upsert(ctx context.Context, s emergency.Summary) error {
	conditions, err := toJSONB(s.CriticalConditions)
	if err != nil {
		return err
	}
	allergies, err := toJSONB(s.CriticalAllergies)
	if err != nil {
		return err
	}
	medications, err := toJSONB(s.ActiveMedications)
	if err != nil {
		return err
	}
	contacts, err := toJSONB(s.EmergencyContacts)
	if err != nil {
		return err
	}
	insurance, err := toJSONB(s.Insurance)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO emergency_summaries
			(id, patient_id, name, blood_group, date_of_birth, gender,
			 critical_conditions, critical_allergies, active_medications,
			 emergency_contacts, primary_physician, insurance,
			 special_instructions, dnr, organ_donor,
			 qr_token_hash, qr_token_expiry, qr_generated_at,
			 access_count, last_accessed_at, last_access_ip, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		 ON CONFLICT (patient_id) DO UPDATE SET
			name = EXCLUDED.name,
			blood_group = EXCLUDED.blood_group,
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			critical_conditions = EXCLUDED.critical_conditions,
			critical_allergies = EXCLUDED.critical_allergies,
			active_medications = EXCLUDED.active_medications,
			emergency_contacts = EXCLUDED.emergency_contacts,
			primary_physician = EXCLUDED.primary_physician,
			insurance = EXCLUDED.insurance,
			special_instructions = EXCLUDED.special_instructions,
			dnr = EXCLUDED.dnr,
			organ_donor = EXCLUDED.organ_donor,
			qr_token_hash = EXCLUDED.qr_token_hash,
			qr_token_expiry = EXCLUDED.qr_token_expiry,
			qr_generated_at = EXCLUDED.qr_generated_at,
			access_count = EXCLUDED.access_count,
			last_accessed_at = EXCLUDED.last_accessed_at,
			last_access_ip = EXCLUDED.last_access_ip,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.PatientID, s.Name, s.BloodGroup, nullTime(s.DateOfBirth), s.Gender,
		conditions, allergies, medications,
		contacts, s.PrimaryPhysician, insurance,
		s.SpecialInstructions, s.DNR, s.OrganDonor,
		s.QRTokenHash, nullTime(s.QRTokenExpiry), nullTime(s.QRGeneratedAt),
		s.AccessCount, nullTime(s.LastAccessedAt), s.LastAccessIP, s.UpdatedAt)
	return err
}

func (r *emergencyRepo) GetByPatient(ctx context.Context, patientID string) (emergency.Summary, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM emergency_summaries WHERE patient_id = $1`,
		patientID)
	return scanSummary(row)
}

func (r *emergencyRepo) GetByTokenHash(ctx context.Context, hash string) (emergency.Summary, error) {
	if hash == "" {
		return emergency.Summary{}, emergency.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM emergency_summaries WHERE qr_token_hash = $1`,
		hash)
	return scanSummary(row)
}

func (r *emergencyRepo) RecordAccess(ctx context.Context, patientID string, at time.Time, ip string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE emergency_summaries
		 SET access_count = access_count + 1, last_accessed_at = $2, last_access_ip = $3
		 WHERE patient_id = $1`,
		patientID, at, ip)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return emergency.ErrNotFound
	}
	return nil
}

// ClearToken es la revocación dura del QR: borra hash y vigencia.
func (r *emergencyRepo) ClearToken(ctx context.Context, patientID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE emergency_summaries
		 SET qr_token_hash = '', qr_token_expiry = NULL, qr_generated_at = NULL
		 WHERE patient_id = $1`,
		patientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return emergency.ErrNotFound
	}
	return nil
}

func scanSummary(row rowScanner) (emergency.Summary, error) {
	var (
		s              emergency.Summary
		dob            sql.NullTime
		conditions     []byte
		allergies      []byte
		medications    []byte
		contacts       []byte
		insurance      []byte
		tokenExpiry    sql.NullTime
		generatedAt    sql.NullTime
		lastAccessedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.PatientID, &s.Name, &s.BloodGroup, &dob, &s.Gender,
		&conditions, &allergies, &medications,
		&contacts, &s.PrimaryPhysician, &insurance,
		&s.SpecialInstructions, &s.DNR, &s.OrganDonor,
		&s.QRTokenHash, &tokenExpiry, &generatedAt,
		&s.AccessCount, &lastAccessedAt, &s.LastAccessIP, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emergency.Summary{}, emergency.ErrNotFound
		}
		return emergency.Summary{}, err
	}

	if err := fromJSONB(conditions, &s.CriticalConditions); err != nil {
		return emergency.Summary{}, err
	}
	if err := fromJSONB(allergies, &s.CriticalAllergies); err != nil {
		return emergency.Summary{}, err
	}
	if err := fromJSONB(medications, &s.ActiveMedications); err != nil {
		return emergency.Summary{}, err
	}
	if err := fromJSONB(contacts, &s.EmergencyContacts); err != nil {
		return emergency.Summary{}, err
	}
	if err := fromJSONB(insurance, &s.Insurance); err != nil {
		return emergency.Summary{}, err
	}
	s.DateOfBirth = timePtr(dob)
	s.QRTokenExpiry = timePtr(tokenExpiry)
	s.QRGeneratedAt = timePtr(generatedAt)
	s.LastAccessedAt = timePtr(lastAccessedAt)
	return s, nil
}
