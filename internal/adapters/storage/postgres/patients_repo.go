package postgres

import (
	"context"
	"database/sql"
	"errors"

	"patient-health-history/internal/domain/patients"
)

type patientsRepo struct {
	db *sql.DB
}

func NewPatientsRepo(db *sql.DB) patients.Repository {
	return &patientsRepo{db: db}
}

const patientColumns = `id, user_id, name, date_of_birth, gender, blood_group,
	emergency_contacts, primary_physician, insurance, dnr, organ_donor,
	created_at, updated_at`

func (r *patientsRepo) Create(ctx context.Context, p patients.Patient) error {
	contacts, err := toJSONB(p.EmergencyContacts)
	if err != nil {
		return err
	}
	insurance, err := toJSONB(p.Insurance)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO patients
			(id, user_id, name, date_of_birth, gender, blood_group,
			 emergency_contacts, primary_physician, insurance, dnr, organ_donor,
			 created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.UserID, p.Name, nullTime(p.DateOfBirth), p.Gender, p.BloodGroup,
		contacts, p.PrimaryPhysician, insurance, p.DNR, p.OrganDonor,
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *patientsRepo) Update(ctx context.Context, p patients.Patient) error {
	contacts, err := toJSONB(p.EmergencyContacts)
	if err != nil {
		return err
	}
	insurance, err := toJSONB(p.Insurance)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE patients SET
			user_id = $2, name = $3, date_of_birth = $4, gender = $5, blood_group = $6,
			emergency_contacts = $7, primary_physician = $8, insurance = $9,
			dnr = $10, organ_donor = $11, updated_at = $12
		 WHERE id = $1`,
		p.ID, p.UserID, p.Name, nullTime(p.DateOfBirth), p.Gender, p.BloodGroup,
		contacts, p.PrimaryPhysician, insurance, p.DNR, p.OrganDonor, p.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return patients.ErrNotFound
	}
	return nil
}

func (r *patientsRepo) GetByID(ctx context.Context, id string) (patients.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *patientsRepo) GetByUserID(ctx context.Context, userID string) (patients.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE user_id = $1`, userID)
	return scanPatient(row)
}

func scanPatient(row rowScanner) (patients.Patient, error) {
	var (
		p         patients.Patient
		dob       sql.NullTime
		contacts  []byte
		insurance []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &dob, &p.Gender, &p.BloodGroup,
		&contacts, &p.PrimaryPhysician, &insurance, &p.DNR, &p.OrganDonor,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return patients.Patient{}, patients.ErrNotFound
		}
		return patients.Patient{}, err
	}

	if err := fromJSONB(contacts, &p.EmergencyContacts); err != nil {
		return patients.Patient{}, err
	}
	if err := fromJSONB(insurance, &p.Insurance); err != nil {
		return patients.Patient{}, err
	}
	p.DateOfBirth = timePtr(dob)
	return p, nil
}
