package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"patient-health-history/internal/domain/records"
)

type recordsRepo struct {
	mu   sync.RWMutex
	byID map[string]records.HealthRecord
}

func NewRecordsRepo() records.Repository {
	return &recordsRepo{
		byID: make(map[string]records.HealthRecord),
	}
}

// AppendVersion es el write condicional del append. Todo ocurre bajo un
// solo lock: chequear que el head observado siga siendo el head real,
// bajarle is_latest e insertar la versión nueva. Si el head cambió,
// ErrConflict y el service reintenta.
func (r *recordsRepo) AppendVersion(ctx context.Context, rec records.HealthRecord, observedLatestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		return errors.New("record id required")
	}
	if _, exists := r.byID[rec.ID]; exists {
		return errors.New("record already exists")
	}

	currentID := ""
	for _, existing := range r.byID {
		if existing.PatientID == rec.PatientID && existing.IsLatest {
			currentID = existing.ID
			break
		}
	}

	if currentID != observedLatestID {
		return records.ErrConflict
	}

	if currentID != "" {
		prev := r.byID[currentID]
		prev.IsLatest = false
		r.byID[currentID] = prev
	}

	r.byID[rec.ID] = rec
	return nil
}

func (r *recordsRepo) GetByID(ctx context.Context, id string) (records.HealthRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return records.HealthRecord{}, records.ErrNotFound
	}
	return rec, nil
}

func (r *recordsRepo) GetLatest(ctx context.Context, patientID string) (records.HealthRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.byID {
		if rec.PatientID == patientID && rec.IsLatest {
			return rec, nil
		}
	}
	return records.HealthRecord{}, records.ErrNotFound
}

func (r *recordsRepo) GetLatestApproved(ctx context.Context, patientID string) (records.HealthRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var winner records.HealthRecord
	has := false
	for _, rec := range r.byID {
		if rec.PatientID != patientID || rec.Status != records.StatusApproved || rec.IsDeleted() {
			continue
		}
		if !has || rec.Version > winner.Version {
			winner = rec
			has = true
		}
	}
	if !has {
		return records.HealthRecord{}, records.ErrNotFound
	}
	return winner, nil
}

func (r *recordsRepo) ListVersions(ctx context.Context, patientID string, page, limit int) ([]records.HealthRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]records.HealthRecord, 0)
	for _, rec := range r.byID {
		if rec.PatientID == patientID && !rec.IsDeleted() {
			all = append(all, rec)
		}
	}

	// head primero
	sort.Slice(all, func(i, j int) bool {
		return all[i].Version > all[j].Version
	})

	return paginateRecords(all, page, limit)
}

func (r *recordsRepo) ListPendingReview(ctx context.Context, doctorID string, page, limit int) ([]records.HealthRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]records.HealthRecord, 0)
	for _, rec := range r.byID {
		if rec.Status != records.StatusPendingReview || rec.IsDeleted() {
			continue
		}
		if rec.Review == nil || rec.Review.DoctorID != doctorID {
			continue
		}
		all = append(all, rec)
	}

	// los más antiguos primero (cola de revisión)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return paginateRecords(all, page, limit)
}

func (r *recordsRepo) SetReview(ctx context.Context, id string, status records.Status, review records.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return records.ErrNotFound
	}
	rec.Status = status
	rec.Review = &review
	r.byID[id] = rec
	return nil
}

func (r *recordsRepo) SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return records.ErrNotFound
	}
	rec.DeletedAt = &at
	rec.DeletedBy = deletedBy
	r.byID[id] = rec
	return nil
}

func paginateRecords(all []records.HealthRecord, page, limit int) ([]records.HealthRecord, int, error) {
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []records.HealthRecord{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
