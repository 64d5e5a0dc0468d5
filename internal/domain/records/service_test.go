package records

import (
	"context"
	"errors"
	"testing"
	"time"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

var errRepoNotFound = errors.New("repo: not found")

type testRepo struct {
	byID map[string]HealthRecord
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]HealthRecord{}}
}

func (r *testRepo) AppendVersion(ctx context.Context, rec HealthRecord, observedLatestID string) error {
	currentID := ""
	for _, existing := range r.byID {
		if existing.PatientID == rec.PatientID && existing.IsLatest {
			currentID = existing.ID
			break
		}
	}
	if currentID != observedLatestID {
		return ErrConflict
	}
	if currentID != "" {
		prev := r.byID[currentID]
		prev.IsLatest = false
		r.byID[currentID] = prev
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (HealthRecord, error) {
	rec, ok := r.byID[id]
	if !ok {
		return HealthRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *testRepo) GetLatest(ctx context.Context, patientID string) (HealthRecord, error) {
	for _, rec := range r.byID {
		if rec.PatientID == patientID && rec.IsLatest {
			return rec, nil
		}
	}
	return HealthRecord{}, ErrNotFound
}

func (r *testRepo) GetLatestApproved(ctx context.Context, patientID string) (HealthRecord, error) {
	var winner HealthRecord
	has := false
	for _, rec := range r.byID {
		if rec.PatientID != patientID || rec.Status != StatusApproved || rec.IsDeleted() {
			continue
		}
		if !has || rec.Version > winner.Version {
			winner = rec
			has = true
		}
	}
	if !has {
		return HealthRecord{}, ErrNotFound
	}
	return winner, nil
}

func (r *testRepo) ListVersions(ctx context.Context, patientID string, page, limit int) ([]HealthRecord, int, error) {
	out := make([]HealthRecord, 0)
	for _, rec := range r.byID {
		if rec.PatientID == patientID && !rec.IsDeleted() {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

func (r *testRepo) ListPendingReview(ctx context.Context, doctorID string, page, limit int) ([]HealthRecord, int, error) {
	out := make([]HealthRecord, 0)
	for _, rec := range r.byID {
		if rec.Status != StatusPendingReview || rec.IsDeleted() {
			continue
		}
		if rec.Review == nil || rec.Review.DoctorID != doctorID {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (r *testRepo) SetReview(ctx context.Context, id string, status Status, review Review) error {
	rec, ok := r.byID[id]
	if !ok {
		return errRepoNotFound
	}
	rec.Status = status
	rec.Review = &review
	r.byID[id] = rec
	return nil
}

func (r *testRepo) SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error {
	rec, ok := r.byID[id]
	if !ok {
		return errRepoNotFound
	}
	rec.DeletedAt = &at
	rec.DeletedBy = deletedBy
	r.byID[id] = rec
	return nil
}

// conflictingRepo simula perder la carrera: el primer AppendVersion
// inserta una versión competidora y devuelve ErrConflict.
type conflictingRepo struct {
	*testRepo
	competitor HealthRecord
	raced      bool
}

func (r *conflictingRepo) AppendVersion(ctx context.Context, rec HealthRecord, observedLatestID string) error {
	if !r.raced {
		r.raced = true
		if err := r.testRepo.AppendVersion(ctx, r.competitor, observedLatestID); err != nil {
			return err
		}
		return ErrConflict
	}
	return r.testRepo.AppendVersion(ctx, rec, observedLatestID)
}

type testDirectory struct {
	known map[string]bool
}

func (d *testDirectory) Exists(ctx context.Context, patientID string) (bool, error) {
	return d.known[patientID], nil
}

func newTestDirectory(ids ...string) *testDirectory {
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}
	return &testDirectory{known: known}
}

type testCipher struct{}

func (testCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (testCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errors.New("bad ciphertext")
	}
	return ciphertext[4:], nil
}

// -------------------------
// Tests
// -------------------------

func TestService_Append_FirstVersion(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Snapshot: Snapshot{
			Conditions: []Condition{{Name: "asthma", Severity: SeverityModerate}},
		},
		Source: Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}
	if rec.RecordType != RecordTypeInitial {
		t.Fatalf("expected record type initial, got %s", rec.RecordType)
	}
	if rec.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", rec.Status)
	}
	if !rec.IsLatest || rec.PreviousVersionID != "" {
		t.Fatalf("expected head with empty previous, got latest=%v prev=%q", rec.IsLatest, rec.PreviousVersionID)
	}
	if rec.Changes != nil {
		t.Fatalf("first version must not carry a change summary")
	}
	if rec.CreatedAt != now {
		t.Fatalf("expected CreatedAt to be now")
	}
}

func TestService_Append_ChainsVersions(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	v1, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Snapshot: Snapshot{Conditions: []Condition{{Name: "asthma", Severity: SeverityModerate}}},
		Source:   Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append v1 error: %v", err)
	}

	v2, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Snapshot: Snapshot{
			Conditions: []Condition{
				{Name: "asthma", Severity: SeverityModerate},
				{Name: "hypertension", Severity: SeveritySevere},
			},
		},
		Source: Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append v2 error: %v", err)
	}

	if v2.Version != 2 {
		t.Fatalf("expected version 2, got %d", v2.Version)
	}
	if v2.RecordType != RecordTypeUpdate {
		t.Fatalf("expected record type update, got %s", v2.RecordType)
	}
	if v2.PreviousVersionID != v1.ID {
		t.Fatalf("expected previous %s, got %s", v1.ID, v2.PreviousVersionID)
	}
	if v2.Changes == nil || v2.Changes.Conditions.Added != 1 {
		t.Fatalf("expected change summary with 1 condition added, got %#v", v2.Changes)
	}

	// exactamente un head por paciente
	heads := 0
	for _, rec := range repo.byID {
		if rec.IsLatest {
			heads++
		}
	}
	if heads != 1 {
		t.Fatalf("expected exactly 1 head, got %d", heads)
	}

	stored1, _ := repo.GetByID(context.Background(), v1.ID)
	if stored1.IsLatest {
		t.Fatalf("expected v1 superseded")
	}
}

func TestService_Append_RetriesOnConflict(t *testing.T) {
	inner := newTestRepo()
	competitor := HealthRecord{
		ID:        "competitor-v1",
		PatientID: "pat-1",
		Version:   1,
		Status:    StatusApproved,
		IsLatest:  true,
		CreatedAt: time.Now(),
	}
	repo := &conflictingRepo{testRepo: inner, competitor: competitor}
	svc := NewService(repo, newTestDirectory("pat-1"))

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Snapshot: Snapshot{},
		Source:   Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append should retry after conflict, got error: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("expected version 2 after losing the race, got %d", rec.Version)
	}
	if rec.PreviousVersionID != "competitor-v1" {
		t.Fatalf("expected chain onto the competitor head, got %q", rec.PreviousVersionID)
	}
	if rec.RecordType != RecordTypeUpdate {
		t.Fatalf("expected record type update after retry, got %s", rec.RecordType)
	}
}

func TestService_Append_UnknownPatient(t *testing.T) {
	svc := NewService(newTestRepo(), newTestDirectory())

	_, err := svc.Append(context.Background(), "ghost", AppendInput{
		Source: Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Append_PendingWhenReviewerAssigned(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Source: Source{Type: SourceProvider, ActorID: "prov-1"},
		Review: &Review{DoctorID: "doc-1"},
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if rec.Status != StatusPendingReview {
		t.Fatalf("expected pending_review, got %s", rec.Status)
	}

	pending, _, err := svc.PendingReviews(context.Background(), "doc-1", 1, 20)
	if err != nil {
		t.Fatalf("PendingReviews error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rec.ID {
		t.Fatalf("expected the pending version in doc-1 queue, got %#v", pending)
	}
}

func TestService_Resolve_ApproveSetsReviewedAt(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Source: Source{Type: SourceProvider, ActorID: "prov-1"},
		Review: &Review{DoctorID: "doc-1"},
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), rec.ID, "doc-1", true, "looks fine")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", resolved.Status)
	}
	if resolved.Review == nil || resolved.Review.ReviewedAt == nil || !resolved.Review.ReviewedAt.Equal(now) {
		t.Fatalf("expected ReviewedAt set, got %#v", resolved.Review)
	}
}

func TestService_Resolve_WrongDoctorRejected(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Source: Source{Type: SourceProvider, ActorID: "prov-1"},
		Review: &Review{DoctorID: "doc-1"},
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if _, err := svc.Resolve(context.Background(), rec.ID, "doc-2", true, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for wrong doctor, got %v", err)
	}

	// el revisor asignado sí puede cerrar
	if _, err := svc.Resolve(context.Background(), rec.ID, "doc-1", true, ""); err != nil {
		t.Fatalf("assigned reviewer Resolve error: %v", err)
	}
}

func TestService_GetLatestApproved_SkipsPendingAndDeleted(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1"))

	v1, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Source: Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append v1 error: %v", err)
	}

	// v2 queda pendiente de revisión: no debe ganar como "latest approved"
	if _, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Source: Source{Type: SourceProvider, ActorID: "prov-1"},
		Review: &Review{DoctorID: "doc-1"},
	}); err != nil {
		t.Fatalf("Append v2 error: %v", err)
	}

	got, err := svc.GetLatestApproved(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("GetLatestApproved error: %v", err)
	}
	if got.ID != v1.ID {
		t.Fatalf("expected v1 as latest approved, got version %d", got.Version)
	}

	if err := svc.SoftDelete(context.Background(), v1.ID, "admin-1"); err != nil {
		t.Fatalf("SoftDelete error: %v", err)
	}
	if _, err := svc.GetLatestApproved(context.Background(), "pat-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deleting the only approved version, got %v", err)
	}
}

func TestService_NotesCipherRoundTrip(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, newTestDirectory("pat-1")).WithCipher(testCipher{})

	rec, err := svc.Append(context.Background(), "pat-1", AppendInput{
		Snapshot: Snapshot{Notes: "private note"},
		Source:   Source{Type: SourcePatient, ActorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}

	stored := repo.byID[rec.ID]
	if stored.Snapshot.Notes != "enc:private note" {
		t.Fatalf("expected encrypted notes at rest, got %q", stored.Snapshot.Notes)
	}

	got, err := svc.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.Snapshot.Notes != "private note" {
		t.Fatalf("expected decrypted notes on read, got %q", got.Snapshot.Notes)
	}
}

func TestComputeChanges_Cardinality(t *testing.T) {
	prev := Snapshot{
		Conditions:  []Condition{{Name: "a"}, {Name: "b"}},
		Medications: []Medication{{Name: "m1"}},
		Habits:      Habits{Smoking: "never"},
	}
	next := Snapshot{
		Conditions:  []Condition{{Name: "a"}},
		Medications: []Medication{{Name: "m1"}, {Name: "m2"}, {Name: "m3"}},
		Habits:      Habits{Smoking: "occasional"},
	}

	c := ComputeChanges(next, prev)
	if c.Conditions.Removed != 1 || c.Conditions.Added != 0 {
		t.Fatalf("expected 1 condition removed, got %#v", c.Conditions)
	}
	if c.Medications.Added != 2 {
		t.Fatalf("expected 2 medications added, got %#v", c.Medications)
	}
	if !c.HabitsChanged || c.LifestyleChanged {
		t.Fatalf("expected only habits changed, got %#v", c)
	}
	if c.Empty() {
		t.Fatalf("summary should not be empty")
	}
}

func TestRecordResponse_OmitsEmptyChangeSummary(t *testing.T) {
	rec := HealthRecord{ID: "rec-1", PatientID: "pat-1", Version: 2, Changes: &ChangeSummary{}}
	if out := toRecordResponse(rec); out.Changes != nil {
		t.Fatalf("expected empty change summary omitted, got %#v", out.Changes)
	}

	rec.Changes = &ChangeSummary{Conditions: FieldDelta{Added: 1}}
	if out := toRecordResponse(rec); out.Changes == nil {
		t.Fatalf("expected non-empty change summary in payload")
	}
}
