package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

type testRepo struct {
	entries []AccessLog
}

func newTestRepo() *testRepo {
	return &testRepo{}
}

func (r *testRepo) Insert(ctx context.Context, e AccessLog) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *testRepo) ListByPatient(ctx context.Context, patientID string, page, limit int) ([]AccessLog, int, error) {
	out := make([]AccessLog, 0)
	for _, e := range r.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (r *testRepo) ListByAccessor(ctx context.Context, accessorID string, page, limit int) ([]AccessLog, int, error) {
	out := make([]AccessLog, 0)
	for _, e := range r.entries {
		if e.AccessorID == accessorID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (r *testRepo) ListByPatientSince(ctx context.Context, patientID string, since time.Time) ([]AccessLog, error) {
	out := make([]AccessLog, 0)
	for _, e := range r.entries {
		if e.PatientID == patientID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *testRepo) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]AccessLog, error) {
	out := make([]AccessLog, 0)
	for _, e := range r.entries {
		if !e.Success && !e.Timestamp.Before(since) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *testRepo) ListBetween(ctx context.Context, from, to time.Time) ([]AccessLog, error) {
	out := make([]AccessLog, 0)
	for _, e := range r.entries {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *testRepo) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	kept := r.entries[:0]
	purged := 0
	for _, e := range r.entries {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		} else {
			purged++
		}
	}
	r.entries = kept
	return purged, nil
}

func newTestService(repo *testRepo) *Service {
	return NewService(repo, zerolog.Nop(), 0)
}

// -------------------------
// Tests
// -------------------------

func TestService_Log_FillsRetention(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	e, err := svc.Log(context.Background(), Entry{
		AccessorID:   "doc-1",
		AccessorRole: "doctor",
		PatientID:    "pat-1",
		ResourceType: ResourceHealthRecord,
		Action:       ActionRead,
		Success:      true,
	})
	if err != nil {
		t.Fatalf("Log error: %v", err)
	}
	if e.ID == "" || !e.Timestamp.Equal(now) {
		t.Fatalf("expected id and timestamp filled, got %#v", e)
	}
	if !e.ExpiresAt.Equal(now.AddDate(DefaultRetentionYears, 0, 0)) {
		t.Fatalf("expected retention of %d years, got %v", DefaultRetentionYears, e.ExpiresAt)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(repo.entries))
	}
}

func TestService_Log_RequiresAccessor(t *testing.T) {
	svc := newTestService(newTestRepo())

	_, err := svc.Log(context.Background(), Entry{
		ResourceType: ResourceHealthRecord,
		Action:       ActionRead,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_PatientAccessSummary(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	log := func(accessor, role string, res ResourceType, act Action, age time.Duration) {
		repo.entries = append(repo.entries, AccessLog{
			AccessorID:   accessor,
			AccessorRole: role,
			PatientID:    "pat-1",
			ResourceType: res,
			Action:       act,
			Timestamp:    now.Add(-age),
		})
	}

	log("doc-1", "doctor", ResourceHealthRecord, ActionRead, time.Hour)
	log("doc-1", "doctor", ResourceHealthRecord, ActionRead, 2*time.Hour)
	log("doc-1", "doctor", ResourceVitals, ActionCreate, 3*time.Hour)
	log("nurse-1", "provider", ResourceVitals, ActionRead, time.Hour)
	// fuera de la ventana: no cuenta
	log("doc-1", "doctor", ResourceHealthRecord, ActionRead, 40*24*time.Hour)

	sums, err := svc.PatientAccessSummary(context.Background(), "pat-1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PatientAccessSummary error: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 accessors, got %d", len(sums))
	}

	// más accesos primero
	top := sums[0]
	if top.AccessorID != "doc-1" || top.Count != 3 {
		t.Fatalf("expected doc-1 with 3 accesses first, got %#v", top)
	}
	if len(top.ResourceTypes) != 2 || len(top.Actions) != 2 {
		t.Fatalf("expected deduped resource/action lists, got %#v", top)
	}
	if !top.LastAccess.Equal(now.Add(-time.Hour)) {
		t.Fatalf("expected most recent access kept, got %v", top.LastAccess)
	}
}

func TestService_AccessStats(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	repo.entries = []AccessLog{
		{AccessorRole: "doctor", ResourceType: ResourceHealthRecord, Action: ActionRead, Success: true, Timestamp: day1},
		{AccessorRole: "doctor", ResourceType: ResourceVitals, Action: ActionCreate, Success: true, Timestamp: day1},
		{AccessorRole: "public", ResourceType: ResourceEmergencySummary, Action: ActionRead, Success: false, Timestamp: day2},
	}

	stats, err := svc.AccessStats(context.Background(), day1.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("AccessStats error: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected totals: %#v", stats)
	}
	if stats.ByAction[ActionRead] != 2 || stats.ByRole["doctor"] != 2 {
		t.Fatalf("unexpected facets: %#v", stats)
	}
	if stats.ByDay["2026-03-01"] != 2 || stats.ByDay["2026-03-02"] != 1 {
		t.Fatalf("unexpected per-day buckets: %#v", stats.ByDay)
	}
}

func TestService_AccessStats_InvertedRange(t *testing.T) {
	svc := newTestService(newTestRepo())

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := svc.AccessStats(context.Background(), from, from.Add(-time.Hour)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestService_PurgeExpired(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	repo.entries = []AccessLog{
		{ID: "old", ExpiresAt: now.Add(-time.Hour)},
		{ID: "live", ExpiresAt: now.Add(time.Hour)},
	}

	n, err := svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if len(repo.entries) != 1 || repo.entries[0].ID != "live" {
		t.Fatalf("expected only live entry kept, got %#v", repo.entries)
	}
}
