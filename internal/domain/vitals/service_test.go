package vitals

import (
	"context"
	"errors"
	"testing"
	"time"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

type testRepo struct {
	metrics []HealthMetric
}

func newTestRepo() *testRepo {
	return &testRepo{}
}

func (r *testRepo) Insert(ctx context.Context, m HealthMetric) error {
	r.metrics = append(r.metrics, m)
	return nil
}

func (r *testRepo) ListByPatientType(ctx context.Context, patientID string, t MetricType, from, to time.Time) ([]HealthMetric, error) {
	out := make([]HealthMetric, 0)
	for _, m := range r.metrics {
		if m.PatientID == patientID && m.Type == t && !m.MeasuredAt.Before(from) && !m.MeasuredAt.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *testRepo) ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]HealthMetric, error) {
	out := make([]HealthMetric, 0)
	for _, m := range r.metrics {
		if m.PatientID == patientID && !m.MeasuredAt.Before(from) && !m.MeasuredAt.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

// -------------------------
// Tests
// -------------------------

func TestClassify_Bands(t *testing.T) {
	r := Range{Min: 70, Max: 100}

	cases := []struct {
		value float64
		want  AbnormalityLevel
	}{
		{50, LevelCriticalLow},   // < min*0.75
		{52.5, LevelLow},         // borde inferior de low
		{69.9, LevelLow},
		{70, LevelNormal},  // min inclusive
		{100, LevelNormal}, // max inclusive
		{110, LevelHigh},
		{125, LevelHigh},         // borde superior de high
		{126, LevelCriticalHigh}, // > max*1.25
	}
	for _, tc := range cases {
		if got := Classify(tc.value, r); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.value, got, tc.want)
		}
	}
}

func TestService_Record_SnapshotsRange(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	m, err := svc.Record(context.Background(), "pat-1", RecordInput{
		Type:         MetricHeartRate,
		Value:        130,
		Unit:         "bpm",
		MeasuredByID: "user-1",
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if m.NormalRange != (Range{Min: 60, Max: 100}) {
		t.Fatalf("expected configured range snapshotted, got %#v", m.NormalRange)
	}
	if !m.IsAbnormal || m.AbnormalityLevel != LevelCriticalHigh {
		t.Fatalf("expected critical_high for 130 bpm, got %#v", m)
	}
	if m.Source != SourceSelfReported {
		t.Fatalf("expected default source self_reported, got %s", m.Source)
	}

	// reconfigurar el rango no toca lo ya guardado
	if err := svc.SetRange(MetricHeartRate, Range{Min: 50, Max: 140}); err != nil {
		t.Fatalf("SetRange error: %v", err)
	}
	stored := repo.metrics[0]
	if stored.NormalRange != (Range{Min: 60, Max: 100}) || stored.AbnormalityLevel != LevelCriticalHigh {
		t.Fatalf("historical reading must keep its snapshotted range, got %#v", stored)
	}

	// pero sí afecta lecturas futuras
	m2, err := svc.Record(context.Background(), "pat-1", RecordInput{
		Type:         MetricHeartRate,
		Value:        130,
		MeasuredByID: "user-1",
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if m2.IsAbnormal {
		t.Fatalf("expected 130 normal under the new range, got %#v", m2)
	}
}

func TestService_Record_UnknownType(t *testing.T) {
	svc := NewService(newTestRepo())

	_, err := svc.Record(context.Background(), "pat-1", RecordInput{
		Type:         MetricType("shoe_size"),
		Value:        42,
		MeasuredByID: "user-1",
	})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}

	// con rango explícito sí se acepta
	m, err := svc.Record(context.Background(), "pat-1", RecordInput{
		Type:         MetricType("shoe_size"),
		Value:        42,
		MeasuredByID: "user-1",
		NormalRange:  &Range{Min: 35, Max: 47},
	})
	if err != nil {
		t.Fatalf("Record with explicit range error: %v", err)
	}
	if m.IsAbnormal {
		t.Fatalf("expected normal, got %#v", m)
	}
}

func TestService_RecordBookingVitals(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	out, err := svc.RecordBookingVitals(context.Background(), "pat-1", "bkg-1", "prov-1", []VitalInput{
		{Type: MetricHeartRate, Value: 72, Unit: "bpm"},
		{Type: MetricTemperature, Value: 36.8, Unit: "°C"},
	})
	if err != nil {
		t.Fatalf("RecordBookingVitals error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(out))
	}
	for _, m := range out {
		if m.BookingID != "bkg-1" || m.MeasuredByID != "prov-1" || m.Source != SourceProvider {
			t.Fatalf("expected booking provenance on every reading, got %#v", m)
		}
		if !m.MeasuredAt.Equal(now) {
			t.Fatalf("expected shared measurement time, got %v", m.MeasuredAt)
		}
	}

	if _, err := svc.RecordBookingVitals(context.Background(), "pat-1", "", "prov-1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_Trends_Buckets(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	add := func(at time.Time, value float64) {
		repo.metrics = append(repo.metrics, HealthMetric{
			PatientID:  "pat-1",
			Type:       MetricHeartRate,
			Value:      value,
			MeasuredAt: at,
			IsAbnormal: Classify(value, Range{Min: 60, Max: 100}) != LevelNormal,
		})
	}
	add(day1, 70)
	add(day1.Add(2*time.Hour), 90)
	add(day1.Add(4*time.Hour), 130) // abnormal
	add(day2, 80)

	points, err := svc.Trends(context.Background(), "pat-1", MetricHeartRate, BucketDay, day1.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("Trends error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", len(points))
	}

	b1 := points[0]
	if !b1.BucketStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected day-1 bucket start at midnight, got %v", b1.BucketStart)
	}
	if b1.Count != 3 || b1.Min != 70 || b1.Max != 130 {
		t.Fatalf("unexpected day-1 aggregation: %#v", b1)
	}
	wantAvg := (70.0 + 90.0 + 130.0) / 3.0
	if b1.Avg != wantAvg {
		t.Fatalf("expected avg %v, got %v", wantAvg, b1.Avg)
	}
	if b1.AbnormalCount != 1 {
		t.Fatalf("expected 1 abnormal reading in day 1, got %d", b1.AbnormalCount)
	}

	if points[1].Count != 1 || points[1].Avg != 80 {
		t.Fatalf("unexpected day-2 aggregation: %#v", points[1])
	}
}

func TestService_AggregatedTrends_GroupsByType(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo.metrics = []HealthMetric{
		{PatientID: "pat-1", Type: MetricHeartRate, Value: 70, MeasuredAt: at},
		{PatientID: "pat-1", Type: MetricTemperature, Value: 36.8, MeasuredAt: at},
	}

	byType, err := svc.AggregatedTrends(context.Background(), "pat-1", BucketDay, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("AggregatedTrends error: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 metric types, got %d", len(byType))
	}
	if len(byType[MetricHeartRate]) != 1 || byType[MetricHeartRate][0].Avg != 70 {
		t.Fatalf("unexpected heart rate series: %#v", byType[MetricHeartRate])
	}
}

func TestBucketStart_Week(t *testing.T) {
	// 2026-03-05 es jueves; la semana arranca el lunes 2026-03-02
	thu := time.Date(2026, 3, 5, 15, 30, 0, 0, time.UTC)
	got := bucketStart(thu, BucketWeek)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected week start %v, got %v", want, got)
	}
}
