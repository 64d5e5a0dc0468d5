package vitals

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownType  = errors.New("unknown metric type")
)

type Service struct {
	repo   Repository
	ranges map[MetricType]Range
	now    func() time.Time
}

func NewService(repo Repository) *Service {
	// copia local: el servicio puede reconfigurar rangos sin tocar el default global
	ranges := make(map[MetricType]Range, len(defaultRanges))
	for k, v := range defaultRanges {
		ranges[k] = v
	}
	return &Service{
		repo:   repo,
		ranges: ranges,
		now:    time.Now,
	}
}

// SetRange reconfigura el rango normal de un tipo. Solo afecta lecturas
// futuras: lo snapshoteado en registros históricos no se toca.
func (s *Service) SetRange(t MetricType, r Range) error {
	if r.Min >= r.Max {
		return ErrInvalidInput
	}
	s.ranges[t] = r
	return nil
}

type RecordInput struct {
	Type  MetricType
	Value float64
	Unit  string

	MeasuredAt     time.Time
	MeasuredByID   string
	MeasuredByRole string
	Source         SourceType

	// Opcional: si viene vacío se snapshotea el rango configurado del tipo.
	NormalRange *Range
}

// Record crea una lectura, snapshotea el rango vigente y la clasifica.
func (s *Service) Record(ctx context.Context, patientID string, in RecordInput) (HealthMetric, error) {
	return s.record(ctx, patientID, "", in)
}

// VitalInput es una lectura dentro de un set de vitales de booking.
type VitalInput struct {
	Type  MetricType
	Value float64
	Unit  string
}

// RecordBookingVitals registra el set de vitales tomado por un provider
// durante un booking. Todas comparten momento, actor y procedencia.
func (s *Service) RecordBookingVitals(ctx context.Context, patientID, bookingID, providerID string, vitalsIn []VitalInput) ([]HealthMetric, error) {
	patientID = strings.TrimSpace(patientID)
	bookingID = strings.TrimSpace(bookingID)
	providerID = strings.TrimSpace(providerID)
	if patientID == "" || bookingID == "" || providerID == "" || len(vitalsIn) == 0 {
		return nil, ErrInvalidInput
	}

	measuredAt := s.now()
	out := make([]HealthMetric, 0, len(vitalsIn))
	for _, v := range vitalsIn {
		m, err := s.record(ctx, patientID, bookingID, RecordInput{
			Type:           v.Type,
			Value:          v.Value,
			Unit:           v.Unit,
			MeasuredAt:     measuredAt,
			MeasuredByID:   providerID,
			MeasuredByRole: "provider",
			Source:         SourceProvider,
		})
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, patientID, bookingID string, in RecordInput) (HealthMetric, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" || in.Type == "" {
		return HealthMetric{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.MeasuredByID) == "" {
		return HealthMetric{}, ErrInvalidInput
	}

	// Snapshot del rango al momento de medir (nunca se recalcula después).
	var normalRange Range
	if in.NormalRange != nil && !in.NormalRange.IsZero() {
		normalRange = *in.NormalRange
	} else {
		r, ok := s.ranges[in.Type]
		if !ok {
			return HealthMetric{}, ErrUnknownType
		}
		normalRange = r
	}
	if normalRange.Min >= normalRange.Max {
		return HealthMetric{}, ErrInvalidInput
	}

	measuredAt := in.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = s.now()
	}

	source := in.Source
	if source == "" {
		source = SourceSelfReported
	}

	level := Classify(in.Value, normalRange)

	m := HealthMetric{
		ID:               uuid.NewString(),
		PatientID:        patientID,
		Type:             in.Type,
		Value:            in.Value,
		Unit:             strings.TrimSpace(in.Unit),
		MeasuredAt:       measuredAt,
		MeasuredByID:     strings.TrimSpace(in.MeasuredByID),
		MeasuredByRole:   strings.TrimSpace(in.MeasuredByRole),
		BookingID:        bookingID,
		Source:           source,
		NormalRange:      normalRange,
		IsAbnormal:       level != LevelNormal,
		AbnormalityLevel: level,
		CreatedAt:        s.now(),
	}

	if err := s.repo.Insert(ctx, m); err != nil {
		return HealthMetric{}, err
	}
	return m, nil
}

// Trends agrega la serie de un tipo en buckets temporales.
func (s *Service) Trends(ctx context.Context, patientID string, t MetricType, bucket Bucket, from, to time.Time) ([]TrendPoint, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" || t == "" {
		return nil, ErrInvalidInput
	}
	from, to = s.normalizeWindow(from, to)

	items, err := s.repo.ListByPatientType(ctx, patientID, t, from, to)
	if err != nil {
		return nil, err
	}
	return aggregate(items, bucket), nil
}

// AggregatedTrends agrega todas las métricas del paciente, por tipo.
func (s *Service) AggregatedTrends(ctx context.Context, patientID string, bucket Bucket, from, to time.Time) (map[MetricType][]TrendPoint, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	from, to = s.normalizeWindow(from, to)

	items, err := s.repo.ListByPatient(ctx, patientID, from, to)
	if err != nil {
		return nil, err
	}

	byType := map[MetricType][]HealthMetric{}
	for _, m := range items {
		byType[m.Type] = append(byType[m.Type], m)
	}

	out := make(map[MetricType][]TrendPoint, len(byType))
	for t, ms := range byType {
		out[t] = aggregate(ms, bucket)
	}
	return out, nil
}

func (s *Service) normalizeWindow(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	return from, to
}

func aggregate(items []HealthMetric, bucket Bucket) []TrendPoint {
	if len(items) == 0 {
		return []TrendPoint{}
	}

	grouped := map[time.Time]*TrendPoint{}
	for _, m := range items {
		start := bucketStart(m.MeasuredAt, bucket)
		p, ok := grouped[start]
		if !ok {
			p = &TrendPoint{
				BucketStart: start,
				Min:         m.Value,
				Max:         m.Value,
			}
			grouped[start] = p
		}

		if m.Value < p.Min {
			p.Min = m.Value
		}
		if m.Value > p.Max {
			p.Max = m.Value
		}
		// Avg acumula la suma; se divide al final.
		p.Avg += m.Value
		p.Count++
		if m.IsAbnormal {
			p.AbnormalCount++
		}
	}

	out := make([]TrendPoint, 0, len(grouped))
	for _, p := range grouped {
		p.Avg = p.Avg / float64(p.Count)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out
}

func bucketStart(t time.Time, b Bucket) time.Time {
	t = t.UTC()
	switch b {
	case BucketHour:
		return t.Truncate(time.Hour)
	case BucketWeek:
		day := t.Truncate(24 * time.Hour)
		// semana ISO-ish: retroceder hasta lunes
		for day.Weekday() != time.Monday {
			day = day.Add(-24 * time.Hour)
		}
		return day
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // day
		return t.Truncate(24 * time.Hour)
	}
}
