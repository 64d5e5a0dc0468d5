package vitals

import "time"

// HealthMetric es una lectura inmutable: se crea una vez y nunca se muta
// ni se borra. La clasificación queda congelada con el rango snapshoteado
// al momento de la medición.
type HealthMetric struct {
	ID        string
	PatientID string

	Type  MetricType
	Value float64
	Unit  string

	MeasuredAt     time.Time
	MeasuredByID   string
	MeasuredByRole string
	BookingID      string
	Source         SourceType

	NormalRange      Range
	IsAbnormal       bool
	AbnormalityLevel AbnormalityLevel

	CreatedAt time.Time
}

// TrendPoint es un bucket agregado de la serie temporal.
type TrendPoint struct {
	BucketStart   time.Time
	Avg           float64
	Min           float64
	Max           float64
	Count         int
	AbnormalCount int
}
