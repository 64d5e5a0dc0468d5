package vitals

type MetricType string

const (
	MetricHeartRate       MetricType = "heart_rate"
	MetricSystolicBP      MetricType = "systolic_bp"
	MetricDiastolicBP     MetricType = "diastolic_bp"
	MetricTemperature     MetricType = "temperature"
	MetricOxygenSat       MetricType = "oxygen_saturation"
	MetricRespiratoryRate MetricType = "respiratory_rate"
	MetricBloodGlucose    MetricType = "blood_glucose"
)

// Range es el rango normal [Min,Max] de un tipo de métrica.
type Range struct {
	Min float64
	Max float64
}

func (r Range) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// AbnormalityLevel gradúa la lectura con bandas fijas del 25%
// alrededor del rango normal guardado.
type AbnormalityLevel string

const (
	LevelCriticalLow  AbnormalityLevel = "critical_low"
	LevelLow          AbnormalityLevel = "low"
	LevelNormal       AbnormalityLevel = "normal"
	LevelHigh         AbnormalityLevel = "high"
	LevelCriticalHigh AbnormalityLevel = "critical_high"
)

type SourceType string

const (
	SourceSelfReported SourceType = "self_reported"
	SourceProvider     SourceType = "provider"
	SourceDevice       SourceType = "device"
)

// Bucket de agregación temporal para tendencias.
type Bucket string

const (
	BucketHour  Bucket = "hour"
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// Classify aplica la regla de bandas del 25%:
// value < min*0.75            => critical_low
// min*0.75 <= value < min     => low
// max < value <= max*1.25     => high
// value > max*1.25            => critical_high
// en el resto                 => normal
func Classify(value float64, r Range) AbnormalityLevel {
	switch {
	case value < r.Min*0.75:
		return LevelCriticalLow
	case value < r.Min:
		return LevelLow
	case value > r.Max*1.25:
		return LevelCriticalHigh
	case value > r.Max:
		return LevelHigh
	default:
		return LevelNormal
	}
}

// defaultRanges son los rangos configurados por tipo. Se snapshotean en el
// registro al momento de medir: cambios globales posteriores nunca
// reclasifican lecturas históricas.
var defaultRanges = map[MetricType]Range{
	MetricHeartRate:       {Min: 60, Max: 100},
	MetricSystolicBP:      {Min: 90, Max: 120},
	MetricDiastolicBP:     {Min: 60, Max: 80},
	MetricTemperature:     {Min: 36.1, Max: 37.2},
	MetricOxygenSat:       {Min: 95, Max: 100},
	MetricRespiratoryRate: {Min: 12, Max: 20},
	MetricBloodGlucose:    {Min: 70, Max: 100},
}
