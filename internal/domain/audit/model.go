package audit

import "time"

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSearch Action = "search"
)

type ResourceType string

const (
	ResourceHealthRecord     ResourceType = "health_record"
	ResourceAccessToken      ResourceType = "access_token"
	ResourceEmergencySummary ResourceType = "emergency_summary"
	ResourceVitals           ResourceType = "vitals"
	ResourcePatient          ResourceType = "patient"
)

// AccessLog es una entrada inmutable por intento de acceso, exitoso o no.
// Se crea una vez y nunca se muta; solo la purga por retención la elimina.
type AccessLog struct {
	ID string

	AccessorID   string
	AccessorRole string
	PatientID    string

	ResourceType ResourceType
	ResourceID   string
	Action       Action
	AccessReason string

	BookingID     string
	AccessTokenID string

	IPAddress string
	UserAgent string
	Endpoint  string
	Method    string

	Success      bool
	ErrorMessage string

	Timestamp time.Time
	ExpiresAt time.Time // retención: creación + N años
}

// AccessorSummary es el rollup por accessor dentro de una ventana.
type AccessorSummary struct {
	AccessorID    string
	AccessorRole  string
	Count         int
	LastAccess    time.Time
	ResourceTypes []ResourceType
	Actions       []Action
}

// Stats son los conteos facetados admin-wide.
type Stats struct {
	Total          int
	Succeeded      int
	Failed         int
	ByAction       map[Action]int
	ByResourceType map[ResourceType]int
	ByRole         map[string]int
	ByDay          map[string]int // clave YYYY-MM-DD
}
