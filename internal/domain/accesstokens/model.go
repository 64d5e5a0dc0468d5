package accesstokens

import "time"

type AccessLevel string

const (
	AccessRead      AccessLevel = "read"
	AccessReadWrite AccessLevel = "read_write"
	AccessFull      AccessLevel = "full"
)

// Resource que un token puede habilitar.
type Resource string

const (
	ResourceHealthRecord Resource = "health_record"
	ResourceVitals       Resource = "vitals"
	ResourceDocuments    Resource = "documents"
)

// TokenStatus es el estado derivado único del token, calculado al leer
// a partir de los hechos guardados. Revocado es terminal; expirado y
// agotado son funcionales (el row sigue con is_active=true).
type TokenStatus string

const (
	StatusActive    TokenStatus = "active"
	StatusExpired   TokenStatus = "expired"
	StatusExhausted TokenStatus = "exhausted"
	StatusRevoked   TokenStatus = "revoked"
)

// AccessToken es un capability grant: posesión del secreto (plaintext,
// entregado una sola vez) da acceso con alcance y vigencia acotados.
// Solo se persiste el hash SHA-256 del secreto. Nunca se borra el row:
// la revocación es soft para preservar el rastro de auditoría.
type AccessToken struct {
	ID        string
	TokenHash string

	GrantedToID   string
	GrantedToRole string
	PatientID     string

	AccessLevel      AccessLevel
	AllowedResources []Resource

	GrantedByID   string
	GrantedByRole string
	BookingID     string

	ExpiresAt *time.Time
	IsActive  bool

	UsageCount int
	MaxUsage   int // 0 = sin límite

	RevokedAt     *time.Time
	RevokedByID   string
	RevokedByType string
	RevokeReason  string

	LastUsedAt *time.Time
	LastUsedIP string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusAt deriva el estado único del token en un instante dado.
// No confía en is_active como única señal: expiración y agotamiento
// se recalculan siempre al leer.
func (t AccessToken) StatusAt(now time.Time) TokenStatus {
	if !t.IsActive {
		return StatusRevoked
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return StatusExpired
	}
	if t.MaxUsage > 0 && t.UsageCount >= t.MaxUsage {
		return StatusExhausted
	}
	return StatusActive
}

// Allows indica si el token habilita el resource pedido.
// Lista vacía significa "todos".
func (t AccessToken) Allows(res Resource) bool {
	if len(t.AllowedResources) == 0 {
		return true
	}
	for _, r := range t.AllowedResources {
		if r == res {
			return true
		}
	}
	return false
}
