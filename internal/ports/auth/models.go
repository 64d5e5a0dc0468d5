package auth

// Role del caller ya resuelto por la capa de identidad externa.
type Role string

const (
	RolePatient   Role = "patient"
	RoleDoctor    Role = "doctor"
	RoleNurse     Role = "nurse"
	RoleCaregiver Role = "caregiver"
	RoleAdmin     Role = "admin"
)

// Claims representa la identidad extraída del token de sesión.
type Claims struct {
	UserID string
	Role   Role
	Email  string
}
