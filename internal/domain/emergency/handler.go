package emergency

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/domain/audit"
	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

func RegisterRoutes(r chi.Router, svc *Service, patientsSvc *patients.Service, auditSvc *audit.Service) {
	r.Route("/patients/{patientID}/emergency", func(er chi.Router) {
		er.Get("/", getSummaryHandler(svc, patientsSvc))
		er.Post("/qr", generateQRHandler(svc, patientsSvc))
		er.Delete("/qr", revokeQRHandler(svc, patientsSvc))
	})

	// Ruta pública del break-glass: sin auth, respuesta genérica ante
	// cualquier falla para no permitir enumeración de tokens.
	r.Get("/public/emergency/{token}", publicViewHandler(svc, auditSvc))
}

type medicationLineResponse struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

type summaryResponse struct {
	PatientID string `json:"patient_id"`

	Name        string              `json:"name"`
	BloodGroup  patients.BloodGroup `json:"blood_group,omitempty"`
	DateOfBirth *time.Time          `json:"date_of_birth,omitempty"`
	Gender      patients.Gender     `json:"gender,omitempty"`

	CriticalConditions []string                 `json:"critical_conditions"`
	CriticalAllergies  []string                 `json:"critical_allergies"`
	ActiveMedications  []medicationLineResponse `json:"active_medications"`

	EmergencyContacts []patients.Contact `json:"emergency_contacts"`
	PrimaryPhysician  string             `json:"primary_physician,omitempty"`
	Insurance         patients.Insurance `json:"insurance"`

	SpecialInstructions string `json:"special_instructions,omitempty"`
	DNR                 bool   `json:"dnr"`
	OrganDonor          bool   `json:"organ_donor"`

	HasActiveQR   bool       `json:"has_active_qr"`
	QRTokenExpiry *time.Time `json:"qr_token_expiry,omitempty"`

	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

type publicViewResponse struct {
	Name       string              `json:"name"`
	BloodGroup patients.BloodGroup `json:"blood_group,omitempty"`
	Age        int                 `json:"age"`
	Gender     patients.Gender     `json:"gender,omitempty"`

	CriticalConditions []string                 `json:"critical_conditions"`
	CriticalAllergies  []string                 `json:"critical_allergies"`
	ActiveMedications  []medicationLineResponse `json:"active_medications"`

	EmergencyContacts []patients.Contact `json:"emergency_contacts"`
	PrimaryPhysician  string             `json:"primary_physician,omitempty"`
	Insurance         patients.Insurance `json:"insurance"`

	SpecialInstructions string `json:"special_instructions,omitempty"`
	DNR                 bool   `json:"dnr"`
	OrganDonor          bool   `json:"organ_donor"`
}

type generateQRRequest struct {
	ExpiryHours int `json:"expiry_hours"` // 0 => default; fuera de rango se clampa
}

type qrCredentialResponse struct {
	// Token es el plaintext; se entrega acá y nunca más.
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
}

func ownerOrAdmin(r *http.Request, patientsSvc *patients.Service, claims auth.Claims, patientID string) (int, string) {
	ownerUser, err := patientsSvc.OwnerUserOf(r.Context(), patientID)
	if err != nil {
		return http.StatusNotFound, "patient not found"
	}
	if claims.UserID != ownerUser && claims.Role != auth.RoleAdmin {
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusOK, ""
}

func getSummaryHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		if status, msg := ownerOrAdmin(r, patientsSvc, claims, patientID); msg != "" {
			http.Error(w, msg, status)
			return
		}

		sum, err := svc.GetByPatient(r.Context(), patientID)
		if err != nil {
			http.Error(w, "emergency summary not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, toSummaryResponse(sum))
	}
}

func generateQRHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		if status, msg := ownerOrAdmin(r, patientsSvc, claims, patientID); msg != "" {
			http.Error(w, msg, status)
			return
		}

		var req generateQRRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		cred, err := svc.GenerateQRToken(r.Context(), patientID, time.Duration(req.ExpiryHours)*time.Hour)
		if err != nil {
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, qrCredentialResponse{
			Token:     cred.Token,
			ExpiresAt: cred.ExpiresAt,
			URL:       cred.URL,
		})
	}
}

func revokeQRHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		if status, msg := ownerOrAdmin(r, patientsSvc, claims, patientID); msg != "" {
			http.Error(w, msg, status)
			return
		}

		if err := svc.RevokeToken(r.Context(), patientID); err != nil {
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "emergency summary not found", http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func publicViewHandler(svc *Service, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		ip := clientIP(r)

		view, err := svc.GetPublicData(r.Context(), token, ip)

		// Una entrada por intento también acá; el accessor es anónimo.
		patientID := ""
		if err == nil {
			// La vista pública no expone el patient id; el audit lo necesita
			// y se resuelve de nuevo por hash sin revelarlo al caller.
			if sum, verr := svc.ValidateToken(r.Context(), token); verr == nil {
				patientID = sum.PatientID
			}
		}
		errMsg := ""
		if err != nil {
			errMsg = "invalid or expired token"
		}
		_, _ = auditSvc.Log(r.Context(), audit.Entry{
			AccessorID:   "emergency-qr",
			AccessorRole: "public",
			PatientID:    patientID,
			ResourceType: audit.ResourceEmergencySummary,
			Action:       audit.ActionRead,
			IPAddress:    ip,
			UserAgent:    r.UserAgent(),
			Endpoint:     r.URL.Path,
			Method:       r.Method,
			Success:      err == nil,
			ErrorMessage: errMsg,
		})

		if err != nil {
			// Genérico para cualquier causa.
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, toPublicViewResponse(view))
	}
}

func toSummaryResponse(s Summary) summaryResponse {
	return summaryResponse{
		PatientID:           s.PatientID,
		Name:                s.Name,
		BloodGroup:          s.BloodGroup,
		DateOfBirth:         s.DateOfBirth,
		Gender:              s.Gender,
		CriticalConditions:  s.CriticalConditions,
		CriticalAllergies:   s.CriticalAllergies,
		ActiveMedications:   toMedicationLines(s.ActiveMedications),
		EmergencyContacts:   s.EmergencyContacts,
		PrimaryPhysician:    s.PrimaryPhysician,
		Insurance:           s.Insurance,
		SpecialInstructions: s.SpecialInstructions,
		DNR:                 s.DNR,
		OrganDonor:          s.OrganDonor,
		HasActiveQR:         s.QRTokenHash != "",
		QRTokenExpiry:       s.QRTokenExpiry,
		AccessCount:         s.AccessCount,
		LastAccessedAt:      s.LastAccessedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func toPublicViewResponse(v PublicView) publicViewResponse {
	return publicViewResponse{
		Name:                v.Name,
		BloodGroup:          v.BloodGroup,
		Age:                 v.Age,
		Gender:              v.Gender,
		CriticalConditions:  v.CriticalConditions,
		CriticalAllergies:   v.CriticalAllergies,
		ActiveMedications:   toMedicationLines(v.ActiveMedications),
		EmergencyContacts:   v.EmergencyContacts,
		PrimaryPhysician:    v.PrimaryPhysician,
		Insurance:           v.Insurance,
		SpecialInstructions: v.SpecialInstructions,
		DNR:                 v.DNR,
		OrganDonor:          v.OrganDonor,
	}
}

func toMedicationLines(in []MedicationLine) []medicationLineResponse {
	out := make([]medicationLineResponse, 0, len(in))
	for _, m := range in {
		out = append(out, medicationLineResponse{Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency})
	}
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
