package patients

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/patients", func(pr chi.Router) {
		pr.Post("/", createPatientHandler(svc))
		pr.Get("/{patientID}", getPatientHandler(svc))
		pr.Put("/{patientID}", updatePatientHandler(svc))
	})
	r.Get("/me/patient", getMyPatientHandler(svc))
}

type contactRequest struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
}

type insuranceRequest struct {
	Provider     string `json:"provider"`
	PolicyNumber string `json:"policy_number"`
}

type createPatientRequest struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD opcional
	Gender      string `json:"gender"`
	BloodGroup  string `json:"blood_group"`

	EmergencyContacts []contactRequest `json:"emergency_contacts"`
	PrimaryPhysician  string           `json:"primary_physician"`
	Insurance         insuranceRequest `json:"insurance"`

	DNR        bool `json:"dnr"`
	OrganDonor bool `json:"organ_donor"`
}

type patientResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      Gender     `json:"gender"`
	BloodGroup  BloodGroup `json:"blood_group"`

	EmergencyContacts []Contact `json:"emergency_contacts"`
	PrimaryPhysician  string    `json:"primary_physician"`
	Insurance         Insurance `json:"insurance"`

	DNR        bool `json:"dnr"`
	OrganDonor bool `json:"organ_donor"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func createPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var dob *time.Time
		if strings.TrimSpace(req.DateOfBirth) != "" {
			t, err := time.Parse("2006-01-02", req.DateOfBirth)
			if err != nil {
				http.Error(w, "date_of_birth must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			dob = &t
		}

		contacts := make([]Contact, 0, len(req.EmergencyContacts))
		for _, c := range req.EmergencyContacts {
			contacts = append(contacts, Contact{Name: c.Name, Relation: c.Relation, Phone: c.Phone})
		}

		p, err := svc.Create(r.Context(), CreateInput{
			UserID:            claims.UserID,
			Name:              req.Name,
			DateOfBirth:       dob,
			Gender:            req.Gender,
			BloodGroup:        req.BloodGroup,
			EmergencyContacts: contacts,
			PrimaryPhysician:  req.PrimaryPhysician,
			Insurance: Insurance{
				Provider:     req.Insurance.Provider,
				PolicyNumber: req.Insurance.PolicyNumber,
			},
			DNR:        req.DNR,
			OrganDonor: req.OrganDonor,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, toPatientResponse(p))
	}
}

func getPatientHandler(svc *Service) http.HandlerFunc {
	// Owner, doctor o admin. El resto no ve ni el perfil demográfico.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		p, err := svc.GetByID(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}

		if p.UserID != claims.UserID &&
			claims.Role != auth.RoleAdmin && claims.Role != auth.RoleDoctor {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func updatePatientHandler(svc *Service) http.HandlerFunc {
	// Solo el dueño del perfil (o un admin) lo edita.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		current, err := svc.GetByID(r.Context(), patientID)
		if err != nil {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		if current.UserID != claims.UserID && claims.Role != auth.RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var req createPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var dob *time.Time
		if strings.TrimSpace(req.DateOfBirth) != "" {
			t, err := time.Parse("2006-01-02", req.DateOfBirth)
			if err != nil {
				http.Error(w, "date_of_birth must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			dob = &t
		}

		contacts := make([]Contact, 0, len(req.EmergencyContacts))
		for _, c := range req.EmergencyContacts {
			contacts = append(contacts, Contact{Name: c.Name, Relation: c.Relation, Phone: c.Phone})
		}

		p, err := svc.Update(r.Context(), patientID, UpdateInput{
			Name:              req.Name,
			DateOfBirth:       dob,
			Gender:            req.Gender,
			BloodGroup:        req.BloodGroup,
			EmergencyContacts: contacts,
			PrimaryPhysician:  req.PrimaryPhysician,
			Insurance: Insurance{
				Provider:     req.Insurance.Provider,
				PolicyNumber: req.Insurance.PolicyNumber,
			},
			DNR:        req.DNR,
			OrganDonor: req.OrganDonor,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func getMyPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		p, err := svc.GetByUserID(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func toPatientResponse(p Patient) patientResponse {
	return patientResponse{
		ID:                p.ID,
		UserID:            p.UserID,
		Name:              p.Name,
		DateOfBirth:       p.DateOfBirth,
		Gender:            p.Gender,
		BloodGroup:        p.BloodGroup,
		EmergencyContacts: p.EmergencyContacts,
		PrimaryPhysician:  p.PrimaryPhysician,
		Insurance:         p.Insurance,
		DNR:               p.DNR,
		OrganDonor:        p.OrganDonor,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
