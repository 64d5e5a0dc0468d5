package records

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/domain/accesstokens"
	"patient-health-history/internal/domain/audit"
	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

// accessTokenHeader transporta el plaintext del capability token.
const accessTokenHeader = "X-Access-Token"

func RegisterRoutes(r chi.Router, svc *Service, patientsSvc *patients.Service, tokensSvc *accesstokens.Service, auditSvc *audit.Service) {
	g := guard{patients: patientsSvc, tokens: tokensSvc, audit: auditSvc}

	r.Route("/patients/{patientID}/records", func(rr chi.Router) {
		rr.Post("/", appendRecordHandler(svc, g))
		rr.Get("/latest", getLatestRecordHandler(svc, g))
		rr.Get("/history", getHistoryHandler(svc, g))
	})

	r.Get("/records/pending-reviews", pendingReviewsHandler(svc, g))
	r.Post("/records/{recordID}/review", resolveReviewHandler(svc, g))
	r.Delete("/records/{recordID}", softDeleteRecordHandler(svc, g))
}

// guard resuelve la autorización de acceso al historial:
// owner y admin pasan directo; el resto necesita un capability token
// válido (dos fases: Validate y luego RecordUsage). Cada intento,
// autorizado o no, deja exactamente una entrada de auditoría.
type guard struct {
	patients *patients.Service
	tokens   *accesstokens.Service
	audit    *audit.Service
}

type accessDecision struct {
	allowed bool
	status  int
	message string

	tokenID   string
	bookingID string
}

func (g guard) authorize(r *http.Request, claims auth.Claims, patientID string, res accesstokens.Resource, write bool) accessDecision {
	ownerUser, err := g.patients.OwnerUserOf(r.Context(), patientID)
	if err != nil {
		return accessDecision{status: http.StatusNotFound, message: "patient not found"}
	}

	if claims.UserID == ownerUser || claims.Role == auth.RoleAdmin {
		return accessDecision{allowed: true, status: http.StatusOK}
	}

	plaintext := strings.TrimSpace(r.Header.Get(accessTokenHeader))
	if plaintext == "" {
		return accessDecision{status: http.StatusForbidden, message: "access token required"}
	}

	v, err := g.tokens.Validate(r.Context(), plaintext)
	if err != nil {
		return accessDecision{status: http.StatusInternalServerError, message: "internal error"}
	}
	if !v.Valid {
		return accessDecision{status: http.StatusForbidden, message: string(v.Reason)}
	}
	if v.Token.PatientID != patientID || v.Token.GrantedToID != claims.UserID {
		return accessDecision{status: http.StatusForbidden, message: "token does not grant access"}
	}
	if !v.Token.Allows(res) {
		return accessDecision{status: http.StatusForbidden, message: "resource not allowed"}
	}
	if write && v.Token.AccessLevel == accesstokens.AccessRead {
		return accessDecision{status: http.StatusForbidden, message: "write not allowed"}
	}

	// Segunda fase: consumir uso recién cuando el acceso quedó autorizado.
	if _, err := g.tokens.RecordUsage(r.Context(), plaintext, clientIP(r)); err != nil {
		return accessDecision{status: http.StatusInternalServerError, message: "internal error"}
	}

	return accessDecision{
		allowed:   true,
		status:    http.StatusOK,
		tokenID:   v.Token.ID,
		bookingID: v.Token.BookingID,
	}
}

// logAccess escribe la entrada única del intento. El resultado del audit
// nunca altera la respuesta al cliente.
func (g guard) logAccess(r *http.Request, claims auth.Claims, patientID, resourceID string, action audit.Action, d accessDecision) {
	_, _ = g.audit.Log(r.Context(), audit.Entry{
		AccessorID:    claims.UserID,
		AccessorRole:  string(claims.Role),
		PatientID:     patientID,
		ResourceType:  audit.ResourceHealthRecord,
		ResourceID:    resourceID,
		Action:        action,
		BookingID:     d.bookingID,
		AccessTokenID: d.tokenID,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
		Endpoint:      r.URL.Path,
		Method:        r.Method,
		Success:       d.allowed,
		ErrorMessage:  d.message,
	})
}

type conditionPayload struct {
	Name        string     `json:"name"`
	Severity    Severity   `json:"severity"`
	DiagnosedAt *time.Time `json:"diagnosed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

type allergyPayload struct {
	Allergen string   `json:"allergen"`
	Severity Severity `json:"severity"`
	Reaction string   `json:"reaction,omitempty"`
}

type medicationPayload struct {
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Frequency string     `json:"frequency"`
	IsActive  bool       `json:"is_active"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type surgeryPayload struct {
	Name string `json:"name"`
	Year int    `json:"year"`
}

type familyConditionPayload struct {
	Relation  string `json:"relation"`
	Condition string `json:"condition"`
}

type immunizationPayload struct {
	Vaccine        string     `json:"vaccine"`
	AdministeredAt *time.Time `json:"administered_at,omitempty"`
}

type habitsPayload struct {
	Smoking string `json:"smoking,omitempty"`
	Alcohol string `json:"alcohol,omitempty"`
	Drugs   string `json:"drugs,omitempty"`
}

type lifestylePayload struct {
	Exercise string `json:"exercise,omitempty"`
	Diet     string `json:"diet,omitempty"`
	Sleep    string `json:"sleep,omitempty"`
}

type snapshotPayload struct {
	Conditions    []conditionPayload       `json:"conditions"`
	Allergies     []allergyPayload         `json:"allergies"`
	Medications   []medicationPayload      `json:"medications"`
	Surgeries     []surgeryPayload         `json:"surgeries"`
	FamilyHistory []familyConditionPayload `json:"family_history"`
	Immunizations []immunizationPayload    `json:"immunizations"`
	Habits        habitsPayload            `json:"habits"`
	Lifestyle     lifestylePayload         `json:"lifestyle"`
	Notes         string                   `json:"notes,omitempty"`
}

type reviewPayload struct {
	DoctorID   string     `json:"doctor_id"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

type appendRecordRequest struct {
	RecordType RecordType      `json:"record_type"` // vacío => initial/update automático
	Snapshot   snapshotPayload `json:"snapshot"`
	ReviewerID string          `json:"reviewer_id"` // opcional: doctor que debe revisar
	BookingID  string          `json:"booking_id"`
}

type fieldDeltaPayload struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type changeSummaryPayload struct {
	Conditions    fieldDeltaPayload `json:"conditions"`
	Allergies     fieldDeltaPayload `json:"allergies"`
	Medications   fieldDeltaPayload `json:"medications"`
	Surgeries     fieldDeltaPayload `json:"surgeries"`
	FamilyHistory fieldDeltaPayload `json:"family_history"`
	Immunizations fieldDeltaPayload `json:"immunizations"`

	HabitsChanged    bool `json:"habits_changed"`
	LifestyleChanged bool `json:"lifestyle_changed"`
}

type recordResponse struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`

	Version    int        `json:"version"`
	RecordType RecordType `json:"record_type"`
	Status     Status     `json:"status"`

	Snapshot snapshotPayload `json:"snapshot"`
	Source   sourcePayload   `json:"source"`
	Review   *reviewPayload  `json:"review,omitempty"`

	IsLatest          bool                  `json:"is_latest"`
	PreviousVersionID string                `json:"previous_version_id,omitempty"`
	Changes           *changeSummaryPayload `json:"changes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type sourcePayload struct {
	Type      SourceType `json:"type"`
	ActorID   string     `json:"actor_id"`
	ActorRole string     `json:"actor_role,omitempty"`
	BookingID string     `json:"booking_id,omitempty"`
}

type pagedRecordsResponse struct {
	Items []recordResponse `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func appendRecordHandler(svc *Service, g guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, accesstokens.ResourceHealthRecord, true)
		defer func() { g.logAccess(r, claims, patientID, "", audit.ActionCreate, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		var req appendRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		sourceType := SourcePatient
		if d.tokenID != "" {
			sourceType = SourceProvider
		}
		bookingID := strings.TrimSpace(req.BookingID)
		if bookingID == "" {
			bookingID = d.bookingID
		}
		if bookingID != "" {
			sourceType = SourceBooking
		}

		var review *Review
		if strings.TrimSpace(req.ReviewerID) != "" {
			review = &Review{DoctorID: strings.TrimSpace(req.ReviewerID)}
		}

		rec, err := svc.Append(r.Context(), patientID, AppendInput{
			RecordType: req.RecordType,
			Snapshot:   toSnapshot(req.Snapshot),
			Source: Source{
				Type:      sourceType,
				ActorID:   claims.UserID,
				ActorRole: string(claims.Role),
				BookingID: bookingID,
			},
			Review: review,
		})
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			switch {
			case err == ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			case err == ErrNotFound:
				http.Error(w, "patient not found", http.StatusNotFound)
			case err == ErrConflict:
				http.Error(w, "concurrent update, retry", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, toRecordResponse(rec))
	}
}

func getLatestRecordHandler(svc *Service, g guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, accesstokens.ResourceHealthRecord, false)
		defer func() { g.logAccess(r, claims, patientID, "", audit.ActionRead, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		rec, err := svc.GetLatestApproved(r.Context(), patientID)
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			if err == ErrNotFound || err == ErrInvalidInput {
				http.Error(w, "no approved record", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

func getHistoryHandler(svc *Service, g guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, accesstokens.ResourceHealthRecord, false)
		defer func() { g.logAccess(r, claims, patientID, "", audit.ActionRead, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		items, total, err := svc.VersionHistory(r.Context(), patientID, page, limit)
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]recordResponse, 0, len(items))
		for _, rec := range items {
			out = append(out, toRecordResponse(rec))
		}
		writeJSON(w, http.StatusOK, pagedRecordsResponse{Items: out, Total: total, Page: page, Limit: limit})
	}
}

func pendingReviewsHandler(svc *Service, g guard) http.HandlerFunc {
	// Cola del doctor autenticado. También acá cada intento queda auditado:
	// la cola devuelve snapshots completos, así que se registra una entrada
	// por cada paciente cuyo PHI salió en la página.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if claims.Role != auth.RoleDoctor && claims.Role != auth.RoleAdmin {
			g.logAccess(r, claims, "", "", audit.ActionRead, accessDecision{status: http.StatusForbidden, message: "forbidden"})
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		items, total, err := svc.PendingReviews(r.Context(), claims.UserID, page, limit)
		if err != nil {
			g.logAccess(r, claims, "", "", audit.ActionRead, accessDecision{status: http.StatusInternalServerError, message: err.Error()})
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		seen := map[string]struct{}{}
		for _, rec := range items {
			if _, dup := seen[rec.PatientID]; dup {
				continue
			}
			seen[rec.PatientID] = struct{}{}
			g.logAccess(r, claims, rec.PatientID, "", audit.ActionRead, accessDecision{allowed: true, status: http.StatusOK})
		}
		if len(items) == 0 {
			g.logAccess(r, claims, "", "", audit.ActionRead, accessDecision{allowed: true, status: http.StatusOK})
		}

		out := make([]recordResponse, 0, len(items))
		for _, rec := range items {
			out = append(out, toRecordResponse(rec))
		}
		writeJSON(w, http.StatusOK, pagedRecordsResponse{Items: out, Total: total, Page: page, Limit: limit})
	}
}

type resolveReviewRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

func resolveReviewHandler(svc *Service, g guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		recordID := chi.URLParam(r, "recordID")
		if claims.Role != auth.RoleDoctor {
			g.logAccess(r, claims, "", recordID, audit.ActionUpdate, accessDecision{status: http.StatusForbidden, message: "forbidden"})
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var req resolveReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		rec, err := svc.Resolve(r.Context(), recordID, claims.UserID, req.Approve, req.Notes)
		if err != nil {
			g.logAccess(r, claims, "", recordID, audit.ActionUpdate, accessDecision{message: err.Error()})
			switch {
			case err == ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			case err == ErrForbidden:
				http.Error(w, "forbidden", http.StatusForbidden)
			case err == ErrNotFound:
				http.Error(w, "record not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		g.logAccess(r, claims, rec.PatientID, rec.ID, audit.ActionUpdate, accessDecision{allowed: true, status: http.StatusOK})
		writeJSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

func softDeleteRecordHandler(svc *Service, g guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		recordID := chi.URLParam(r, "recordID")
		if claims.Role != auth.RoleAdmin {
			g.logAccess(r, claims, "", recordID, audit.ActionDelete, accessDecision{status: http.StatusForbidden, message: "forbidden"})
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// Se resuelve primero el registro para atribuir el audit al paciente.
		rec, err := svc.GetByID(r.Context(), recordID)
		if err != nil {
			g.logAccess(r, claims, "", recordID, audit.ActionDelete, accessDecision{message: err.Error()})
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}

		if err := svc.SoftDelete(r.Context(), recordID, claims.UserID); err != nil {
			g.logAccess(r, claims, rec.PatientID, rec.ID, audit.ActionDelete, accessDecision{message: err.Error()})
			switch {
			case err == ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			case err == ErrNotFound:
				http.Error(w, "record not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		g.logAccess(r, claims, rec.PatientID, rec.ID, audit.ActionDelete, accessDecision{allowed: true, status: http.StatusOK})
		w.WriteHeader(http.StatusNoContent)
	}
}

func toSnapshot(p snapshotPayload) Snapshot {
	s := Snapshot{
		Habits: Habits{
			Smoking: p.Habits.Smoking,
			Alcohol: p.Habits.Alcohol,
			Drugs:   p.Habits.Drugs,
		},
		Lifestyle: Lifestyle{
			Exercise: p.Lifestyle.Exercise,
			Diet:     p.Lifestyle.Diet,
			Sleep:    p.Lifestyle.Sleep,
		},
		Notes: p.Notes,
	}
	for _, c := range p.Conditions {
		s.Conditions = append(s.Conditions, Condition{
			Name: c.Name, Severity: c.Severity, DiagnosedAt: c.DiagnosedAt, Notes: c.Notes,
		})
	}
	for _, a := range p.Allergies {
		s.Allergies = append(s.Allergies, Allergy{
			Allergen: a.Allergen, Severity: a.Severity, Reaction: a.Reaction,
		})
	}
	for _, m := range p.Medications {
		s.Medications = append(s.Medications, Medication{
			Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency,
			IsActive: m.IsActive, StartedAt: m.StartedAt, EndedAt: m.EndedAt,
		})
	}
	for _, sg := range p.Surgeries {
		s.Surgeries = append(s.Surgeries, Surgery{Name: sg.Name, Year: sg.Year})
	}
	for _, f := range p.FamilyHistory {
		s.FamilyHistory = append(s.FamilyHistory, FamilyCondition{Relation: f.Relation, Condition: f.Condition})
	}
	for _, im := range p.Immunizations {
		s.Immunizations = append(s.Immunizations, Immunization{Vaccine: im.Vaccine, AdministeredAt: im.AdministeredAt})
	}
	return s
}

func fromSnapshot(s Snapshot) snapshotPayload {
	p := snapshotPayload{
		Conditions:    make([]conditionPayload, 0, len(s.Conditions)),
		Allergies:     make([]allergyPayload, 0, len(s.Allergies)),
		Medications:   make([]medicationPayload, 0, len(s.Medications)),
		Surgeries:     make([]surgeryPayload, 0, len(s.Surgeries)),
		FamilyHistory: make([]familyConditionPayload, 0, len(s.FamilyHistory)),
		Immunizations: make([]immunizationPayload, 0, len(s.Immunizations)),
		Habits: habitsPayload{
			Smoking: s.Habits.Smoking,
			Alcohol: s.Habits.Alcohol,
			Drugs:   s.Habits.Drugs,
		},
		Lifestyle: lifestylePayload{
			Exercise: s.Lifestyle.Exercise,
			Diet:     s.Lifestyle.Diet,
			Sleep:    s.Lifestyle.Sleep,
		},
		Notes: s.Notes,
	}
	for _, c := range s.Conditions {
		p.Conditions = append(p.Conditions, conditionPayload{
			Name: c.Name, Severity: c.Severity, DiagnosedAt: c.DiagnosedAt, Notes: c.Notes,
		})
	}
	for _, a := range s.Allergies {
		p.Allergies = append(p.Allergies, allergyPayload{
			Allergen: a.Allergen, Severity: a.Severity, Reaction: a.Reaction,
		})
	}
	for _, m := range s.Medications {
		p.Medications = append(p.Medications, medicationPayload{
			Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency,
			IsActive: m.IsActive, StartedAt: m.StartedAt, EndedAt: m.EndedAt,
		})
	}
	for _, sg := range s.Surgeries {
		p.Surgeries = append(p.Surgeries, surgeryPayload{Name: sg.Name, Year: sg.Year})
	}
	for _, f := range s.FamilyHistory {
		p.FamilyHistory = append(p.FamilyHistory, familyConditionPayload{Relation: f.Relation, Condition: f.Condition})
	}
	for _, im := range s.Immunizations {
		p.Immunizations = append(p.Immunizations, immunizationPayload{Vaccine: im.Vaccine, AdministeredAt: im.AdministeredAt})
	}
	return p
}

func toRecordResponse(rec HealthRecord) recordResponse {
	out := recordResponse{
		ID:         rec.ID,
		PatientID:  rec.PatientID,
		Version:    rec.Version,
		RecordType: rec.RecordType,
		Status:     rec.Status,
		Snapshot:   fromSnapshot(rec.Snapshot),
		Source: sourcePayload{
			Type:      rec.Source.Type,
			ActorID:   rec.Source.ActorID,
			ActorRole: rec.Source.ActorRole,
			BookingID: rec.Source.BookingID,
		},
		IsLatest:          rec.IsLatest,
		PreviousVersionID: rec.PreviousVersionID,
		CreatedAt:         rec.CreatedAt,
	}
	if rec.Review != nil {
		out.Review = &reviewPayload{
			DoctorID:   rec.Review.DoctorID,
			ReviewedAt: rec.Review.ReviewedAt,
			Notes:      rec.Review.Notes,
		}
	}
	if rec.Changes != nil && !rec.Changes.Empty() {
		out.Changes = &changeSummaryPayload{
			Conditions:       fieldDeltaPayload(rec.Changes.Conditions),
			Allergies:        fieldDeltaPayload(rec.Changes.Allergies),
			Medications:      fieldDeltaPayload(rec.Changes.Medications),
			Surgeries:        fieldDeltaPayload(rec.Changes.Surgeries),
			FamilyHistory:    fieldDeltaPayload(rec.Changes.FamilyHistory),
			Immunizations:    fieldDeltaPayload(rec.Changes.Immunizations),
			HabitsChanged:    rec.Changes.HabitsChanged,
			LifestyleChanged: rec.Changes.LifestyleChanged,
		}
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

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
