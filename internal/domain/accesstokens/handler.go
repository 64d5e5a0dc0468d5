package accesstokens

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

func RegisterRoutes(r chi.Router, svc *Service, patientsSvc *patients.Service) {
	r.Route("/patients/{patientID}/access-tokens", func(tr chi.Router) {
		tr.Post("/", generateTokenHandler(svc, patientsSvc))
		tr.Get("/", listTokensHandler(svc, patientsSvc))
		tr.Delete("/", revokeAllPatientTokensHandler(svc, patientsSvc))
	})

	r.Post("/access-tokens/validate", validateTokenHandler(svc))
	r.Delete("/access-tokens/{tokenID}", revokeTokenHandler(svc, patientsSvc))
	r.Delete("/bookings/{bookingID}/access-tokens", revokeBookingTokensHandler(svc))
}

type generateTokenRequest struct {
	GrantedToID   string `json:"granted_to_id"`
	GrantedToRole string `json:"granted_to_role"`

	AccessLevel      AccessLevel `json:"access_level"`
	AllowedResources []Resource  `json:"allowed_resources"`

	BookingID string `json:"booking_id"`
	ExpiresAt string `json:"expires_at"` // RFC3339 opcional
	MaxUsage  int    `json:"max_usage"`
}

type tokenResponse struct {
	ID string `json:"id"`

	GrantedToID   string `json:"granted_to_id"`
	GrantedToRole string `json:"granted_to_role,omitempty"`
	PatientID     string `json:"patient_id"`

	AccessLevel      AccessLevel `json:"access_level"`
	AllowedResources []Resource  `json:"allowed_resources,omitempty"`

	GrantedByID string `json:"granted_by_id"`
	BookingID   string `json:"booking_id,omitempty"`

	Status    TokenStatus `json:"status"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`

	UsageCount int `json:"usage_count"`
	MaxUsage   int `json:"max_usage"`

	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type generatedTokenResponse struct {
	// Token es el plaintext; se entrega acá y nunca más.
	Token string        `json:"token"`
	Grant tokenResponse `json:"grant"`
}

// ownerOrAdmin: solo el dueño del perfil (o un admin) gestiona sus grants.
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

func generateTokenHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
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

		var req generateTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var expiresAt *time.Time
		if strings.TrimSpace(req.ExpiresAt) != "" {
			t, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
				return
			}
			expiresAt = &t
		}

		t, plaintext, err := svc.Generate(r.Context(), GrantInput{
			GrantedToID:      req.GrantedToID,
			GrantedToRole:    req.GrantedToRole,
			PatientID:        patientID,
			AccessLevel:      req.AccessLevel,
			AllowedResources: req.AllowedResources,
			GrantedByID:      claims.UserID,
			GrantedByRole:    string(claims.Role),
			BookingID:        req.BookingID,
			ExpiresAt:        expiresAt,
			MaxUsage:         req.MaxUsage,
		})
		if err != nil {
			switch {
			case err == ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			case err == ErrConflict:
				http.Error(w, "concurrent grant, retry", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, generatedTokenResponse{
			Token: plaintext,
			Grant: toTokenResponse(t, time.Now()),
		})
	}
}

func listTokensHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
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

		items, err := svc.ListByPatient(r.Context(), patientID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		out := make([]tokenResponse, 0, len(items))
		for _, t := range items {
			out = append(out, toTokenResponse(t, now))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid  bool           `json:"valid"`
	Reason Reason         `json:"reason,omitempty"`
	Grant  *tokenResponse `json:"grant,omitempty"`
}

// validateTokenHandler es la primera fase del protocolo: chequea sin
// consumir uso. Pensado para que otros servicios pre-validen un token.
func validateTokenHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req validateTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		v, err := svc.Validate(r.Context(), req.Token)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := validateTokenResponse{Valid: v.Valid, Reason: v.Reason}
		if v.Valid {
			t := toTokenResponse(v.Token, time.Now())
			resp.Grant = &t
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func revokeTokenHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tokenID := chi.URLParam(r, "tokenID")
		t, err := svc.repo.GetByID(r.Context(), tokenID)
		if err != nil {
			http.Error(w, "token not found", http.StatusNotFound)
			return
		}

		if status, msg := ownerOrAdmin(r, patientsSvc, claims, t.PatientID); msg != "" {
			http.Error(w, msg, status)
			return
		}

		var req revokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		revoked, err := svc.Revoke(r.Context(), tokenID, claims.UserID, string(claims.Role), req.Reason)
		if err != nil {
			switch {
			case err == ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			case err == ErrNotFound:
				http.Error(w, "token not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, toTokenResponse(revoked, time.Now()))
	}
}

type bulkRevokeResponse struct {
	Revoked int `json:"revoked"`
}

func revokeBookingTokensHandler(svc *Service) http.HandlerFunc {
	// Revocación en bloque al cerrar/cancelar un booking (admin o sistema).
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if claims.Role != auth.RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var req revokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		n, err := svc.RevokeBookingTokens(r.Context(), chi.URLParam(r, "bookingID"), claims.UserID, string(claims.Role), req.Reason)
		if err != nil {
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, bulkRevokeResponse{Revoked: n})
	}
}

func revokeAllPatientTokensHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
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

		var req revokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		n, err := svc.RevokeAllPatientTokens(r.Context(), patientID, claims.UserID, string(claims.Role), req.Reason)
		if err != nil {
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, bulkRevokeResponse{Revoked: n})
	}
}

func toTokenResponse(t AccessToken, now time.Time) tokenResponse {
	return tokenResponse{
		ID:               t.ID,
		GrantedToID:      t.GrantedToID,
		GrantedToRole:    t.GrantedToRole,
		PatientID:        t.PatientID,
		AccessLevel:      t.AccessLevel,
		AllowedResources: t.AllowedResources,
		GrantedByID:      t.GrantedByID,
		BookingID:        t.BookingID,
		Status:           t.StatusAt(now),
		ExpiresAt:        t.ExpiresAt,
		UsageCount:       t.UsageCount,
		MaxUsage:         t.MaxUsage,
		RevokedAt:        t.RevokedAt,
		RevokeReason:     t.RevokeReason,
		LastUsedAt:       t.LastUsedAt,
		CreatedAt:        t.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
