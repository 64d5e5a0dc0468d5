package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

func RegisterRoutes(r chi.Router, svc *Service, patientsSvc *patients.Service) {
	r.Get("/patients/{patientID}/access-history", patientHistoryHandler(svc, patientsSvc))
	r.Get("/patients/{patientID}/access-summary", patientSummaryHandler(svc, patientsSvc))
	r.Get("/me/access-history", accessorHistoryHandler(svc))

	r.Route("/admin/audit", func(ar chi.Router) {
		ar.Get("/failed", failedAttemptsHandler(svc))
		ar.Get("/stats", statsHandler(svc))
	})
}

type accessLogResponse struct {
	ID string `json:"id"`

	AccessorID   string `json:"accessor_id"`
	AccessorRole string `json:"accessor_role,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`

	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Action       Action       `json:"action"`
	AccessReason string       `json:"access_reason,omitempty"`

	BookingID     string `json:"booking_id,omitempty"`
	AccessTokenID string `json:"access_token_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Method    string `json:"method,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type pagedLogsResponse struct {
	Items []accessLogResponse `json:"items"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

type accessorSummaryResponse struct {
	AccessorID    string         `json:"accessor_id"`
	AccessorRole  string         `json:"accessor_role,omitempty"`
	Count         int            `json:"count"`
	LastAccess    time.Time      `json:"last_access"`
	ResourceTypes []ResourceType `json:"resource_types"`
	Actions       []Action       `json:"actions"`
}

type statsResponse struct {
	Total          int                  `json:"total"`
	Succeeded      int                  `json:"succeeded"`
	Failed         int                  `json:"failed"`
	ByAction       map[Action]int       `json:"by_action"`
	ByResourceType map[ResourceType]int `json:"by_resource_type"`
	ByRole         map[string]int       `json:"by_role"`
	ByDay          map[string]int       `json:"by_day"`
}

// ownerOrAdmin: el historial de accesos de un paciente lo ve su dueño o un admin.
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

func patientHistoryHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
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

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		items, total, err := svc.PatientAccessHistory(r.Context(), patientID, page, limit)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toPagedLogs(items, total, page, limit))
	}
}

func patientSummaryHandler(svc *Service, patientsSvc *patients.Service) http.HandlerFunc {
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

		window := time.Duration(queryInt(r, "window_days", 30)) * 24 * time.Hour

		items, err := svc.PatientAccessSummary(r.Context(), patientID, window)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]accessorSummaryResponse, 0, len(items))
		for _, s := range items {
			out = append(out, accessorSummaryResponse{
				AccessorID:    s.AccessorID,
				AccessorRole:  s.AccessorRole,
				Count:         s.Count,
				LastAccess:    s.LastAccess,
				ResourceTypes: s.ResourceTypes,
				Actions:       s.Actions,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func accessorHistoryHandler(svc *Service) http.HandlerFunc {
	// Lo que yo (accessor autenticado) fui accediendo.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		items, total, err := svc.AccessorHistory(r.Context(), claims.UserID, page, limit)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toPagedLogs(items, total, page, limit))
	}
}

func failedAttemptsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || claims.Role != auth.RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		window := time.Duration(queryInt(r, "window_hours", 24)) * time.Hour
		limit := queryInt(r, "limit", 100)

		items, err := svc.FailedAttempts(r.Context(), window, limit)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]accessLogResponse, 0, len(items))
		for _, e := range items {
			out = append(out, toLogResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func statsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || claims.Role != auth.RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var from, to time.Time
		if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "from must be RFC3339", http.StatusBadRequest)
				return
			}
			from = t
		}
		if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "to must be RFC3339", http.StatusBadRequest)
				return
			}
			to = t
		}

		stats, err := svc.AccessStats(r.Context(), from, to)
		if err != nil {
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, statsResponse{
			Total:          stats.Total,
			Succeeded:      stats.Succeeded,
			Failed:         stats.Failed,
			ByAction:       stats.ByAction,
			ByResourceType: stats.ByResourceType,
			ByRole:         stats.ByRole,
			ByDay:          stats.ByDay,
		})
	}
}

func toPagedLogs(items []AccessLog, total, page, limit int) pagedLogsResponse {
	out := make([]accessLogResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toLogResponse(e))
	}
	return pagedLogsResponse{Items: out, Total: total, Page: page, Limit: limit}
}

func toLogResponse(e AccessLog) accessLogResponse {
	return accessLogResponse{
		ID:            e.ID,
		AccessorID:    e.AccessorID,
		AccessorRole:  e.AccessorRole,
		PatientID:     e.PatientID,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Action:        e.Action,
		AccessReason:  e.AccessReason,
		BookingID:     e.BookingID,
		AccessTokenID: e.AccessTokenID,
		IPAddress:     e.IPAddress,
		Endpoint:      e.Endpoint,
		Method:        e.Method,
		Success:       e.Success,
		ErrorMessage:  e.ErrorMessage,
		Timestamp:     e.Timestamp,
	}
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
