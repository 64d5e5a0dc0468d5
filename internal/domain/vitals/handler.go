package vitals

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"patient-health-history/internal/domain/accesstokens"
	"patient-health-history/internal/domain/audit"
	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
)

const accessTokenHeader = "X-Access-Token"

func RegisterRoutes(r chi.Router, svc *Service, patientsSvc *patients.Service, tokensSvc *accesstokens.Service, auditSvc *audit.Service) {
	g := vitalsGuard{patients: patientsSvc, tokens: tokensSvc, audit: auditSvc}

	r.Route("/patients/{patientID}/vitals", func(vr chi.Router) {
		vr.Post("/", recordVitalHandler(svc, g))
		vr.Get("/trends", trendsHandler(svc, g))
		vr.Get("/trends/all", aggregatedTrendsHandler(svc, g))
	})
	r.Post("/patients/{patientID}/bookings/{bookingID}/vitals", recordBookingVitalsHandler(svc, g))
}

// vitalsGuard replica el flujo de acceso del historial sobre el resource
// vitals: owner/admin directo, el resto con capability token en dos fases.
type vitalsGuard struct {
	patients *patients.Service
	tokens   *accesstokens.Service
	audit    *audit.Service
}

type decision struct {
	allowed bool
	status  int
	message string

	tokenID   string
	bookingID string
}

func (g vitalsGuard) authorize(r *http.Request, claims auth.Claims, patientID string, write bool) decision {
	ownerUser, err := g.patients.OwnerUserOf(r.Context(), patientID)
	if err != nil {
		return decision{status: http.StatusNotFound, message: "patient not found"}
	}

	if claims.UserID == ownerUser || claims.Role == auth.RoleAdmin {
		return decision{allowed: true, status: http.StatusOK}
	}

	plaintext := strings.TrimSpace(r.Header.Get(accessTokenHeader))
	if plaintext == "" {
		return decision{status: http.StatusForbidden, message: "access token required"}
	}

	v, err := g.tokens.Validate(r.Context(), plaintext)
	if err != nil {
		return decision{status: http.StatusInternalServerError, message: "internal error"}
	}
	if !v.Valid {
		return decision{status: http.StatusForbidden, message: string(v.Reason)}
	}
	if v.Token.PatientID != patientID || v.Token.GrantedToID != claims.UserID {
		return decision{status: http.StatusForbidden, message: "token does not grant access"}
	}
	if !v.Token.Allows(accesstokens.ResourceVitals) {
		return decision{status: http.StatusForbidden, message: "resource not allowed"}
	}
	if write && v.Token.AccessLevel == accesstokens.AccessRead {
		return decision{status: http.StatusForbidden, message: "write not allowed"}
	}

	if _, err := g.tokens.RecordUsage(r.Context(), plaintext, clientIP(r)); err != nil {
		return decision{status: http.StatusInternalServerError, message: "internal error"}
	}

	return decision{allowed: true, status: http.StatusOK, tokenID: v.Token.ID, bookingID: v.Token.BookingID}
}

func (g vitalsGuard) logAccess(r *http.Request, claims auth.Claims, patientID string, action audit.Action, d decision) {
	_, _ = g.audit.Log(r.Context(), audit.Entry{
		AccessorID:    claims.UserID,
		AccessorRole:  string(claims.Role),
		PatientID:     patientID,
		ResourceType:  audit.ResourceVitals,
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

type recordVitalRequest struct {
	Type  MetricType `json:"type"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit"`

	MeasuredAt string     `json:"measured_at"` // RFC3339 opcional
	Source     SourceType `json:"source"`
}

type rangeResponse struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type metricResponse struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`

	Type  MetricType `json:"type"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit,omitempty"`

	MeasuredAt     time.Time  `json:"measured_at"`
	MeasuredByID   string     `json:"measured_by_id"`
	MeasuredByRole string     `json:"measured_by_role,omitempty"`
	BookingID      string     `json:"booking_id,omitempty"`
	Source         SourceType `json:"source"`

	NormalRange      rangeResponse    `json:"normal_range"`
	IsAbnormal       bool             `json:"is_abnormal"`
	AbnormalityLevel AbnormalityLevel `json:"abnormality_level"`

	CreatedAt time.Time `json:"created_at"`
}

type trendPointResponse struct {
	BucketStart   time.Time `json:"bucket_start"`
	Avg           float64   `json:"avg"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	Count         int       `json:"count"`
	AbnormalCount int       `json:"abnormal_count"`
}

func recordVitalHandler(svc *Service, g vitalsGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, true)
		defer func() { g.logAccess(r, claims, patientID, audit.ActionCreate, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		var req recordVitalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var measuredAt time.Time
		if strings.TrimSpace(req.MeasuredAt) != "" {
			t, err := time.Parse(time.RFC3339, req.MeasuredAt)
			if err != nil {
				http.Error(w, "measured_at must be RFC3339", http.StatusBadRequest)
				return
			}
			measuredAt = t
		}

		m, err := svc.Record(r.Context(), patientID, RecordInput{
			Type:           req.Type,
			Value:          req.Value,
			Unit:           req.Unit,
			MeasuredAt:     measuredAt,
			MeasuredByID:   claims.UserID,
			MeasuredByRole: string(claims.Role),
			Source:         req.Source,
		})
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			switch {
			case err == ErrInvalidInput || err == ErrUnknownType:
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, toMetricResponse(m))
	}
}

type bookingVitalsRequest struct {
	Vitals []struct {
		Type  MetricType `json:"type"`
		Value float64    `json:"value"`
		Unit  string     `json:"unit"`
	} `json:"vitals"`
}

func recordBookingVitalsHandler(svc *Service, g vitalsGuard) http.HandlerFunc {
	// Set de vitales tomado por el provider durante el booking.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		bookingID := chi.URLParam(r, "bookingID")

		d := g.authorize(r, claims, patientID, true)
		defer func() { g.logAccess(r, claims, patientID, audit.ActionCreate, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		var req bookingVitalsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		in := make([]VitalInput, 0, len(req.Vitals))
		for _, v := range req.Vitals {
			in = append(in, VitalInput{Type: v.Type, Value: v.Value, Unit: v.Unit})
		}

		items, err := svc.RecordBookingVitals(r.Context(), patientID, bookingID, claims.UserID, in)
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			switch {
			case err == ErrInvalidInput || err == ErrUnknownType:
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		out := make([]metricResponse, 0, len(items))
		for _, m := range items {
			out = append(out, toMetricResponse(m))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func trendsHandler(svc *Service, g vitalsGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, false)
		defer func() { g.logAccess(r, claims, patientID, audit.ActionRead, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		metricType := MetricType(strings.TrimSpace(r.URL.Query().Get("type")))
		bucket := Bucket(strings.TrimSpace(r.URL.Query().Get("bucket")))
		from, to, err := queryWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		points, err := svc.Trends(r.Context(), patientID, metricType, bucket, from, to)
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toTrendPoints(points))
	}
}

func aggregatedTrendsHandler(svc *Service, g vitalsGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		d := g.authorize(r, claims, patientID, false)
		defer func() { g.logAccess(r, claims, patientID, audit.ActionRead, d) }()
		if !d.allowed {
			http.Error(w, d.message, d.status)
			return
		}

		bucket := Bucket(strings.TrimSpace(r.URL.Query().Get("bucket")))
		from, to, err := queryWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		byType, err := svc.AggregatedTrends(r.Context(), patientID, bucket, from, to)
		if err != nil {
			d.allowed = false
			d.message = err.Error()
			if err == ErrInvalidInput {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make(map[MetricType][]trendPointResponse, len(byType))
		for t, points := range byType {
			out[t] = toTrendPoints(points)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func toMetricResponse(m HealthMetric) metricResponse {
	return metricResponse{
		ID:               m.ID,
		PatientID:        m.PatientID,
		Type:             m.Type,
		Value:            m.Value,
		Unit:             m.Unit,
		MeasuredAt:       m.MeasuredAt,
		MeasuredByID:     m.MeasuredByID,
		MeasuredByRole:   m.MeasuredByRole,
		BookingID:        m.BookingID,
		Source:           m.Source,
		NormalRange:      rangeResponse{Min: m.NormalRange.Min, Max: m.NormalRange.Max},
		IsAbnormal:       m.IsAbnormal,
		AbnormalityLevel: m.AbnormalityLevel,
		CreatedAt:        m.CreatedAt,
	}
}

func toTrendPoints(points []TrendPoint) []trendPointResponse {
	out := make([]trendPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, trendPointResponse{
			BucketStart:   p.BucketStart,
			Avg:           p.Avg,
			Min:           p.Min,
			Max:           p.Max,
			Count:         p.Count,
			AbnormalCount: p.AbnormalCount,
		})
	}
	return out
}

func queryWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, ErrInvalidInput
		}
		from = t
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, ErrInvalidInput
		}
		to = t
	}
	return from, to, nil
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
