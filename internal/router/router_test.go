package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"patient-health-history/internal/router"
)

// -------------------------
// Helpers
// -------------------------

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(router.NewRouter(router.Options{Logger: zerolog.Nop()}))
	t.Cleanup(ts.Close)
	return ts
}

// doReq hace un request con identidad dev inyectada por headers.
// userID vacío => request anónimo.
func doReq(t *testing.T, baseURL, method, path, userID, role string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Debug-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-Debug-User-Role", role)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func createPatient(t *testing.T, baseURL, userID, name string) string {
	t.Helper()
	status, body := doReq(t, baseURL, http.MethodPost, "/patients", userID, "", map[string]any{
		"name":          name,
		"date_of_birth": "1990-06-15",
		"blood_group":   "O+",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create patient: status %d: %s", status, body)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode patient: %v", err)
	}
	return resp.ID
}

func appendRecord(t *testing.T, baseURL, userID, patientID string) {
	t.Helper()
	status, body := doReq(t, baseURL, http.MethodPost, "/patients/"+patientID+"/records", userID, "", map[string]any{
		"snapshot": map[string]any{
			"conditions": []map[string]any{
				{"name": "asthma", "severity": "moderate"},
				{"name": "heart failure", "severity": "severe"},
			},
			"medications": []map[string]any{
				{"name": "salbutamol", "dosage": "100mcg", "is_active": true},
			},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("append record: status %d: %s", status, body)
	}
}

// -------------------------
// Tests
// -------------------------

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, body := doReq(t, ts.URL, http.MethodGet, "/health", "", "", nil, nil)
	if status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health: status %d body %q", status, body)
	}
}

func TestGuardedRecordAccessFlow(t *testing.T) {
	ts := newTestServer(t)

	patientID := createPatient(t, ts.URL, "user-owner", "Ana García")
	appendRecord(t, ts.URL, "user-owner", patientID)

	// el dueño lee su propio historial sin token
	status, body := doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("owner read latest: status %d: %s", status, body)
	}
	var rec struct {
		Version  int  `json:"version"`
		IsLatest bool `json:"is_latest"`
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Version != 1 || !rec.IsLatest {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// un tercero sin token no pasa
	status, _ = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-doc", "doctor", nil, nil)
	if status != http.StatusForbidden {
		t.Fatalf("stranger without token: expected 403, got %d", status)
	}

	// el dueño emite un capability token para el doctor
	status, body = doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/access-tokens", "user-owner", "", map[string]any{
		"granted_to_id":   "user-doc",
		"granted_to_role": "doctor",
		"access_level":    "read",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("generate token: status %d: %s", status, body)
	}
	var issued struct {
		Token string `json:"token"`
		Grant struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"grant"`
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if issued.Token == "" || issued.Grant.Status != "active" {
		t.Fatalf("unexpected issued token: %+v", issued)
	}

	// con el token, el doctor lee el historial
	tokenHeader := map[string]string{"X-Access-Token": issued.Token}
	status, body = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-doc", "doctor", nil, tokenHeader)
	if status != http.StatusOK {
		t.Fatalf("grantee read with token: status %d: %s", status, body)
	}

	// token read-only: el append del doctor se rechaza
	status, _ = doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/records", "user-doc", "doctor", map[string]any{
		"snapshot": map[string]any{},
	}, tokenHeader)
	if status != http.StatusForbidden {
		t.Fatalf("write with read token: expected 403, got %d", status)
	}

	// botón de pánico: revocar todos los grants del paciente
	status, body = doReq(t, ts.URL, http.MethodDelete, "/patients/"+patientID+"/access-tokens", "user-owner", "", map[string]any{
		"reason": "panic button",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("revoke all: status %d: %s", status, body)
	}
	var bulk struct {
		Revoked int `json:"revoked"`
	}
	if err := json.Unmarshal(body, &bulk); err != nil {
		t.Fatalf("decode revoke: %v", err)
	}
	if bulk.Revoked != 1 {
		t.Fatalf("expected 1 revoked grant, got %d", bulk.Revoked)
	}

	// el token revocado ya no abre nada
	status, _ = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-doc", "doctor", nil, tokenHeader)
	if status != http.StatusForbidden {
		t.Fatalf("read with revoked token: expected 403, got %d", status)
	}

	// todos los intentos quedaron auditados, incluidos los fallidos
	status, body = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/access-history", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("access history: status %d: %s", status, body)
	}
	var history struct {
		Items []struct {
			AccessorID string `json:"accessor_id"`
			Success    bool   `json:"success"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.Total < 5 {
		t.Fatalf("expected audit entries for every attempt, got %d", history.Total)
	}
	failed := 0
	for _, e := range history.Items {
		if !e.Success {
			failed++
		}
	}
	if failed < 3 {
		t.Fatalf("expected denied attempts audited, got %d failed of %d", failed, history.Total)
	}
}

func TestTokenReplacementKeepsOneActive(t *testing.T) {
	ts := newTestServer(t)

	patientID := createPatient(t, ts.URL, "user-owner", "Ana García")

	issue := func() {
		status, body := doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/access-tokens", "user-owner", "", map[string]any{
			"granted_to_id": "user-doc",
		}, nil)
		if status != http.StatusCreated {
			t.Fatalf("generate token: status %d: %s", status, body)
		}
	}
	issue()
	issue()

	status, body := doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/access-tokens", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list tokens: status %d: %s", status, body)
	}
	var tokens []struct {
		Status       string `json:"status"`
		RevokeReason string `json:"revoke_reason"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(tokens))
	}

	active, replaced := 0, 0
	for _, tok := range tokens {
		if tok.Status == "active" {
			active++
		}
		if tok.RevokeReason == "Replaced by new token" {
			replaced++
		}
	}
	if active != 1 || replaced != 1 {
		t.Fatalf("expected one active and one replaced grant, got %+v", tokens)
	}
}

func TestEmergencyQRFlow(t *testing.T) {
	ts := newTestServer(t)

	patientID := createPatient(t, ts.URL, "user-owner", "Ana García")
	appendRecord(t, ts.URL, "user-owner", patientID)

	// generar QR
	status, body := doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/emergency/qr", "user-owner", "", map[string]any{
		"expiry_hours": 24,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("generate qr: status %d: %s", status, body)
	}
	var cred struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &cred); err != nil {
		t.Fatalf("decode credential: %v", err)
	}
	if cred.Token == "" {
		t.Fatalf("expected plaintext token")
	}

	// acceso público anónimo con el token
	status, body = doReq(t, ts.URL, http.MethodGet, "/public/emergency/"+cred.Token, "", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("public view: status %d: %s", status, body)
	}
	var view struct {
		Name               string   `json:"name"`
		CriticalConditions []string `json:"critical_conditions"`
		ActiveMedications  []struct {
			Name string `json:"name"`
		} `json:"active_medications"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Name != "Ana García" {
		t.Fatalf("unexpected view: %+v", view)
	}
	// vista reducida: solo lo severo y la medicación activa
	if len(view.CriticalConditions) != 1 || view.CriticalConditions[0] != "heart failure" {
		t.Fatalf("expected only severe conditions, got %v", view.CriticalConditions)
	}
	if len(view.ActiveMedications) != 1 {
		t.Fatalf("expected active medications only, got %v", view.ActiveMedications)
	}

	// token desconocido: mismo 404 genérico
	status, _ = doReq(t, ts.URL, http.MethodGet, "/public/emergency/bogus-token", "", "", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown token: expected 404, got %d", status)
	}

	// revocación hard: el mismo token deja de existir
	status, _ = doReq(t, ts.URL, http.MethodDelete, "/patients/"+patientID+"/emergency/qr", "user-owner", "", nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("revoke qr: expected 204, got %d", status)
	}
	status, _ = doReq(t, ts.URL, http.MethodGet, "/public/emergency/"+cred.Token, "", "", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("revoked token: expected 404, got %d", status)
	}
}

func TestBookingVitalsAndTrends(t *testing.T) {
	ts := newTestServer(t)

	patientID := createPatient(t, ts.URL, "user-owner", "Ana García")

	// el dueño emite un token read_write de vitals para el provider
	status, body := doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/access-tokens", "user-owner", "", map[string]any{
		"granted_to_id":     "prov-1",
		"granted_to_role":   "provider",
		"access_level":      "read_write",
		"allowed_resources": []string{"vitals"},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("generate token: status %d: %s", status, body)
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	tokenHeader := map[string]string{"X-Access-Token": issued.Token}
	status, body = doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/bookings/bkg-1/vitals", "prov-1", "provider", map[string]any{
		"vitals": []map[string]any{
			{"type": "heart_rate", "value": 72, "unit": "bpm"},
			{"type": "heart_rate", "value": 130, "unit": "bpm"},
			{"type": "temperature", "value": 36.8, "unit": "°C"},
		},
	}, tokenHeader)
	if status != http.StatusCreated {
		t.Fatalf("booking vitals: status %d: %s", status, body)
	}
	var recorded []struct {
		Type             string `json:"type"`
		AbnormalityLevel string `json:"abnormality_level"`
		BookingID        string `json:"booking_id"`
	}
	if err := json.Unmarshal(body, &recorded); err != nil {
		t.Fatalf("decode vitals: %v", err)
	}
	if len(recorded) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(recorded))
	}
	for _, m := range recorded {
		if m.BookingID != "bkg-1" {
			t.Fatalf("expected booking provenance, got %+v", m)
		}
	}

	// el dueño consulta la tendencia
	status, body = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/vitals/trends?type=heart_rate&bucket=day", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("trends: status %d: %s", status, body)
	}
	var points []struct {
		Count         int     `json:"count"`
		Avg           float64 `json:"avg"`
		AbnormalCount int     `json:"abnormal_count"`
	}
	if err := json.Unmarshal(body, &points); err != nil {
		t.Fatalf("decode trends: %v", err)
	}
	if len(points) != 1 || points[0].Count != 2 {
		t.Fatalf("expected one daily bucket with 2 readings, got %+v", points)
	}
	if points[0].Avg != 101 || points[0].AbnormalCount != 1 {
		t.Fatalf("unexpected aggregation: %+v", points[0])
	}
}

func TestPendingReviewFlow(t *testing.T) {
	ts := newTestServer(t)

	patientID := createPatient(t, ts.URL, "user-owner", "Ana García")

	// versión que pide revisión: queda pendiente, no se publica
	status, body := doReq(t, ts.URL, http.MethodPost, "/patients/"+patientID+"/records", "user-owner", "", map[string]any{
		"snapshot":    map[string]any{},
		"reviewer_id": "user-doc",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("append pending record: status %d: %s", status, body)
	}
	var pending struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if pending.Status != "pending_review" {
		t.Fatalf("expected pending_review, got %s", pending.Status)
	}

	status, _ = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-owner", "", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("pending version must not be the approved latest, got %d", status)
	}

	// el doctor ve su cola y aprueba
	status, body = doReq(t, ts.URL, http.MethodGet, "/records/pending-reviews", "user-doc", "doctor", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("pending reviews: status %d: %s", status, body)
	}
	var queue struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if queue.Total != 1 {
		t.Fatalf("expected 1 pending review, got %d", queue.Total)
	}

	status, body = doReq(t, ts.URL, http.MethodPost, "/records/"+pending.ID+"/review", "user-doc", "doctor", map[string]any{
		"approve": true,
		"notes":   "ok",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("resolve review: status %d: %s", status, body)
	}

	// aprobada, ya es la versión publicada
	status, _ = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/records/latest", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("approved version should be readable, got %d", status)
	}

	// un admin da de baja la versión
	status, body = doReq(t, ts.URL, http.MethodDelete, "/records/"+pending.ID, "user-admin", "admin", nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("soft delete: status %d: %s", status, body)
	}

	// todo el flujo de revisión quedó en el historial de accesos del paciente:
	// la lectura de la cola, la aprobación y el borrado
	status, body = doReq(t, ts.URL, http.MethodGet, "/patients/"+patientID+"/access-history", "user-owner", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("access history: status %d: %s", status, body)
	}
	var history struct {
		Items []struct {
			AccessorID string `json:"accessor_id"`
			Action     string `json:"action"`
			Success    bool   `json:"success"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	got := map[string]bool{}
	for _, e := range history.Items {
		if e.Success {
			got[e.AccessorID+"/"+e.Action] = true
		}
	}
	for _, want := range []string{"user-doc/read", "user-doc/update", "user-admin/delete"} {
		if !got[want] {
			t.Fatalf("expected audited entry %s, have %v", want, got)
		}
	}
}
