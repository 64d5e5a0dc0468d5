package accesstokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"patient-health-history/internal/platform/secrets"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

var errRepoNotFound = errors.New("repo: not found")

type testRepo struct {
	byID map[string]AccessToken
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]AccessToken{}}
}

func (r *testRepo) Create(ctx context.Context, t AccessToken) error {
	for _, existing := range r.byID {
		if existing.IsActive && existing.PatientID == t.PatientID && existing.GrantedToID == t.GrantedToID {
			return ErrConflict
		}
	}
	r.byID[t.ID] = t
	return nil
}

func (r *testRepo) Update(ctx context.Context, t AccessToken) error {
	if _, ok := r.byID[t.ID]; !ok {
		return errRepoNotFound
	}
	r.byID[t.ID] = t
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (AccessToken, error) {
	t, ok := r.byID[id]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return t, nil
}

func (r *testRepo) GetByHash(ctx context.Context, hash string) (AccessToken, error) {
	for _, t := range r.byID {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return AccessToken{}, ErrNotFound
}

func (r *testRepo) GetActive(ctx context.Context, patientID, grantedToID string) (AccessToken, error) {
	for _, t := range r.byID {
		if t.IsActive && t.PatientID == patientID && t.GrantedToID == grantedToID {
			return t, nil
		}
	}
	return AccessToken{}, ErrNotFound
}

func (r *testRepo) ListByPatient(ctx context.Context, patientID string) ([]AccessToken, error) {
	out := make([]AccessToken, 0)
	for _, t := range r.byID {
		if t.PatientID == patientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *testRepo) ListActiveByBooking(ctx context.Context, bookingID string) ([]AccessToken, error) {
	out := make([]AccessToken, 0)
	for _, t := range r.byID {
		if t.IsActive && t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *testRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]AccessToken, error) {
	out := make([]AccessToken, 0)
	for _, t := range r.byID {
		if t.IsActive && t.PatientID == patientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func baseGrant() GrantInput {
	return GrantInput{
		GrantedToID:   "doc-1",
		GrantedToRole: "doctor",
		PatientID:     "pat-1",
		GrantedByID:   "user-1",
		GrantedByRole: "patient",
	}
}

// -------------------------
// Tests
// -------------------------

func TestService_Generate_StoresHashOnly(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	token, plaintext, err := svc.Generate(context.Background(), baseGrant())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if plaintext == "" {
		t.Fatalf("expected plaintext returned once")
	}
	if token.TokenHash != secrets.Hash(plaintext) {
		t.Fatalf("stored hash does not match plaintext hash")
	}

	stored := repo.byID[token.ID]
	if stored.TokenHash == plaintext {
		t.Fatalf("plaintext must never be persisted")
	}
	if !stored.IsActive || stored.AccessLevel != AccessRead {
		t.Fatalf("expected active read grant by default, got %#v", stored)
	}
}

func TestService_Generate_ReplacesActiveGrant(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	first, _, err := svc.Generate(context.Background(), baseGrant())
	if err != nil {
		t.Fatalf("first Generate error: %v", err)
	}
	second, _, err := svc.Generate(context.Background(), baseGrant())
	if err != nil {
		t.Fatalf("second Generate error: %v", err)
	}

	// a lo sumo un activo por (patient, grantee)
	active := 0
	for _, tok := range repo.byID {
		if tok.IsActive && tok.PatientID == "pat-1" && tok.GrantedToID == "doc-1" {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active grant, got %d", active)
	}

	old := repo.byID[first.ID]
	if old.IsActive {
		t.Fatalf("expected first grant revoked")
	}
	if old.RevokeReason != ReasonReplaced {
		t.Fatalf("expected revoke reason %q, got %q", ReasonReplaced, old.RevokeReason)
	}
	if old.RevokedByID != "user-1" || old.RevokedAt == nil {
		t.Fatalf("expected revocation metadata, got %#v", old)
	}
	if !repo.byID[second.ID].IsActive {
		t.Fatalf("expected second grant active")
	}
}

func TestService_Generate_RejectsPastExpiry(t *testing.T) {
	svc := NewService(newTestRepo())

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	in := baseGrant()
	past := now.Add(-time.Minute)
	in.ExpiresAt = &past

	if _, _, err := svc.Generate(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for past expiry, got %v", err)
	}
}

func TestService_Validate_DerivedStatuses(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	in := baseGrant()
	exp := now.Add(time.Hour)
	in.ExpiresAt = &exp

	token, plaintext, err := svc.Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	v, err := svc.Validate(context.Background(), plaintext)
	if err != nil || !v.Valid {
		t.Fatalf("expected valid token, got %#v err=%v", v, err)
	}
	if v.Token.ID != token.ID {
		t.Fatalf("expected matched token")
	}

	// vencido: is_active sigue en true, el estado se deriva al leer
	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	v, err = svc.Validate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if v.Valid || v.Reason != ReasonTokenExpired {
		t.Fatalf("expected TOKEN_EXPIRED, got %#v", v)
	}
	if !repo.byID[token.ID].IsActive {
		t.Fatalf("expiry must not flip is_active")
	}
}

func TestService_Validate_UnknownToken(t *testing.T) {
	svc := NewService(newTestRepo())

	v, err := svc.Validate(context.Background(), "no-such-token")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if v.Valid || v.Reason != ReasonTokenNotFound {
		t.Fatalf("expected TOKEN_NOT_FOUND, got %#v", v)
	}
}

func TestService_UsageLimitCycle(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	in := baseGrant()
	in.MaxUsage = 2

	_, plaintext, err := svc.Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	for i := 0; i < 2; i++ {
		v, err := svc.Validate(context.Background(), plaintext)
		if err != nil || !v.Valid {
			t.Fatalf("use %d: expected valid, got %#v err=%v", i+1, v, err)
		}
		if _, err := svc.RecordUsage(context.Background(), plaintext, "10.0.0.1"); err != nil {
			t.Fatalf("use %d: RecordUsage error: %v", i+1, err)
		}
	}

	v, err := svc.Validate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if v.Valid || v.Reason != ReasonUsageLimitExceeded {
		t.Fatalf("expected USAGE_LIMIT_EXCEEDED after 2 uses, got %#v", v)
	}
	if v.Token.UsageCount != 2 || v.Token.LastUsedIP != "10.0.0.1" {
		t.Fatalf("expected usage metadata, got %#v", v.Token)
	}
}

func TestService_Revoke_IsTerminalAndIdempotent(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	token, plaintext, err := svc.Generate(context.Background(), baseGrant())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	revoked, err := svc.Revoke(context.Background(), token.ID, "user-1", "patient", "no longer needed")
	if err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if revoked.IsActive || revoked.RevokeReason != "no longer needed" {
		t.Fatalf("expected revoked grant, got %#v", revoked)
	}

	// idempotente: segunda revocación no pisa la metadata original
	again, err := svc.Revoke(context.Background(), token.ID, "admin-1", "admin", "other reason")
	if err != nil {
		t.Fatalf("second Revoke error: %v", err)
	}
	if again.RevokedByID != "user-1" || again.RevokeReason != "no longer needed" {
		t.Fatalf("second revoke must not overwrite metadata, got %#v", again)
	}

	v, err := svc.Validate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if v.Valid || v.Reason != ReasonTokenRevoked {
		t.Fatalf("expected TOKEN_REVOKED, got %#v", v)
	}

	if _, ok := repo.byID[token.ID]; !ok {
		t.Fatalf("revoked row must never be deleted")
	}
}

func TestService_RevokeAllPatientTokens(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	in := baseGrant()
	if _, _, err := svc.Generate(context.Background(), in); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	in.GrantedToID = "doc-2"
	if _, _, err := svc.Generate(context.Background(), in); err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	n, err := svc.RevokeAllPatientTokens(context.Background(), "pat-1", "user-1", "patient", "panic button")
	if err != nil {
		t.Fatalf("RevokeAllPatientTokens error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	for _, tok := range repo.byID {
		if tok.IsActive {
			t.Fatalf("expected all grants revoked, %s still active", tok.ID)
		}
	}
}

func TestAccessToken_Allows(t *testing.T) {
	open := AccessToken{}
	if !open.Allows(ResourceVitals) {
		t.Fatalf("empty resource list must allow everything")
	}

	scoped := AccessToken{AllowedResources: []Resource{ResourceHealthRecord}}
	if !scoped.Allows(ResourceHealthRecord) || scoped.Allows(ResourceVitals) {
		t.Fatalf("scoped token must only allow its resources")
	}
}
