package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultRetentionYears es la retención regulatoria del audit trail.
const DefaultRetentionYears = 7

type Service struct {
	repo           Repository
	log            zerolog.Logger
	retentionYears int
	now            func() time.Time
}

func NewService(repo Repository, log zerolog.Logger, retentionYears int) *Service {
	if retentionYears <= 0 {
		retentionYears = DefaultRetentionYears
	}
	return &Service{
		repo:           repo,
		log:            log,
		retentionYears: retentionYears,
		now:            time.Now,
	}
}

// Entry es el input de Log. El servicio completa ID, timestamp y expiración.
type Entry struct {
	AccessorID   string
	AccessorRole string
	PatientID    string

	ResourceType ResourceType
	ResourceID   string
	Action       Action
	AccessReason string

	BookingID     string
	AccessTokenID string

	IPAddress string
	UserAgent string
	Endpoint  string
	Method    string

	Success      bool
	ErrorMessage string
}

// Log appendea una entrada. Debe invocarse en todo acceso protegido,
// exitoso o fallido, sin camino condicional que lo saltee.
//
// Si el insert falla, el error se reporta por el canal operativo (log
// estructurado) y se devuelve al caller del audit; nunca debe suprimir
// el resultado de la operación auditada — por eso los handlers lo llaman
// en deferred y solo loguean el error.
func (s *Service) Log(ctx context.Context, in Entry) (AccessLog, error) {
	if strings.TrimSpace(in.AccessorID) == "" || in.ResourceType == "" || in.Action == "" {
		return AccessLog{}, ErrInvalidInput
	}

	now := s.now()
	e := AccessLog{
		ID:            uuid.NewString(),
		AccessorID:    strings.TrimSpace(in.AccessorID),
		AccessorRole:  strings.TrimSpace(in.AccessorRole),
		PatientID:     strings.TrimSpace(in.PatientID),
		ResourceType:  in.ResourceType,
		ResourceID:    strings.TrimSpace(in.ResourceID),
		Action:        in.Action,
		AccessReason:  strings.TrimSpace(in.AccessReason),
		BookingID:     strings.TrimSpace(in.BookingID),
		AccessTokenID: strings.TrimSpace(in.AccessTokenID),
		IPAddress:     strings.TrimSpace(in.IPAddress),
		UserAgent:     in.UserAgent,
		Endpoint:      in.Endpoint,
		Method:        in.Method,
		Success:       in.Success,
		ErrorMessage:  in.ErrorMessage,
		Timestamp:     now,
		ExpiresAt:     now.AddDate(s.retentionYears, 0, 0),
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("accessor_id", e.AccessorID).
			Str("patient_id", e.PatientID).
			Str("resource_type", string(e.ResourceType)).
			Str("action", string(e.Action)).
			Msg("audit insert failed")
		return AccessLog{}, err
	}

	evt := s.log.Info()
	if !e.Success {
		evt = s.log.Warn()
	}
	evt.
		Str("accessor_id", e.AccessorID).
		Str("accessor_role", e.AccessorRole).
		Str("patient_id", e.PatientID).
		Str("resource_type", string(e.ResourceType)).
		Str("action", string(e.Action)).
		Bool("success", e.Success).
		Str("ip", e.IPAddress).
		Msg("phi_access")

	return e, nil
}

// PatientAccessHistory pagina los accesos al historial de un paciente.
func (s *Service) PatientAccessHistory(ctx context.Context, patientID string, page, limit int) ([]AccessLog, int, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, 0, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	return s.repo.ListByPatient(ctx, patientID, page, limit)
}

// AccessorHistory pagina los accesos realizados por un accessor.
func (s *Service) AccessorHistory(ctx context.Context, accessorID string, page, limit int) ([]AccessLog, int, error) {
	accessorID = strings.TrimSpace(accessorID)
	if accessorID == "" {
		return nil, 0, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	return s.repo.ListByAccessor(ctx, accessorID, page, limit)
}

// PatientAccessSummary agrupa por accessor los accesos de una ventana móvil.
func (s *Service) PatientAccessSummary(ctx context.Context, patientID string, window time.Duration) ([]AccessorSummary, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}

	entries, err := s.repo.ListByPatientSince(ctx, patientID, s.now().Add(-window))
	if err != nil {
		return nil, err
	}

	byAccessor := map[string]*AccessorSummary{}
	resourceSeen := map[string]map[ResourceType]struct{}{}
	actionSeen := map[string]map[Action]struct{}{}

	for _, e := range entries {
		sum, ok := byAccessor[e.AccessorID]
		if !ok {
			sum = &AccessorSummary{
				AccessorID:   e.AccessorID,
				AccessorRole: e.AccessorRole,
			}
			byAccessor[e.AccessorID] = sum
			resourceSeen[e.AccessorID] = map[ResourceType]struct{}{}
			actionSeen[e.AccessorID] = map[Action]struct{}{}
		}

		sum.Count++
		if e.Timestamp.After(sum.LastAccess) {
			sum.LastAccess = e.Timestamp
		}
		if _, ok := resourceSeen[e.AccessorID][e.ResourceType]; !ok {
			resourceSeen[e.AccessorID][e.ResourceType] = struct{}{}
			sum.ResourceTypes = append(sum.ResourceTypes, e.ResourceType)
		}
		if _, ok := actionSeen[e.AccessorID][e.Action]; !ok {
			actionSeen[e.AccessorID][e.Action] = struct{}{}
			sum.Actions = append(sum.Actions, e.Action)
		}
	}

	out := make([]AccessorSummary, 0, len(byAccessor))
	for _, sum := range byAccessor {
		out = append(out, *sum)
	}
	// Orden estable: más accesos primero
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AccessorID < out[j].AccessorID
	})

	return out, nil
}

// FailedAttempts lista intentos fallidos recientes (monitoreo de seguridad).
func (s *Service) FailedAttempts(ctx context.Context, window time.Duration, limit int) ([]AccessLog, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListFailedSince(ctx, s.now().Add(-window), limit)
}

// AccessStats arma los conteos facetados admin-wide del rango pedido.
func (s *Service) AccessStats(ctx context.Context, from, to time.Time) (Stats, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	if from.After(to) {
		return Stats{}, ErrInvalidInput
	}

	entries, err := s.repo.ListBetween(ctx, from, to)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByAction:       map[Action]int{},
		ByResourceType: map[ResourceType]int{},
		ByRole:         map[string]int{},
		ByDay:          map[string]int{},
	}
	for _, e := range entries {
		stats.Total++
		if e.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		stats.ByAction[e.Action]++
		stats.ByResourceType[e.ResourceType]++
		stats.ByRole[e.AccessorRole]++
		stats.ByDay[e.Timestamp.UTC().Format("2006-01-02")]++
	}

	return stats, nil
}

// PurgeExpired elimina entradas vencidas por retención. Corre desde un
// ticker de fondo; no depende de ningún filtro de query ni del caller.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("audit purge failed")
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int("purged", n).Msg("audit retention purge")
	}
	return n, nil
}

// StartPurgeLoop lanza la purga periódica. Se detiene cuando ctx se cancela.
func (s *Service) StartPurgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.PurgeExpired(ctx)
			}
		}
	}()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit
}
