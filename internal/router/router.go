package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	mem "patient-health-history/internal/adapters/storage/memory"
	pg "patient-health-history/internal/adapters/storage/postgres"
	"patient-health-history/internal/domain/accesstokens"
	"patient-health-history/internal/domain/audit"
	"patient-health-history/internal/domain/emergency"
	"patient-health-history/internal/domain/patients"
	"patient-health-history/internal/domain/records"
	"patient-health-history/internal/domain/vitals"
	"patient-health-history/internal/middleware"
	"patient-health-history/internal/ports/auth"
	"patient-health-history/internal/ports/crypto"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)
	Cipher       crypto.Cipher     // puede ser nil (notas en claro)
	Logger       zerolog.Logger

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	Emergency           emergency.Config
	AuditRetentionYears int

	// Contexto de los workers de fondo (purga de retención).
	// nil => context.Background().
	BackgroundCtx context.Context
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var (
		patientsRepo  patients.Repository
		recordsRepo   records.Repository
		tokensRepo    accesstokens.Repository
		auditRepo     audit.Repository
		emergencyRepo emergency.Repository
		vitalsRepo    vitals.Repository
	)

	if opts.DB != nil {
		patientsRepo = pg.NewPatientsRepo(opts.DB)
		recordsRepo = pg.NewRecordsRepo(opts.DB)
		tokensRepo = pg.NewAccessTokensRepo(opts.DB)
		auditRepo = pg.NewAuditRepo(opts.DB)
		emergencyRepo = pg.NewEmergencyRepo(opts.DB)
		vitalsRepo = pg.NewVitalsRepo(opts.DB)
	} else {
		patientsRepo = mem.NewPatientsRepo()
		recordsRepo = mem.NewRecordsRepo()
		tokensRepo = mem.NewAccessTokensRepo()
		auditRepo = mem.NewAuditRepo()
		emergencyRepo = mem.NewEmergencyRepo()
		vitalsRepo = mem.NewVitalsRepo()
	}

	// Services por módulo
	patientsSvc := patients.NewService(patientsRepo)
	recordsSvc := records.NewService(recordsRepo, patientsSvc)
	if opts.Cipher != nil {
		recordsSvc.WithCipher(opts.Cipher)
	}
	tokensSvc := accesstokens.NewService(tokensRepo)
	auditSvc := audit.NewService(auditRepo, opts.Logger, opts.AuditRetentionYears)
	emergencySvc := emergency.NewService(emergencyRepo, patientsSvc, opts.Emergency, opts.Logger)
	vitalsSvc := vitals.NewService(vitalsRepo)

	// Pipeline explícito: cada append del historial refresca la proyección
	// de emergencia.
	recordsSvc.RegisterAppendHook(emergencySvc)

	bg := opts.BackgroundCtx
	if bg == nil {
		bg = context.Background()
	}
	auditSvc.StartPurgeLoop(bg, time.Hour)

	// Rutas por módulo
	patients.RegisterRoutes(r, patientsSvc)
	records.RegisterRoutes(r, recordsSvc, patientsSvc, tokensSvc, auditSvc)
	accesstokens.RegisterRoutes(r, tokensSvc, patientsSvc)
	audit.RegisterRoutes(r, auditSvc, patientsSvc)
	emergency.RegisterRoutes(r, emergencySvc, patientsSvc, auditSvc)
	vitals.RegisterRoutes(r, vitalsSvc, patientsSvc, tokensSvc, auditSvc)

	return r
}
