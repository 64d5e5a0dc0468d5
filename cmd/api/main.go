package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patient-health-history/internal/adapters/auth/idp"
	"patient-health-history/internal/adapters/crypto/cipherbox"
	pg "patient-health-history/internal/adapters/storage/postgres"
	"patient-health-history/internal/config"
	"patient-health-history/internal/domain/emergency"
	"patient-health-history/internal/platform/logger"
	"patient-health-history/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.NewFromEnv()
		l.Fatal().Err(err).Msg("config load failed")
	}

	log := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		App:    "patient-health-history",
	})

	opts := router.Options{Logger: log}

	if cfg.DBDSN != "" {
		db, err := pg.Open(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open failed")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("postgres schema failed")
		}
		cancel()

		opts.DB = db
		log.Info().Msg("storage: postgres")
	} else {
		log.Info().Msg("storage: in-memory (DB_DSN empty)")
	}

	// IdP externo: si no está configurado queda nil (modo dev con headers).
	if cfg.AuthVerifyURL != "" {
		client, err := idp.NewClient(idp.Config{
			BaseURL: cfg.AuthVerifyURL,
			APIKey:  cfg.AuthAPIKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("idp client failed")
		}
		opts.AuthVerifier = idp.NewVerifier(client)
		log.Info().Msg("auth: idp verifier enabled")
	} else if !cfg.IsDev() {
		log.Warn().Msg("auth: no verifier configured outside development")
	}

	// Cifrado de notas clínicas vía servicio externo (opcional).
	if cfg.CipherURL != "" {
		client, err := cipherbox.NewClient(cipherbox.Config{
			BaseURL: cfg.CipherURL,
			APIKey:  cfg.CipherAPIKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("cipher client failed")
		}
		opts.Cipher = client
		log.Info().Msg("crypto: notes cipher enabled")
	}

	opts.Emergency = emergency.Config{
		MinExpiry:     time.Duration(cfg.QRMinHours) * time.Hour,
		MaxExpiry:     time.Duration(cfg.QRMaxHours) * time.Hour,
		DefaultExpiry: time.Duration(cfg.QRDefaultHours) * time.Hour,
		BaseURL:       cfg.EmergencyBase,
	}
	opts.AuditRetentionYears = cfg.AuditRetentionYears

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	opts.BackgroundCtx = bgCtx

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.NewRouter(opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Shutdown ordenado ante SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
