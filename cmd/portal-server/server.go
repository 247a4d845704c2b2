package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/config"
	"github.com/ehr/portal/internal/domain/labreport"
	"github.com/ehr/portal/internal/domain/patient"
	"github.com/ehr/portal/internal/domain/visit"
	"github.com/ehr/portal/internal/flows"
	"github.com/ehr/portal/internal/platform/attachment"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/blobstore"
	"github.com/ehr/portal/internal/platform/db"
	"github.com/ehr/portal/internal/platform/metrics"
	"github.com/ehr/portal/internal/platform/middleware"
	"github.com/ehr/portal/internal/platform/recordsapi"
	"github.com/ehr/portal/internal/session"
	"github.com/ehr/portal/internal/tui"
	"github.com/ehr/portal/internal/wizard"
)

const version = "0.1.0"

// deps are the stores and services the chosen data mode resolves to.
type deps struct {
	backend flows.Backend
	// local is set in mock and postgres mode; its services also serve the
	// record REST routes.
	local    *flows.LocalBackend
	files    blobstore.Store
	sessions session.Store
	checks   map[string]db.Check
	closers  []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func mockBackend() *flows.LocalBackend {
	return flows.NewLocalBackend(
		patient.NewService(patient.NewMemRepo(patient.Fixtures()...)),
		visit.NewService(visit.NewMemRepo()),
		labreport.NewService(labreport.NewMemRepo()),
	)
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{checks: map[string]db.Check{}}
	fail := func(err error) (*deps, error) {
		d.close()
		return nil, err
	}

	switch cfg.DataMode {
	case config.DataPostgres:
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, pool.Close)
		d.checks["database"] = db.PoolCheck(pool)
		d.local = flows.NewLocalBackend(
			patient.NewService(patient.NewRepo(pool)),
			visit.NewService(visit.NewRepo(pool)),
			labreport.NewService(labreport.NewRepo(pool)),
		)
		d.backend = d.local
		d.files = blobstore.NewPGStore(pool)
	case config.DataRemote:
		client, err := recordsapi.NewClient(recordsapi.Config{
			BaseURL:    cfg.RecordsAPIURL,
			Timeout:    cfg.RecordsAPITimeout,
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		}, logger)
		if err != nil {
			return fail(err)
		}
		d.checks["records_api"] = client.Ping
		d.backend = client
		d.files = blobstore.NewMemStore()
	default:
		d.local = mockBackend()
		d.backend = d.local
		d.files = blobstore.NewMemStore()
	}

	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		store := session.NewRedisStore(client, cfg.SessionTTL)
		d.checks["redis"] = store.Ping
		d.sessions = store
	} else {
		store := session.NewMemoryStore(cfg.SessionTTL)
		sweepCtx, stop := context.WithCancel(context.Background())
		go sweep(sweepCtx, store, time.Minute, logger)
		d.closers = append(d.closers, stop)
		d.sessions = store
	}

	logger.Info().
		Str("data_mode", cfg.DataMode).
		Bool("redis_sessions", cfg.RedisURL != "").
		Msg("dependencies ready")
	return d, nil
}

func sweep(ctx context.Context, store *session.MemoryStore, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				logger.Debug().Int("expired", n).Msg("swept wizard sessions")
			}
		}
	}
}

func newServer(cfg *config.Config, d *deps, m *metrics.Metrics, logger zerolog.Logger) (*echo.Echo, error) {
	reg, err := registry(cfg, d.backend, flows.Options{Observer: m, Logger: logger})
	if err != nil {
		return nil, err
	}
	mgr := session.NewManager(reg, d.sessions,
		session.WithFiles(d.files),
		session.WithEvents(m),
		session.WithLogger(logger))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, session.Unbounded))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevUserHeader, auth.DevRolesHeader},
	}))

	if cfg.DevAuth() {
		logger.Warn().Msg("development auth is active: X-Dev-User and X-Dev-Roles are trusted, absent headers grant admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger, nil))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/deps", db.HealthHandler(d.checks, 3*time.Second))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl))

	if d.local != nil {
		patient.NewHandler(d.local.Patients).RegisterRoutes(api)
		visit.NewHandler(d.local.Visits).RegisterRoutes(api)
		labreport.NewHandler(d.local.Labs).RegisterRoutes(api)
	}
	blobstore.NewHandler(d.files).RegisterRoutes(api)
	session.NewHandler(mgr).RegisterRoutes(api)
	return e, nil
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	e, err := newServer(cfg, d, metrics.New(), logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

var extContentTypes = map[string]string{
	".dcm":  "application/dicom",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// fileUploader reads a local file for the terminal upload step, stores it and
// returns the step payload.
func fileUploader(files blobstore.Store, userID string) tui.UploadFunc {
	return func(ctx context.Context, st wizard.State, path string) (wizard.Entry, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		contentType := extContentTypes[strings.ToLower(filepath.Ext(name))]
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		info, err := attachment.Inspect(data, contentType, name)
		if err != nil {
			return nil, err
		}
		meta, err := files.Upload(ctx, blobstore.Metadata{
			FileName:    name,
			ContentType: contentType,
			PatientID:   st.Precondition.ID,
			CreatedBy:   userID,
		}, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		return wizard.Entry{
			flows.FieldFileID:         meta.ID,
			flows.FieldFileName:       meta.FileName,
			flows.FieldReportType:     info.ReportType(),
			flows.FieldDICOMPatientID: info.PatientID,
		}, nil
	}
}
