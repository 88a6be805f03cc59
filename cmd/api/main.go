package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ledgerops/report-relay/internal/application"
	apprun "github.com/ledgerops/report-relay/internal/application/runs"
	appsession "github.com/ledgerops/report-relay/internal/application/session"
	apptenants "github.com/ledgerops/report-relay/internal/application/tenants"
	"github.com/ledgerops/report-relay/internal/config"
	"github.com/ledgerops/report-relay/internal/domain/reports"
	domsession "github.com/ledgerops/report-relay/internal/domain/session"
	domtenants "github.com/ledgerops/report-relay/internal/domain/tenants"
	"github.com/ledgerops/report-relay/internal/infra/browser"
	"github.com/ledgerops/report-relay/internal/infra/crypto"
	mysqlp "github.com/ledgerops/report-relay/internal/infra/db/mysql"
	postgresp "github.com/ledgerops/report-relay/internal/infra/db/postgres"
	"github.com/ledgerops/report-relay/internal/infra/files"
	"github.com/ledgerops/report-relay/internal/infra/httpserver"
	minioStore "github.com/ledgerops/report-relay/internal/infra/storage"
	"github.com/ledgerops/report-relay/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	ctx := context.Background()

	db, tenantRepo, sessionStore, jobRepo, err := connectDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("database connect error")
	}
	defer db.Close()

	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("minio init error")
	}

	cipher, err := crypto.New(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		log.Fatal().Err(err).Msg("cipher init error")
	}

	fileMgr, err := files.NewManager(cfg.Downloads.Dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("download dir init error")
	}

	browserClient := browser.NewClient(cfg.Browser.BaseURL, browser.Timeouts{
		Login:    cfg.Browser.LoginTimeout.Std(),
		Switch:   cfg.Browser.SwitchTimeout.Std(),
		Download: cfg.Browser.DownloadTimeout.Std(),
	})

	clock := application.SystemClock{}
	sessionMgr := appsession.NewManager(sessionStore, browserClient, browserClient, cipher, clock, log)

	runsSvc := &apprun.Service{
		Tenants:             tenantRepo,
		Jobs:                jobRepo,
		Session:             sessionMgr,
		Downloader:          files.NewDownloader(browserClient, fileMgr),
		Artifacts:           store,
		Clock:               clock,
		Log:                 log,
		Workers:             cfg.Run.Workers,
		SkipDownloadedToday: cfg.SkipDownloadedToday(),
	}
	tenantsSvc := &apptenants.Service{
		Repo:  tenantRepo,
		Clock: clock,
		Log:   log,
	}

	// retention cleanup for local downloads
	go func() {
		maxAge := time.Duration(cfg.Downloads.RetentionDays) * 24 * time.Hour
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := fileMgr.CleanupOld(maxAge); err != nil {
				log.Warn().Err(err).Msg("download cleanup failed")
			} else if n > 0 {
				log.Info().Int("deleted", n).Msg("download cleanup done")
			}
		}
	}()

	mux := chi.NewRouter()
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(60, 1))

	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
		"storage":  middleware.CheckerFunc(store.HealthCheck),
	}))
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Mount("/", httpserver.NewRouter(runsSvc, tenantsSvc, sessionMgr, log))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Log.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, domtenants.Repository, domsession.Store, reports.Repository, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, mysqlp.NewTenantRepository(db), mysqlp.NewSessionRepository(db), mysqlp.NewJobRepository(db), nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, postgresp.NewTenantRepository(db), postgresp.NewSessionRepository(db), postgresp.NewJobRepository(db), nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
}
