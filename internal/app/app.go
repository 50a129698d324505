// Package app wires together every component of the service and dispatches
// to the runtime mode selected by configuration: api serves the HTTP
// surface, worker runs the background reconcilers, and seed provisions a
// default user for first-run environments.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/config"
	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/internal/platform"
	"github.com/latticevpn/sessiond/internal/reqauth"
	"github.com/latticevpn/sessiond/internal/seed"
	"github.com/latticevpn/sessiond/internal/telemetry"
	"github.com/latticevpn/sessiond/pkg/admin"
	"github.com/latticevpn/sessiond/pkg/auth"
	"github.com/latticevpn/sessiond/pkg/challenge"
	"github.com/latticevpn/sessiond/pkg/expiry"
	"github.com/latticevpn/sessiond/pkg/ippool"
	"github.com/latticevpn/sessiond/pkg/peer"
	"github.com/latticevpn/sessiond/pkg/session"
	"github.com/latticevpn/sessiond/pkg/token"
	"github.com/latticevpn/sessiond/pkg/user"
)

// Run reads config, connects to infrastructure, and starts the mode named
// by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sessiond", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "seed":
		return seed.Run(ctx, db, logger, cfg.SeedDefaultUser)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	jwtSecret := cfg.JWTSecretKey
	if jwtSecret == "" {
		jwtSecret = token.GenerateDevSecret()
		logger.Warn("jwt: using auto-generated dev secret, set SESSIOND_JWT_SECRET_KEY in production")
	}
	tokens, err := token.NewManager(
		jwtSecret,
		time.Duration(cfg.AccessTokenTTLSeconds)*time.Second,
		time.Duration(cfg.ProofTokenTTLSeconds)*time.Second,
	)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}

	cidr, err := netip.ParsePrefix(cfg.NetworkCIDR)
	if err != nil {
		return fmt.Errorf("parsing network cidr %q: %w", cfg.NetworkCIDR, err)
	}

	synchronizer, err := ippool.NewSynchronizer(db, cfg.ProjectName, cidr, cfg.ReservedIPs, logger)
	if err != nil {
		return fmt.Errorf("creating ip pool synchronizer: %w", err)
	}
	if err := synchronizer.Sync(ctx); err != nil {
		return fmt.Errorf("synchronizing ip pool: %w", err)
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	userStore := user.NewStore()
	challengeStore := challenge.NewStore()
	sessionStore := session.NewStore()
	ipPoolStore := ippool.NewStore(time.Duration(cfg.IPQuarantineDurationSeconds) * time.Second)
	peerClient := peer.NewClient(cfg.WGCtlSocket, cfg.WGCtlToken, logger)

	authSvc := auth.NewService(db, userStore, challengeStore, tokens, logger)
	authHandler := auth.NewHandler(authSvc, tokens, logger, auditWriter)

	sessionSvc := session.NewService(db, sessionStore, ipPoolStore, peerClient, auditWriter, logger, session.ServiceConfig{
		TTLMaxSeconds:               cfg.TTLMaxSeconds,
		TTLStepDefaultSeconds:       cfg.TTLStepDefaultSeconds,
		AllowMultipleActiveSessions: cfg.AllowMultipleActiveSessions,
		GatewayPubkey:               cfg.GatewayPubkey,
		Endpoint:                    cfg.Endpoint,
		AllowedIPs:                  cfg.AllowedIPs,
		DNS:                         cfg.DNS,
	})
	sessionHandler := session.NewHandler(sessionSvc, logger, auditWriter)

	adminSvc := admin.NewService(db, sessionStore, ipPoolStore, peerClient, auditWriter, logger)
	adminHandler := admin.NewHandler(adminSvc, logger)

	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg)

	srv.AuthRoot.Mount("/", authHandler.PublicRoutes())
	srv.AuthRoot.Group(func(r chi.Router) {
		r.Use(reqauth.RequireScope(tokens, token.ScopeAccess))
		r.Mount("/step-up", authHandler.StepUpRoutes())
	})

	srv.SessRoot.Group(func(r chi.Router) {
		r.Use(reqauth.RequireScope(tokens, token.ScopeProof))
		r.Mount("/", sessionHandler.ProofRoutes())
	})
	srv.SessRoot.Group(func(r chi.Router) {
		r.Use(reqauth.RequireScope(tokens, token.ScopeAccess))
		r.Mount("/", sessionHandler.AccessRoutes())
	})

	srv.AdminRoot.Group(func(r chi.Router) {
		r.Use(reqauth.RequireAdminToken(cfg.AdminToken))
		r.Mount("/", adminHandler.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker started")

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	sessionStore := session.NewStore()
	ipPoolStore := ippool.NewStore(time.Duration(cfg.IPQuarantineDurationSeconds) * time.Second)
	peerClient := peer.NewClient(cfg.WGCtlSocket, cfg.WGCtlToken, logger)

	revoker := expiry.NewRevoker(db, rdb, peerClient, sessionStore, ipPoolStore, auditWriter, logger,
		time.Duration(cfg.RevokerIntervalSeconds)*time.Second)
	releaser := ippool.NewReleaser(db, rdb, ipPoolStore, logger,
		time.Duration(cfg.QuarantineReleaserIntervalSeconds)*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return revoker.Run(gctx) })
	g.Go(func() error { return releaser.Run(gctx) })
	return g.Wait()
}
