package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ealtrack/internal/config"
	"ealtrack/internal/domain"
	"ealtrack/internal/httpapi"
	"ealtrack/internal/lock"
	"ealtrack/internal/logging"
	"ealtrack/internal/metrics"
	"ealtrack/internal/service"
	"ealtrack/internal/store"
	"ealtrack/internal/store/memory"
	pgstore "ealtrack/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	repoName := "memory"
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("apply migrations: %v", err)
			}
		}
		repo = pg
		repoName = "postgres"
		closers = append(closers, pg.Close)
	} else {
		repo = memory.NewSeeded()
	}
	logger.WithField("repository", repoName).Info("repository ready")

	var locker lock.Locker = lock.NewLocal(cfg.LockTTL())
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL(), logger)
		if err := redisLocker.Ping(ctx); err != nil {
			logger.Warnf("redis unavailable (%v), using in-process locks", err)
		} else {
			locker = redisLocker
			closers = append(closers, redisLocker.Close)
			logger.Info("locks: redis")
		}
	} else {
		logger.Info("locks: in-process")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	svc := service.New(repo, locker, m, logger, domain.Settings{
		SearchableSelect:         cfg.SearchableSelect,
		ShowTotals:               cfg.ShowTotals,
		UnlinkConfirmationPhrase: cfg.UnlinkConfirmationPhrase,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err := bootstrapAdmin(ctx, auth, cfg.SeedAdminPassword, logger); err != nil {
		logger.Fatalf("bootstrap admin: %v", err)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Repository:    repoName,
		Logger:        logger,
		Metrics:       m,
		ExposeMetrics: cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("EAL ledger listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Errorf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}

// bootstrapAdmin creates the first admin account when the user store is
// empty and a seed password is configured.
func bootstrapAdmin(ctx context.Context, auth *httpapi.AuthManager, password string, logger *logrus.Logger) error {
	if password == "" || len(auth.ListUsers(ctx)) > 0 {
		return nil
	}
	if _, err := auth.CreateUser(ctx, domain.UserCreateRequest{
		Username: "admin",
		Password: password,
		Role:     domain.RoleAdmin,
	}); err != nil {
		return err
	}
	logger.Info("created initial admin account")
	return nil
}
