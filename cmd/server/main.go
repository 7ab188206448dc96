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
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"washly/backend/internal/cache"
	"washly/backend/internal/config"
	"washly/backend/internal/domain"
	"washly/backend/internal/httpapi"
	"washly/backend/internal/logger"
	"washly/backend/internal/service"
	"washly/backend/internal/store"
	"washly/backend/internal/store/memory"
	pgstore "washly/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid tenant timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(log); err != nil {
				log.Fatal("database migration failed", zap.Error(err))
			}
		}
		if err := seedAdmin(ctx, pg, cfg, log); err != nil {
			log.Fatal("failed to seed admin account", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.DefaultTenantID, log)
		log.Info("repository: in-memory", zap.String("tenant_id", cfg.DefaultTenantID))
	}

	opts := service.Options{
		Tenants:        service.FixedZone{Loc: loc},
		Logger:         log,
		MethodCacheTTL: cfg.MethodCacheTTL(),
		LockTTL:        cfg.OperatorLockTTL(),
	}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		methodCache := cache.NewRedisMethodCache(client)
		if err := methodCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process cache and locks", zap.Error(err))
			_ = client.Close()
		} else {
			opts.MethodCache = methodCache
			opts.Locker = cache.NewRedisLocker(client, log)
			closers = append(closers, client.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: in-process")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, log)
	api, err := httpapi.New(svc, auth, cfg.AllowedOrigin, log)
	if err != nil {
		log.Fatal("failed to build http api", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("caja backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DefaultTenantID == "" {
		return fmt.Errorf("DEFAULT_TENANT_ID must not be empty")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// seedAdmin creates the first admin of the default tenant on an empty user
// table. SEED_ADMIN_PASSWORD must be set for that to happen.
func seedAdmin(ctx context.Context, users store.Repository, cfg config.Config, log *zap.Logger) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	if len(cfg.SeedAdminPassword) < 8 {
		log.Warn("user table is empty; set SEED_ADMIN_PASSWORD (8+ chars) to create the first admin")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := users.CreateUser(ctx, domain.UserAccount{
		Username:    "admin",
		Password:    string(hash),
		Role:        domain.RoleAdmin,
		TenantID:    cfg.DefaultTenantID,
		DisplayName: "Administrador",
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}
	log.Info("seeded admin account", zap.String("tenant_id", cfg.DefaultTenantID))
	return nil
}
