// authd serves the authentication API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/httpapi"
	"github.com/mnemoforge/authcore/internal/config"
	"github.com/mnemoforge/authcore/internal/logging"
	"github.com/mnemoforge/authcore/internal/memstore"
	"github.com/mnemoforge/authcore/internal/postgres"
	"github.com/mnemoforge/authcore/internal/postgres/migrate"
	"github.com/mnemoforge/authcore/mail"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	migrateUp := flag.Bool("migrate", false, "apply pending migrations before serving")
	flag.Parse()

	settings, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: settings.LogLevel, Dev: settings.LogDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(settings, logger, *migrateUp); err != nil {
		logger.Fatal("authd stopped", zap.Error(err))
	}
}

func run(settings *config.Settings, logger *zap.Logger, migrateUp bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	builder := authcore.New().
		WithConfig(settings.Engine).
		WithRedis(rdb).
		WithLogger(logger)

	if settings.DatabaseURL != "" {
		if migrateUp {
			if err := migrate.Run(settings.DatabaseURL, "up"); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := postgres.Open(ctx, settings.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		builder.
			WithIdentityStore(postgres.NewIdentityRepository(db, settings.Box)).
			WithLinkStore(postgres.NewLinkRepository(db)).
			WithVerificationTokenStore(postgres.NewTokenRepository(db))
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores; data is lost on restart")
		store := memstore.New()
		builder.
			WithIdentityStore(store).
			WithLinkStore(store).
			WithVerificationTokenStore(store)
	}

	if settings.SMTPHost != "" {
		sender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     settings.SMTPHost,
			Port:     settings.SMTPPort,
			Username: settings.SMTPUsername,
			Password: settings.SMTPPassword,
			From:     settings.SMTPFrom,
			Product:  settings.TOTPIssuer,
		})
		if err != nil {
			return err
		}
		builder.WithMailer(sender)
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged and not delivered")
		builder.WithMailer(mail.NewLogSender(logger))
	}

	if settings.AuditEnabled {
		builder.WithAuditSink(authcore.NewZapAuditSink(logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()
	logSecurityReport(logger, engine.SecurityReport())

	api := httpapi.New(engine, logger, httpapi.Options{
		TrustProxyHeaders: settings.TrustProxyHeaders,
		AccessLog:         true,
	})
	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", settings.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func logSecurityReport(logger *zap.Logger, r authcore.SecurityReport) {
	logger.Info("security posture",
		zap.String("signing_algorithm", r.SigningAlgorithm),
		zap.Duration("access_ttl", r.AccessTTL),
		zap.Duration("refresh_ttl", r.RefreshTTL),
		zap.Bool("cookie_secure", r.CookieSecure),
		zap.Uint32("argon2_memory_kib", r.Argon2.Memory),
		zap.Uint32("argon2_time", r.Argon2.Time),
		zap.Bool("lockout", r.LockoutActive),
		zap.Int("backup_codes", r.BackupCodeCount),
		zap.Strings("oauth_providers", r.OAuthProviders),
		zap.Bool("audit", r.AuditEnabled),
		zap.Bool("metrics", r.MetricsEnabled),
	)
	if !r.CookieSecure {
		logger.Warn("session cookies are not marked Secure; use only behind plain HTTP in development")
	}
}
