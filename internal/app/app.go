// Package app assembles the HTTP runtime shared by the long-running server
// and the serverless entrypoint.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"access-serverless/internal/asset"
	"access-serverless/internal/config"
	"access-serverless/internal/db"
	"access-serverless/internal/download"
	"access-serverless/internal/entitlement"
	"access-serverless/internal/mail"
	"access-serverless/internal/maintenance"
	"access-serverless/internal/observability"
	"access-serverless/internal/otp"
	"access-serverless/internal/paycode"
	"access-serverless/internal/product"
	"access-serverless/internal/ratelimit"
	"access-serverless/internal/staff"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Port    string
	Close   func() error
}

type mailers struct {
	otp     mail.Sender
	welcome mail.Sender
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfigFromEnv())
	decimal.MarshalJSONWithoutQuotes = true

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return nil, err
	}
	closers := []func() error{database.Close}
	fail := func(err error) (*Runtime, error) {
		closeAll(closers)
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
	}

	rateStore, redisClient, err := buildRateLimitStore(cfg, database)
	if err != nil {
		return fail(err)
	}
	if redisClient != nil {
		closers = append(closers, redisClient.Close)
	}
	limiter := ratelimit.NewLimiter(rateStore)

	senders, err := buildMailers(cfg.Mail)
	if err != nil {
		return fail(err)
	}
	templates := mail.NewTemplates(cfg.Mail.Templates)

	assets, err := buildAssetStore(cfg)
	if err != nil {
		return fail(err)
	}

	productRepo := product.NewRepository(database)
	entitlementService := entitlement.NewService(
		entitlement.NewPostgresRepository(database),
		productRepo,
		senders.welcome,
		templates,
		logger,
	)

	otpRepo := otp.NewPostgresRepository(database)
	engine := otp.NewEngine(otpRepo, cfg.OTP)

	staffRepo := staff.NewRepository(database)
	staffService := staff.NewService(staffRepo, cfg.JWTSecret)
	staffService.WithSecurityConfig(cfg.Staff.MaxAttempts, cfg.Staff.LockDuration, cfg.Staff.AccessTokenTTL)
	if err := staffService.BootstrapAdmin(ctx, cfg.Staff.AdminEmail, cfg.Staff.AdminPassword, cfg.Staff.AdminRefCode); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	payCodeService := paycode.NewService(
		paycode.NewRepository(database),
		productRepo,
		entitlementService,
		paycode.Format{Prefix: cfg.PayCodePrefix, Location: cfg.ReportLocation},
		logger,
	)

	downloadService := download.NewService(download.Config{
		IPPolicy:      cfg.Limits.DownloadIP,
		EmailPolicy:   cfg.Limits.DownloadEmail,
		ConfirmPolicy: cfg.Limits.ConfirmIP,
	}, download.Deps{
		Limiter:      limiter,
		Entitlements: entitlementService,
		Products:     productRepo,
		Engine:       engine,
		Assets:       assets,
		Mailer:       senders.otp,
		Templates:    templates,
		Logger:       logger,
	})

	sweeps := []maintenance.Sweep{
		{Name: "otps", Retention: cfg.Cleanup.OTPRetention, Delete: otpRepo.DeleteExpired},
		{Name: "otp_attempts", Retention: cfg.Cleanup.AttemptRetention, Delete: otpRepo.DeleteStaleAttempts},
		{Name: "staff_login_attempts", Retention: cfg.Cleanup.LoginAttemptRetention, Delete: staffRepo.DeleteStaleLoginAttempts},
	}
	if pg, ok := rateStore.(*ratelimit.PostgresStore); ok {
		sweeps = append(sweeps, maintenance.Sweep{Name: "rate_limits", Retention: cfg.Cleanup.RateLimitRetention, Delete: pg.DeleteStale})
	}

	checks := map[string]func(context.Context) error{"database": database.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	mux := routes(routeDeps{
		apiKey:      cfg.APIKey,
		jwtSecret:   cfg.JWTSecret,
		download:    download.NewHandler(downloadService, logger),
		entitlement: entitlement.NewHandler(entitlementService, logger),
		payCodes: paycode.NewHandler(payCodeService, limiter, staffService, paycode.HandlerConfig{
			CreatePolicy:   cfg.Limits.CreatePayCode,
			ReportPolicy:   cfg.Limits.Report,
			ReportLocation: cfg.ReportLocation,
		}, logger),
		staff:    staff.NewHandler(staffService, logger),
		products: product.NewHandler(productRepo, logger),
		cleanup:  maintenance.NewCleanupHandler(logger, cfg.Cleanup.CronSecret, cfg.Cleanup.BatchSize, sweeps...),
		health:   healthHandler(checks),
	})

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Port:    cfg.Port,
		Close: func() error {
			observability.FlushSentry()
			return closeAll(closers)
		},
	}, nil
}

func buildRateLimitStore(cfg config.Config, database *sql.DB) (ratelimit.Store, *redis.Client, error) {
	if cfg.RateLimitBackend != config.BackendRedis {
		return ratelimit.NewPostgresStore(database), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedisStore(client, cfg.RedisKeyTTL), client, nil
}

func buildMailers(cfg config.Mail) (mailers, error) {
	if cfg.Provider == config.ProviderSMTP {
		sender, err := mail.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return mailers{}, fmt.Errorf("init smtp: %w", err)
		}
		return mailers{otp: sender, welcome: sender}, nil
	}

	resendFor := func(key string) (*mail.ResendSender, error) {
		return mail.NewResendSender(mail.ResendConfig{
			APIKey:   key,
			From:     cfg.From,
			FromName: cfg.FromName,
			ReplyTo:  cfg.ReplyTo,
		})
	}
	otpSender, err := resendFor(cfg.OTPResendKey)
	if err != nil {
		return mailers{}, fmt.Errorf("init resend: %w", err)
	}
	welcomeSender, err := resendFor(cfg.WelcomeResendKey)
	if err != nil {
		return mailers{}, fmt.Errorf("init resend: %w", err)
	}
	return mailers{otp: otpSender, welcome: welcomeSender}, nil
}

func buildAssetStore(cfg config.Config) (asset.Store, error) {
	if cfg.AssetBaseURL != "" {
		store, err := asset.NewHTTPStore(cfg.AssetBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init asset store: %w", err)
		}
		return store, nil
	}
	return asset.NewDirStore(cfg.AssetDir), nil
}

// closeAll runs closers in reverse order and joins their errors.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
