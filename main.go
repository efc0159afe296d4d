// main.go
package main

import (
	"context"
	"os"
	"strings"

	"github.com/inngest/inngestgo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/handlers"
	"github.com/brandviz/brandviz/internal/auth"
	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/cache"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/database"
	"github.com/brandviz/brandviz/internal/email"
	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/providers"
	"github.com/brandviz/brandviz/internal/providers/common"
	"github.com/brandviz/brandviz/internal/repository/postgres"
	"github.com/brandviz/brandviz/internal/server"
	"github.com/brandviz/brandviz/services"
	"github.com/brandviz/brandviz/workflows"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Str("service", "brandviz").Logger()
}

func main() {
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("dev.env"); err != nil {
			bootLog.Info().Err(err).Msg("no .env or dev.env file loaded")
		} else {
			bootLog.Info().Msg("loaded dev.env file for local development")
		}
	} else {
		bootLog.Info().Msg("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid config")
	}

	logger := newLogger(cfg)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("port", cfg.Port).
		Str("db_host", cfg.Database.Host).
		Str("db_name", cfg.Database.Name).
		Msg("configuration loaded")

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(ctx, db, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	repos := postgres.NewManager(db)
	logger.Info().Msg("database ready")

	var (
		dashboardCache cache.Cache = cache.Noop{}
		redisCache     *cache.RedisCache
	)
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, dashboard caching disabled")
		} else {
			dashboardCache = redisCache
			logger.Info().Msg("redis cache connected")
		}
	}

	catalog, err := prompts.LoadFile(cfg.Analysis.PromptCSVPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Analysis.PromptCSVPath).Msg("failed to load prompt catalog")
	}

	m := metrics.New()
	registry := providers.NewRegistry(ctx, cfg, common.NewCostService(), m, logger)
	if len(registry) == 0 {
		logger.Warn().Msg("no AI provider keys configured, analyses cannot start")
	}

	var gateway billing.Gateway = billing.Disabled{}
	if cfg.Stripe.SecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set, credit purchases disabled")
	}
	mailer := email.New(cfg.SendGrid, logger)
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if cfg.IsDevelopment() {
		os.Unsetenv("INNGEST_SIGNING_KEY")
		cfg.Inngest.SigningKey = ""
		logger.Info().Msg("running in development mode - signing key verification disabled")
	}

	client, err := inngestgo.NewClient(
		inngestgo.ClientOpts{
			AppID:    cfg.Inngest.AppID,
			EventKey: inngestgo.StrPtr(cfg.Inngest.EventKey),
			Env:      inngestgo.StrPtr(cfg.Environment),
		},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create inngest client")
	}

	credits := services.NewCreditService(cfg, repos, gateway, mailer, m, logger)
	data := services.NewDataOrganizationService(repos, catalog, dashboardCache, cfg.Redis.CacheTTL, logger)
	analysis := services.NewBackgroundAnalysisService(
		cfg, repos, catalog, registry,
		services.NewScoringService(catalog),
		credits, data,
		workflows.NewInngestDispatcher(client),
		m, logger,
	)
	svc := handlers.Services{
		Users:    services.NewUserService(cfg, repos, tokens, credits, logger),
		Brands:   services.NewBrandService(repos, logger),
		Team:     services.NewTeamService(cfg, repos, mailer, logger),
		Credits:  credits,
		Data:     data,
		Analysis: analysis,
	}

	slack := workflows.NewSlackNotifier(cfg.SlackWebhookURL)

	analysisProcessor := workflows.NewAnalysisProcessor(analysis, slack, logger)
	analysisProcessor.SetClient(client)
	analysisProcessor.RunBrandAnalysis()

	scheduledProcessor := workflows.NewScheduledProcessor(analysis, slack, logger)
	scheduledProcessor.SetClient(client)
	scheduledProcessor.DailyScheduledAnalyses()
	scheduledProcessor.StaleAnalysisSweeper()
	logger.Info().Msg("inngest functions registered")

	checks := map[string]handlers.HealthCheck{
		"database": db.PingContext,
	}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}

	router := handlers.NewRouter(handlers.New(cfg, svc, logger), handlers.RouterOptions{
		Metrics: m,
		Inngest: client.Serve(),
		Checks:  checks,
	})

	srv := server.New(router, cfg.Port, cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout, logger)
	srv.OnShutdown("database", func(context.Context) error { return db.Close() })
	if redisCache != nil {
		srv.OnShutdown("redis", func(context.Context) error { return redisCache.Close() })
	}
	srv.OnShutdown("providers", func(context.Context) error { return registry.Close() })

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
