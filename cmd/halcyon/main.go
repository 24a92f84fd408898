package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/app"
	"github.com/halcyon-id/halcyon-id/internal/avatar"
	"github.com/halcyon-id/halcyon-id/internal/credential"
	"github.com/halcyon-id/halcyon-id/internal/identity"
	"github.com/halcyon-id/halcyon-id/internal/notify"
	"github.com/halcyon-id/halcyon-id/internal/observability"
	"github.com/halcyon-id/halcyon-id/internal/platform/cache"
	"github.com/halcyon-id/halcyon-id/internal/platform/db"
	"github.com/halcyon-id/halcyon-id/internal/provider"
	"github.com/halcyon-id/halcyon-id/internal/session"
	"github.com/halcyon-id/halcyon-id/internal/social"
	"github.com/halcyon-id/halcyon-id/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	repo := accounts.NewRepository(pool)
	creds := credential.NewServiceWithCost(cfg.BcryptCost)
	notifier := notify.NewQueueNotifier(asynqClient, logger)
	lifecycle := identity.NewService(repo, creds, notifier, logger)

	issuer := session.NewRedisIssuer(redisClient, cfg.SessionTTL)

	var avatars avatar.Mirror = avatar.NoopMirror{}
	if cfg.CloudinaryURL != "" {
		mirror, err := avatar.NewCloudinaryMirrorFromURL(cfg.CloudinaryURL, cfg.CloudinaryFolder, logger)
		if err != nil {
			logger.Error("init cloudinary", slog.Any("error", err))
			os.Exit(1)
		}
		avatars = mirror
	}

	providers := map[accounts.Provider]provider.Client{
		accounts.ProviderTwitter:  provider.NewTwitterClient(cfg.TwitterConsumerKey, cfg.TwitterConsumerSecret),
		accounts.ProviderFacebook: provider.NewFacebookClient(cfg.FacebookAppID, cfg.FacebookAppSecret),
	}

	pending := social.NewPendingStore(redisClient, cfg.PendingSignupTTL)
	resolver := social.NewService(repo, lifecycle, providers, pending, avatars, logger)

	identityHandler := identity.NewHandler(lifecycle, issuer, logger, cfg.SignupAutoActivate)
	socialHandler := social.NewHandler(resolver, providers, issuer, identityHandler.RequireSession, logger)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		IdentityHandler: identityHandler,
		SocialHandler:   socialHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
