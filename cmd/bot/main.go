// Metacards - archetypal metaphor card bot for Telegram
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/metacards/internal/api"
	"github.com/ashureev/metacards/internal/cleanup"
	"github.com/ashureev/metacards/internal/config"
	"github.com/ashureev/metacards/internal/dialog"
	"github.com/ashureev/metacards/internal/generation"
	"github.com/ashureev/metacards/internal/monitor"
	"github.com/ashureev/metacards/internal/ratelimit"
	"github.com/ashureev/metacards/internal/session"
	"github.com/ashureev/metacards/internal/store"
	"github.com/ashureev/metacards/internal/transport"
)

// maxPendingPerUser bounds the events queued behind a busy user.
const maxPendingPerUser = 16

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Bot stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Bot stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Cleanup.TempDir, cfg.Monitor.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Archive.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Generation.
	checks := map[string]api.Pinger{}
	cache, closeCache, err := newCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()
	if p, ok := cache.(api.Pinger); ok {
		checks["cache"] = p
	}

	provider, err := generation.NewOpenAIProvider(generation.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		TextModel:    cfg.OpenAI.TextModel,
		ImageModel:   cfg.OpenAI.ImageModel,
		ImageSize:    cfg.OpenAI.ImageSize,
		ImageQuality: cfg.OpenAI.ImageQuality,
		Temperature:  cfg.OpenAI.Temperature,
	})
	if err != nil {
		return err
	}
	gen := generation.NewClient(provider, cache, generation.Config{
		Timeout:       cfg.Generation.Timeout,
		Attempts:      cfg.Generation.RetryAttempts,
		RetryDelay:    cfg.Generation.RetryDelay,
		MaxConcurrent: cfg.Generation.MaxConcurrent,
	}, logger)

	// State.
	sessions := session.NewStore()
	limiter := ratelimit.New(cfg.RateLimit.PerUser, cfg.RateLimit.Window)
	mon := monitor.New(monitor.Config{
		ReportsDir:      cfg.Monitor.ReportsDir,
		MetricsInterval: cfg.Monitor.MetricsInterval,
		ReportInterval:  cfg.Monitor.ReportInterval,
		ReportRetention: cfg.Monitor.ReportRetention,
	}, sessions, gen, logger)

	// Transport and dialog.
	tg, err := transport.NewTelegram(transport.TelegramConfig{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout,
	}, logger)
	if err != nil {
		return err
	}
	slog.Info("Telegram connected", "username", tg.Username())

	engine, err := dialog.New(dialog.Deps{
		Sessions:  sessions,
		Limiter:   limiter,
		Generator: gen,
		Sender:    tg,
		Images:    transport.NewImageRelay(tg, cfg.Cleanup.TempDir, cfg.Cleanup.DownloadTimeout, logger),
		Archive:   repo,
		Recorder:  mon,
		Pacer:     dialog.TimerPacer{},
		Logger:    logger,
	}, dialogOptions(cfg.Dialog))
	if err != nil {
		return err
	}
	dispatcher := transport.NewDispatcher(engine, maxPendingPerUser, logger)

	// Background workers.
	scheduler := cleanup.New(cleanup.Config{
		SessionInterval:  cfg.Session.SweepInterval,
		IdleTimeout:      cfg.Session.IdleTimeout,
		ArtifactInterval: cfg.Cleanup.Interval,
		TempDir:          cfg.Cleanup.TempDir,
		TempPrefix:       transport.TempImagePrefix,
		TempFileTTL:      cfg.Cleanup.TempFileTTL,
		ArchiveRetention: cfg.Cleanup.ArchiveRetention,
	}, cleanup.Deps{
		Sessions: sessions,
		Limiter:  limiter,
		Cache:    gen,
		Reports:  mon,
		Archive:  repo,
	}, logger)
	scheduler.Start(ctx)
	mon.Start(ctx)

	// Admin surfaces.
	var webhook http.Handler
	if cfg.Telegram.WebhookURL != "" {
		if cfg.AdminAddr == "" {
			return errors.New("webhook mode requires ADMIN_ADDR")
		}
		webhook = tg.WebhookHandler(ctx, dispatcher)
	}

	var srv *http.Server
	if cfg.AdminAddr != "" {
		srv = &http.Server{
			Addr: cfg.AdminAddr,
			Handler: api.NewRouter(api.RouterConfig{
				Repo:           repo,
				Stats:          mon,
				Checks:         checks,
				Token:          cfg.AdminToken,
				Origins:        cfg.AdminOrigins,
				StreamInterval: cfg.Monitor.MetricsInterval,
				Webhook:        webhook,
				Logger:         logger,
			}),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // stats stream is long lived
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("Admin server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Admin server failed", "error", err)
				stop()
			}
		}()
	}

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		go func() {
			if err := api.NewGRPCHealth(repo, cfg.Monitor.MetricsInterval, logger).Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Inbound updates.
	var runErr error
	if webhook != nil {
		if err := tg.SetWebhook(cfg.Telegram.WebhookURL); err != nil {
			return err
		}
		slog.Info("Webhook registered", "url", cfg.Telegram.WebhookURL)
		<-ctx.Done()
	} else {
		runErr = tg.Poll(ctx, dispatcher)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Admin server forced to shutdown", "error", err)
		}
	}

	dispatcher.Wait()
	scheduler.Wait()
	mon.Wait()
	mon.LogStats()
	return runErr
}

func newCache(ctx context.Context, cfg *config.Config) (generation.Cache, func(), error) {
	if cfg.Cache.Backend == config.CacheRedis {
		rc, err := generation.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Generation cache ready", "backend", config.CacheRedis, "addr", cfg.Cache.RedisAddr)
		return rc, func() {
			if err := rc.Close(); err != nil {
				slog.Warn("Failed to close redis cache", "error", err)
			}
		}, nil
	}
	slog.Info("Generation cache ready", "backend", config.CacheMemory, "ttl", cfg.Cache.TTL)
	return generation.NewMemoryCache(cfg.Cache.TTL), func() {}, nil
}

func dialogOptions(c config.DialogConfig) dialog.Options {
	opts := dialog.DefaultOptions()
	opts.CaptionLimit = c.CaptionLimit
	opts.ProgressDelay = c.ProgressDelay
	opts.Flow = dialog.Flow{
		Buttons:        c.Buttons,
		TransitionCard: c.TransitionCard,
		MeaningCard:    c.MeaningCard,
	}
	return opts
}
