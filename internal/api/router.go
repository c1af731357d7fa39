package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/metacards/internal/middleware"
	"github.com/ashureev/metacards/internal/store"
)

// WebhookPath is where Telegram delivers updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// RouterConfig configures the admin router.
type RouterConfig struct {
	Repo           store.Repository
	Stats          StatsSource
	Token          string
	Origins        []string
	StreamInterval time.Duration
	Logger         *slog.Logger

	// Checks are extra dependencies reported by /health.
	Checks map[string]Pinger

	// Webhook is mounted at WebhookPath when non-nil.
	Webhook http.Handler
}

// NewRouter builds the admin HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	checks := map[string]Pinger{}
	for name, p := range cfg.Checks {
		checks[name] = p
	}
	if cfg.Repo != nil {
		checks["database"] = cfg.Repo
	}
	NewHealthHandler(checks, log).RegisterHealth(r)

	if cfg.Webhook != nil {
		r.Method(http.MethodPost, WebhookPath, cfg.Webhook)
	}

	h := NewHandler(cfg.Repo, cfg.Stats, log)
	stream := NewStatsStream(cfg.Stats, cfg.StreamInterval, cfg.Origins, log)
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.Origins))
		r.Use(middleware.BearerToken(cfg.Token))
		h.RegisterRoutes(r)
		r.Method(http.MethodGet, "/ws/stats", stream)
	})

	return r
}
