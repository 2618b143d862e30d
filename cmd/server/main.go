package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gendoc/internal/agent"
	"gendoc/internal/config"
	"gendoc/internal/consultation"
	"gendoc/internal/diagnosis"
	ratelimit "gendoc/internal/middleware"
	"gendoc/internal/platform/places"
	"gendoc/internal/platform/telegram"
	"gendoc/internal/report"
	"gendoc/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	cfg, err := config.Load(getEnv("CONFIG_PATH", config.DefaultPath))
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	// 2. Clients
	model, err := agent.New(ctx, agent.Config{
		Provider: cfg.Model.Provider,
		APIKey:   cfg.ModelAPIKey(),
		BaseURL:  cfg.Model.OpenAIBaseURL,
		Settings: agent.Settings{
			Model:           cfg.Model.Name,
			Temperature:     cfg.Model.Temperature,
			TopP:            cfg.Model.TopP,
			TopK:            cfg.Model.TopK,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
			Safety:          cfg.Model.Safety,
		},
	})
	if err != nil {
		fatal(logger, "create model client", err)
	}
	defer model.Close()

	placesClient, err := places.NewClient(cfg.Places.APIKey, "")
	if err != nil {
		fatal(logger, "create places client", err)
	}

	var tgClient report.TelegramClient
	if cfg.SharingEnabled() {
		tgClient = telegram.NewClient(cfg.Telegram.BotToken)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, report sharing disabled")
	}

	var redisClient *redis.Client
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.RedisURL != "" && cfg.RateLimit.PerMinute > 0 {
		redisClient, err = ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			logger.Warn("rate limiting disabled", "error", err)
		} else {
			defer redisClient.Close()
			trusted, err := ratelimit.ParsePrefixes(cfg.RateLimit.TrustedProxies)
			if err != nil {
				fatal(logger, "invalid trusted proxies", err)
			}
			limit = ratelimit.NewRateLimiter(redisClient, cfg.RateLimit.PerMinute, trusted, logger).Middleware
		}
	}

	// 3. Services
	repo := consultation.NewMemoryRepository(cfg.SessionTTL)
	go repo.RunJanitor(ctx, time.Minute)

	consultationSvc := consultation.NewService(model, placesClient, consultation.Options{
		ModelTimeout:  cfg.Model.Timeout,
		PlacesTimeout: cfg.Places.Timeout,
		Router:        diagnosis.NewRouter(cfg.Specialties, cfg.FallbackSpecialty),
		Logger:        logger,
	})
	reportSvc := report.NewService(report.NewRenderer(cfg.Report.FontPath, logger), tgClient, cfg.Telegram.DoctorChatID, logger)
	consultationHandler := consultation.NewHandler(consultationSvc, repo, reportSvc, logger)

	// 4. Router
	r := chi.NewRouter()
	r.Use(ratelimit.PeerAddr)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler, limit)
	})
	r.Handle("/*", web.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      writeTimeout(cfg.Model.Timeout, cfg.Places.Timeout),
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "provider", cfg.Model.Provider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// writeTimeout outlasts the slowest handler so it can still answer with a
// JSON 504.
func writeTimeout(modelTimeout, placesTimeout time.Duration) time.Duration {
	budget := consultation.AnalyzeBudget(modelTimeout, placesTimeout)
	// Sharing makes two Telegram calls.
	if share := 2 * telegram.DefaultTimeout; share > budget {
		budget = share
	}
	return budget + 15*time.Second
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
