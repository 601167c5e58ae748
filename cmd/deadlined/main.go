package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/api"
	"github.com/lalithlochan/deadlines/internal/circuitbreaker"
	"github.com/lalithlochan/deadlines/internal/config"
	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/deadline"
	"github.com/lalithlochan/deadlines/internal/gateway"
	"github.com/lalithlochan/deadlines/internal/metrics"
	"github.com/lalithlochan/deadlines/internal/observ"
	"github.com/lalithlochan/deadlines/internal/redis"
	"github.com/lalithlochan/deadlines/internal/scheduler"
	"github.com/lalithlochan/deadlines/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting deadlines service",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.DBDriver),
	)

	ctx := context.Background()

	database, err := db.Open(ctx, db.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it the digest claim lives in the database
	// and the API is not rate limited.
	var (
		claimer worker.DigestClaimer = repo
		limiter api.Limiter
	)
	if cfg.RedisHost != "" {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using database digest guard and no rate limiting",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			claimer = redis.NewDigestGuard(redisClient, 0, logger)
			limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitPerMinute,
				Window: time.Minute,
			})
		}
	}

	sender, channels := buildSender(ctx, cfg, logger)

	guard := worker.NewMemoryGuard()
	reminders := worker.NewReminderPoller(repo, sender, worker.ReminderConfig{
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, logger)
	digests := worker.NewDigestPoller(repo, claimer, guard, sender, worker.DigestConfig{
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, logger)
	defer digests.Close()

	// recover triggers whose window passed while we were down
	reminders.CatchUp(ctx)

	sched := scheduler.New(logger)
	if err := sched.Add(cfg.ReminderSchedule, "reminders", 2*time.Minute, func(ctx context.Context) {
		reminders.RunOnce(ctx)
		metrics.SetDBConnections(database.Stats().InUse)
	}); err != nil {
		return err
	}
	if err := sched.Add(cfg.DigestSchedule, "digests", 2*time.Minute, func(ctx context.Context) {
		digests.RunOnce(ctx)
	}); err != nil {
		return err
	}
	sched.Start()

	svc := deadline.NewService(repo, deadline.Config{MinLeadTime: cfg.MinLeadTime}, logger)
	handler := api.NewHandler(logger, svc)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(limiter, logger, api.TenantOrIPKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/health/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(circuitbreaker.Snapshot(channels))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		logger.Warn("http server did not shut down cleanly", zap.Error(err))
	}
	if err := sched.Stop(ctx); err != nil {
		logger.Warn("pollers cancelled before finishing", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return runErr
}

// buildSender assembles every configured delivery channel behind its own
// circuit breaker. The log channel is always available. The protected
// senders are returned too so their breakers can be inspected.
func buildSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.MultiSender, []gateway.Sender) {
	channels := map[string]gateway.Sender{
		db.ChannelLog: gateway.NewLogSender(logger),
		db.ChannelWebhook: gateway.NewWebhookSender(logger, gateway.WebhookConfig{
			Timeout:       cfg.WebhookTimeout,
			RatePerSecond: cfg.WebhookRPS,
			Burst:         1,
		}),
	}

	if cfg.TelegramToken != "" {
		tg, err := gateway.NewTelegramSender(cfg.TelegramToken, cfg.DeliveryTimeout, logger)
		if err != nil {
			logger.Warn("telegram sender unavailable", zap.Error(err))
		} else {
			channels[db.ChannelTelegram] = tg
		}
	}

	if cfg.AWSEnabled {
		awsCfg := gateway.AWSConfig{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}

		if ses, err := gateway.NewSESSender(ctx, awsCfg, cfg.SESFromEmail, logger); err != nil {
			logger.Warn("SES sender unavailable, email disabled", zap.Error(err))
		} else {
			channels[db.ChannelEmail] = ses
		}

		snsCfg := gateway.AWSConfig{Region: cfg.SNSRegion, Endpoint: cfg.AWSEndpoint}
		if sms, err := gateway.NewSNSSender(ctx, snsCfg, logger); err != nil {
			logger.Warn("SNS sender unavailable, SMS disabled", zap.Error(err))
		} else {
			channels[db.ChannelSMS] = sms
		}
		if topic, err := gateway.NewTopicSender(ctx, snsCfg, logger); err != nil {
			logger.Warn("SNS topic sender unavailable", zap.Error(err))
		} else {
			channels[db.ChannelTopic] = topic
		}

		sqsCfg := gateway.AWSConfig{Region: cfg.SQSRegion, Endpoint: cfg.AWSEndpoint}
		if queue, err := gateway.NewSQSSender(ctx, sqsCfg, logger); err != nil {
			logger.Warn("SQS sender unavailable, queue channel disabled", zap.Error(err))
		} else {
			channels[db.ChannelQueue] = queue
		}
	}

	onChange := func(name string, from, to circuitbreaker.State) {
		metrics.SetBreakerState(name, int(to))
	}
	protected := circuitbreaker.Protect(logger, onChange, channels)
	multi := gateway.NewMultiSender(logger, protected...)

	logger.Info("delivery channels ready", zap.Strings("channels", multi.Channels()))
	return multi, protected
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("tenant_id", r.Header.Get("X-Tenant-ID")),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
