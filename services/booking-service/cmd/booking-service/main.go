package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hourbook/hourbook/libs/cache"
	"github.com/hourbook/hourbook/libs/config"
	"github.com/hourbook/hourbook/libs/db"
	"github.com/hourbook/hourbook/libs/grpcx"
	"github.com/hourbook/hourbook/libs/httpx"
	"github.com/hourbook/hourbook/libs/kafkax"
	otelx "github.com/hourbook/hourbook/libs/otel"
	"github.com/hourbook/hourbook/libs/runtime"
	"github.com/hourbook/hourbook/services/booking-service/internal/admission"
	"github.com/hourbook/hourbook/services/booking-service/internal/handlers"
	"github.com/hourbook/hourbook/services/booking-service/internal/migrations"
	"github.com/hourbook/hourbook/services/booking-service/internal/notify"
	"github.com/hourbook/hourbook/services/booking-service/internal/outbox"
	"github.com/hourbook/hourbook/services/booking-service/internal/storage"
)

const healthService = "hourbook.booking.v1.BookingService"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := runtime.ShutdownContext(5 * time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
	}

	redisCache, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer func() { _ = redisCache.Close() }()

	formatter, ok := notify.NewFormatter(cfg.Locale)
	if !ok {
		logger.Warn("unsupported notification locale; using default",
			"locale", cfg.Locale, "default", notify.DefaultLocale, "supported", notify.SupportedLocales())
	}

	outboxRepo := outbox.NewRepository()
	users := storage.NewUserRepository(pool)
	appointments := storage.NewAppointmentRepository(pool)
	notifications := storage.NewNotificationRepository(pool, outboxRepo)

	admitter := admission.NewService(users, appointments, notifications, redisCache, formatter,
		admission.WithLogger(logger))

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: cache.ReadyCheck(redisCache)},
	}
	if len(cfg.KafkaBrokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	bookingHandler := handlers.NewBookingHandler(admitter, appointments, redisCache, logger, handlers.Config{
		ListCacheTTL: cfg.ListCacheTTL,
		CancelNotice: cfg.CancelNotice,
	})
	mux := runtime.NewBaseMuxWithReady(checks...)
	bookingHandler.Register(mux)

	var rateLimit httpx.Middleware
	if cfg.RateLimit > 0 {
		limiter := httpx.NewRedisRateLimiter(redisCache.Client(), cfg.RateLimit, time.Minute, "rl:"+cfg.Service)
		rateLimit = httpx.OnlyMethods(limiter.Middleware(logger, cfg.RateLimitOpen), http.MethodPost)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go grpcx.Serve(ctx, logger, grpcSrv, lis)
	go grpcx.WatchHealth(ctx, health, healthService, 10*time.Second, func(ctx context.Context) error {
		if failures := runtime.CheckAll(ctx, 2*time.Second, checks...); len(failures) > 0 {
			return errors.New(strings.Join(failures, "; "))
		}
		return nil
	})

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := runtime.ShutdownContext(10 * time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
