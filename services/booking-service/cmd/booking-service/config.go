package main

import (
	"errors"
	"time"

	"github.com/hourbook/hourbook/libs/cache"
	"github.com/hourbook/hourbook/libs/config"
	"github.com/hourbook/hourbook/libs/kafkax"
	"github.com/hourbook/hourbook/services/booking-service/internal/handlers"
	"github.com/hourbook/hourbook/services/booking-service/internal/notify"
)

type serviceConfig struct {
	Service        string
	Port           string
	GRPCPort       string
	LogLevel       string
	DatabaseURL    string
	MigrateOnStart bool
	Redis          cache.Options
	KafkaBrokers   []string
	Locale         string
	ListCacheTTL   time.Duration
	CancelNotice   time.Duration
	RateLimit      int
	RateLimitOpen  bool
}

// loadConfig reads every setting and reports all malformed values at once.
func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:      config.String("SERVICE_NAME", "booking-service"),
		LogLevel:     config.String("LOG_LEVEL", "info"),
		KafkaBrokers: kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
		Locale:       config.String("NOTIFICATION_LOCALE", notify.DefaultLocale),
		Redis: cache.Options{
			Addr:     config.String("REDIS_ADDR", "localhost:6379"),
			Password: config.String("REDIS_PASSWORD", ""),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.Port, err = config.Port("PORT", "8083")
	collect(err)
	cfg.GRPCPort, err = config.Port("GRPC_PORT", "9083")
	collect(err)
	cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL")
	collect(err)
	cfg.MigrateOnStart, err = config.Bool("MIGRATE_ON_START", true)
	collect(err)
	cfg.Redis.DB, err = config.Int("REDIS_DB", 0)
	collect(err)
	cfg.ListCacheTTL, err = config.Duration("APPOINTMENTS_CACHE_TTL", handlers.DefaultListCacheTTL)
	collect(err)
	cfg.CancelNotice, err = config.Duration("CANCEL_MIN_NOTICE", handlers.DefaultCancelNotice)
	collect(err)
	cfg.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 30)
	collect(err)
	cfg.RateLimitOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	collect(err)

	if cfg.Port != "" && cfg.Port == cfg.GRPCPort {
		errs = append(errs, errors.New("PORT and GRPC_PORT must differ"))
	}
	return cfg, errors.Join(errs...)
}
