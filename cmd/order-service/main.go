package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envLogLevel              = "SHOP_LOG_LEVEL"
	envGRPCAddr              = "SHOP_GRPC_ADDR"
	envMetricsAddr           = "SHOP_METRICS_ADDR"
	envStorageDriver         = "SHOP_STORAGE_DRIVER"
	envPostgresDSN           = "SHOP_POSTGRES_DSN"
	envPostgresAutoMigrate   = "SHOP_POSTGRES_AUTO_MIGRATE"
	envOutboxPollInterval    = "SHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize       = "SHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts     = "SHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay      = "SHOP_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending      = "SHOP_OUTBOX_MAX_PENDING"
	envKafkaBrokers          = "KAFKA_BROKERS"
	envOrderEventsTopic      = "SHOP_ORDER_EVENTS_TOPIC"
	envDeliveryEventsTopic   = "SHOP_DELIVERY_EVENTS_TOPIC"
	envDeadLetterTopic       = "SHOP_DLQ_TOPIC"
	envDeliveryConsumerGroup = "SHOP_DELIVERY_CONSUMER_GROUP"
	envDeliveryMaxRetries    = "SHOP_DELIVERY_MAX_RETRIES"
	envShutdownTimeout       = "SHOP_SHUTDOWN_TIMEOUT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Некорректный уровень возвращается как предупреждение, уровень остаётся info.
func setupLogger(lookup envLookup) string {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Sprintf("%s: %v", envLogLevel, err)
	}
	log.SetLevel(level)
	return ""
}

// readConfigFromEnv собирает конфигурацию из окружения поверх DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings
// попадает описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v, using default", key, err))
	}
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, err)
				return
			}
			*target = parsed
		}
	}
	integer := func(key string, target *int, validate func(int) bool, msg string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, validate, msg)
			if err != nil {
				warn(key, err)
				return
			}
			*target = parsed
		}
	}
	duration := func(key string, target *time.Duration, validate func(time.Duration) bool, msg string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, validate, msg)
			if err != nil {
				warn(key, err)
				return
			}
			*target = parsed
		}
	}
	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envOrderEventsTopic, &cfg.OrderEventsTopic)
	str(envDeliveryEventsTopic, &cfg.DeliveryEventsTopic)
	str(envDeadLetterTopic, &cfg.DeadLetterTopic)
	str(envDeliveryConsumerGroup, &cfg.DeliveryConsumerGroup)
	integer(envDeliveryMaxRetries, &cfg.DeliveryMaxRetries, positive, "must be > 0")
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, func(v time.Duration) bool { return v > 0 }, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("invalid int value %d: %s", value, msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("invalid duration value %s: %s", value, msg)
	}
	return value, nil
}

func main() {
	if warning := setupLogger(os.LookupEnv); warning != "" {
		log.Warn(warning)
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.Current()
	if !build.IsRelease() {
		log.Debug("бинарник собран без -ldflags, версия dev")
	}
	log.WithFields(build.LogFields()).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
	}).Info("запускаем storefront OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
