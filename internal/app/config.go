package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog для health check; 0 отключает проверку.
	OutboxMaxPending int

	// KafkaBrokers — список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers          string
	OrderEventsTopic      string
	DeliveryEventsTopic   string
	DeadLetterTopic       string
	DeliveryConsumerGroup string
	DeliveryMaxRetries    int
	DeliveryRetryDelay    time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      100 * time.Millisecond,
		OutboxMaxPending:      1000,
		OrderEventsTopic:      kafka.TopicOrderEvents,
		DeliveryEventsTopic:   kafka.TopicDeliveryEvents,
		DeadLetterTopic:       kafka.TopicDeadLetterQueue,
		DeliveryConsumerGroup: "storefront-delivery",
		DeliveryMaxRetries:    3,
		DeliveryRetryDelay:    200 * time.Millisecond,
		ShutdownTimeout:       5 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be > 0"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be > 0"))
	}
	if c.OutboxMaxPending < 0 {
		errs = append(errs, errors.New("outbox max pending must be >= 0"))
	}
	if c.kafkaEnabled() && strings.TrimSpace(c.DeliveryConsumerGroup) == "" {
		errs = append(errs, errors.New("delivery consumer group is required when kafka is enabled"))
	}

	return errors.Join(errs...)
}

func (c Config) kafkaEnabled() bool {
	return len(c.brokers()) > 0
}

func (c Config) brokers() []string {
	return splitBrokers(c.KafkaBrokers)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout
}
