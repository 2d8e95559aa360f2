package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const storageCheckTimeout = 2 * time.Second

// runtimeDependencies — хранилище, выбранное конфигурацией, вместе с его служебными хуками.
type runtimeDependencies struct {
	uow            domain.UnitOfWork
	repos          domain.Repositories
	queries        domain.OrderQueryRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("storage driver: memory")
		return runtimeDependencies{
			uow: store,
			repos: domain.Repositories{
				Members: store.Members(),
				Items:   store.Items(),
				Orders:  store.Orders(),
				Outbox:  store.Outbox(),
			},
			queries:        store.Queries(),
			storageChecker: pingChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres dsn is required for storage driver %q", driver)
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("storage driver: postgres")
		return runtimeDependencies{
			uow: store,
			repos: domain.Repositories{
				Members: store.Members(),
				Items:   store.Items(),
				Orders:  store.Orders(),
				Outbox:  store.Outbox(),
			},
			queries:        store.Queries(),
			storageChecker: pingChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func pingChecker(name string, ping func(context.Context) error) healthcheck.Checker {
	return healthcheck.NewSimpleChecker(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), storageCheckTimeout)
		defer cancel()
		return ping(ctx)
	})
}

// outboxBacklogChecker переводит сервис в degraded, когда неотправленных событий больше maxPending.
func outboxBacklogChecker(outbox domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewThresholdChecker("outbox", func() (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), storageCheckTimeout)
		defer cancel()
		stats, err := outbox.Stats(ctx)
		if err != nil {
			return 0, err
		}
		return stats.PendingCount, nil
	}, maxPending)
}
