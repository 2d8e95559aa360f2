package catalog

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service управляет каталогом товаров.
type Service struct {
	uow    domain.UnitOfWork
	items  domain.ItemRepository
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(uow domain.UnitOfWork, items domain.ItemRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{uow: uow, items: items, logger: logger}
}

// AddItem добавляет товар и возвращает его идентификатор.
func (s *Service) AddItem(ctx context.Context, name string, price int64, stock int) (string, error) {
	item, err := domain.NewItem(name, price, stock)
	if err != nil {
		return "", err
	}
	if err := s.items.Save(ctx, *item); err != nil {
		s.logger.WithError(err).WithField("name", item.Name).Warn("add item failed")
		return "", err
	}
	s.logger.WithFields(log.Fields{
		"item_id": item.ID,
		"name":    item.Name,
		"stock":   item.StockQuantity,
	}).Info("item added")
	return item.ID, nil
}

// UpdateItem меняет название, цену и остаток. Сохранение проверяет версию,
// поэтому параллельное оформление заказа приведёт к ErrVersionConflict, а не к потере списания.
func (s *Service) UpdateItem(ctx context.Context, id, name string, price int64, stock int) error {
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		item, err := repos.Items.FindByID(ctx, id)
		if err != nil {
			return err
		}
		item.Name = strings.TrimSpace(name)
		item.Price = price
		item.StockQuantity = stock
		item.UpdatedAt = time.Now().UTC()
		if errs := item.Validate(); len(errs) > 0 {
			return errs[0]
		}
		return repos.Items.Save(ctx, item)
	})
	if err != nil {
		s.logger.WithError(err).WithField("item_id", id).Warn("update item failed")
		return err
	}
	s.logger.WithField("item_id", id).Info("item updated")
	return nil
}

// Items возвращает весь каталог.
func (s *Service) Items(ctx context.Context) ([]domain.Item, error) {
	return s.items.FindAll(ctx)
}

// Item возвращает товар по идентификатору.
func (s *Service) Item(ctx context.Context, id string) (domain.Item, error) {
	return s.items.FindByID(ctx, id)
}
