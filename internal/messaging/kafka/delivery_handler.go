package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DeliveryStatusUpdater применяет статус доставки к заказу.
type DeliveryStatusUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, orderID string, status domain.DeliveryStatus) error
}

// NewDeliveryHandler возвращает обработчик topic'а доставки.
// Ошибки, которые не исправятся повтором, помечаются как Permanent.
func NewDeliveryHandler(updater DeliveryStatusUpdater, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "delivery-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseDeliveryEvent(message)
		if err != nil {
			return Permanent(err)
		}

		err = updater.UpdateDeliveryStatus(ctx, event.OrderID, event.Status)
		switch {
		case err == nil:
			logger.WithFields(log.Fields{
				"order_id": event.OrderID,
				"status":   event.Status,
			}).Info("delivery status applied")
			return nil
		case domain.IsNotFound(err),
			domain.IsInvalidArgument(err),
			errors.Is(err, domain.ErrInvalidDeliveryTransition),
			errors.Is(err, domain.ErrOrderAlreadyCanceled):
			return Permanent(err)
		default:
			// Конфликт версий и ошибки хранилища повторяем.
			return err
		}
	}
}
