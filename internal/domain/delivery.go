package domain

import "github.com/google/uuid"

// DeliveryStatus описывает стадию доставки заказа.
type DeliveryStatus string

const (
	// DeliveryStatusPreparing — доставка создана вместе с заказом.
	DeliveryStatusPreparing DeliveryStatus = "PREPARING"
	// DeliveryStatusInProgress — заказ передан в доставку.
	DeliveryStatusInProgress DeliveryStatus = "IN_PROGRESS"
	// DeliveryStatusCompleted — заказ доставлен, отмена невозможна.
	DeliveryStatusCompleted DeliveryStatus = "COMPLETED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPreparing, DeliveryStatusInProgress, DeliveryStatusCompleted:
		return true
	default:
		return false
	}
}

// Delivery принадлежит ровно одному заказу и живёт вместе с ним.
type Delivery struct {
	ID      string
	Address Address
	Status  DeliveryStatus
}

// NewDelivery создаёт доставку по адресу участника на момент заказа.
func NewDelivery(address Address) Delivery {
	return Delivery{
		ID:      uuid.NewString(),
		Address: address,
		Status:  DeliveryStatusPreparing,
	}
}

// Start переводит доставку PREPARING → IN_PROGRESS.
func (d *Delivery) Start() error {
	if d.Status != DeliveryStatusPreparing {
		return ErrInvalidDeliveryTransition
	}
	d.Status = DeliveryStatusInProgress
	return nil
}

// Complete завершает доставку. Повторное завершение — ошибка.
func (d *Delivery) Complete() error {
	if d.Status == DeliveryStatusCompleted {
		return ErrInvalidDeliveryTransition
	}
	d.Status = DeliveryStatusCompleted
	return nil
}

// Advance применяет переход к целевому статусу.
func (d *Delivery) Advance(target DeliveryStatus) error {
	switch target {
	case DeliveryStatusInProgress:
		return d.Start()
	case DeliveryStatusCompleted:
		return d.Complete()
	default:
		return ErrInvalidDeliveryTransition
	}
}
