package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — базовая ошибка для отсутствующих сущностей.
	ErrNotFound = errors.New("not found")
	// ErrMemberNotFound возвращается, если участник не найден в репозитории.
	ErrMemberNotFound = fmt.Errorf("member %w", ErrNotFound)
	// ErrItemNotFound возвращается, если товар не найден в каталоге.
	ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)

	// ErrInvalidArgument — базовая ошибка некорректных входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
	// Ошибка отрицательного количества при изменении остатка.
	ErrQuantityNegative = fmt.Errorf("%w: quantity must be non-negative", ErrInvalidArgument)
	// Ошибка при некорректном количестве в позиции заказа (<= 0).
	ErrCountInvalid = fmt.Errorf("%w: count must be greater than zero", ErrInvalidArgument)
	// Ошибка, если цена отрицательная.
	ErrPriceNegative = fmt.Errorf("%w: price must be non-negative", ErrInvalidArgument)
	// Ошибка пустого названия товара.
	ErrItemNameRequired = fmt.Errorf("%w: item name is required", ErrInvalidArgument)
	// Ошибка пустого имени участника.
	ErrUsernameRequired = fmt.Errorf("%w: username is required", ErrInvalidArgument)
	// Ошибка незаполненного адреса.
	ErrAddressIncomplete = fmt.Errorf("%w: address requires city, street and zipcode", ErrInvalidArgument)
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidArgument)
	// Ошибка отрицательных параметров страницы.
	ErrPageInvalid = fmt.Errorf("%w: offset and limit must be non-negative", ErrInvalidArgument)

	// ErrInsufficientStock — запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotCancelable — доставка завершена, заказ больше нельзя отменить.
	ErrOrderNotCancelable = errors.New("order is not cancelable: delivery completed")
	// ErrOrderAlreadyCanceled — повторная отмена уже отменённого заказа.
	ErrOrderAlreadyCanceled = errors.New("order is already canceled")
	// ErrInvalidDeliveryTransition — недопустимый переход статуса доставки.
	ErrInvalidDeliveryTransition = errors.New("invalid delivery status transition")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateMember — участник с таким username уже зарегистрирован.
	ErrDuplicateMember = errors.New("member already exists")
	// ErrPaginationUnsupported — пагинация поверх join'а 1:N искажает offset/limit.
	ErrPaginationUnsupported = errors.New("pagination is not supported for one-to-many fetch")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, что ошибка относится к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidArgument проверяет, что ошибка вызвана некорректными входными данными.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
