package domain

import "context"

// MemberRepository описывает требования к хранилищу участников.
type MemberRepository interface {
	// FindByID возвращает участника или ErrMemberNotFound.
	FindByID(ctx context.Context, id string) (Member, error)
	// FindByUsername ищет по точному совпадению username.
	FindByUsername(ctx context.Context, username string) (Member, error)
	FindAll(ctx context.Context) ([]Member, error)
	// Save вставляет нового участника или обновляет существующего.
	Save(ctx context.Context, member Member) error
}

// ItemRepository описывает требования к каталогу товаров.
type ItemRepository interface {
	// FindByID возвращает товар или ErrItemNotFound.
	FindByID(ctx context.Context, id string) (Item, error)
	// FindByIDs загружает набор товаров за одно обращение. Отсутствующие id пропускаются.
	FindByIDs(ctx context.Context, ids []string) ([]Item, error)
	FindAll(ctx context.Context) ([]Item, error)
	// Save вставляет товар с Version == 0 или обновляет с optimistic locking.
	// После успешного сохранения Version в хранилище увеличивается на 1.
	Save(ctx context.Context, item Item) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// FindByID возвращает заказ вместе с позициями и доставкой или ErrOrderNotFound.
	FindByID(ctx context.Context, id string) (Order, error)
	// Save вставляет новый заказ (Version == 0) или обновляет статусы с проверкой версии.
	Save(ctx context.Context, order Order) error
	// FindOrders ищет заказы по критериям, не более MaxSearchResults строк.
	FindOrders(ctx context.Context, search OrderSearch) ([]OrderWithMember, error)
	// FindByMember возвращает заказы участника.
	FindByMember(ctx context.Context, memberID string) ([]Order, error)
}

// OrderQueryRepository — read-side запросы для проекций заказов.
type OrderQueryRepository interface {
	// FindOrderSummaries выполняет один запрос order ⋈ member ⋈ delivery.
	FindOrderSummaries(ctx context.Context, page Page) ([]OrderSummaryRow, error)
	// FindOrderItemRows выполняет один запрос позиций по набору заказов.
	FindOrderItemRows(ctx context.Context, orderIDs []string) ([]OrderItemRow, error)
	// FindOrderFlatRows выполняет один запрос со строкой на каждую позицию.
	FindOrderFlatRows(ctx context.Context) ([]OrderFlatRow, error)
}
