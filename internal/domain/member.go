package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Member — покупатель. Заказы участника ищутся через репозиторий, а не хранятся в нём.
type Member struct {
	ID        string
	Username  string
	Address   Address
	CreatedAt time.Time
}

// NewMember создаёт участника. Уникальность username проверяет сервис регистрации.
func NewMember(username string, address Address) (*Member, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if err := address.Validate(); err != nil {
		return nil, err
	}
	return &Member{
		ID:        uuid.NewString(),
		Username:  username,
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}, nil
}
