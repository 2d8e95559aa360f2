package membership

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service регистрирует участников и отдаёт их список.
type Service struct {
	uow     domain.UnitOfWork
	members domain.MemberRepository
	logger  *log.Entry
}

// NewService создаёт сервис участников.
func NewService(uow domain.UnitOfWork, members domain.MemberRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "membership")
	}
	return &Service{uow: uow, members: members, logger: logger}
}

// Join регистрирует участника. Проверка уникальности username и вставка идут в одной единице работы.
func (s *Service) Join(ctx context.Context, username string, address domain.Address) (string, error) {
	member, err := domain.NewMember(username, address)
	if err != nil {
		return "", err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		_, err := repos.Members.FindByUsername(ctx, member.Username)
		switch {
		case err == nil:
			return domain.ErrDuplicateMember
		case !errors.Is(err, domain.ErrMemberNotFound):
			return fmt.Errorf("lookup member %q: %w", member.Username, err)
		}
		return repos.Members.Save(ctx, *member)
	})
	if err != nil {
		s.logger.WithError(err).WithField("username", member.Username).Warn("join failed")
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"member_id": member.ID,
		"username":  member.Username,
	}).Info("member joined")
	return member.ID, nil
}

// Members возвращает всех участников.
func (s *Service) Members(ctx context.Context) ([]domain.Member, error) {
	return s.members.FindAll(ctx)
}

// Member возвращает участника по идентификатору.
func (s *Service) Member(ctx context.Context, id string) (domain.Member, error) {
	return s.members.FindByID(ctx, id)
}
