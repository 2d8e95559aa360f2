package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type memberRepository struct {
	store *Store
	tx    *txState
}

func (r *memberRepository) FindByID(ctx context.Context, id string) (domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return domain.Member{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	member, ok := r.store.lookupMember(r.tx, id)
	if !ok {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	return member, nil
}

func (r *memberRepository) FindByUsername(ctx context.Context, username string) (domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return domain.Member{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, member := range r.store.allMembers(r.tx) {
		if member.Username == username {
			return member, nil
		}
	}
	return domain.Member{}, domain.ErrMemberNotFound
}

func (r *memberRepository) FindAll(ctx context.Context) ([]domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.allMembers(r.tx), nil
}

// Save вставляет или перезаписывает участника. Username должен быть уникален.
func (r *memberRepository) Save(ctx context.Context, member domain.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx == nil {
		r.store.writeMu.Lock()
		defer r.store.writeMu.Unlock()
	}

	r.store.mu.RLock()
	for _, existing := range r.store.allMembers(r.tx) {
		if existing.Username == member.Username && existing.ID != member.ID {
			r.store.mu.RUnlock()
			return domain.ErrDuplicateMember
		}
	}
	r.store.mu.RUnlock()

	if r.tx != nil {
		r.tx.members[member.ID] = member
		return nil
	}

	r.store.mu.Lock()
	r.store.members[member.ID] = member
	r.store.mu.Unlock()
	return nil
}

var _ domain.MemberRepository = (*memberRepository)(nil)
