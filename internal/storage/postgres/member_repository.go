package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type memberRepository struct {
	db dbtx
}

const selectMember = `
	SELECT id, username, city, street, zipcode, created_at
	FROM members
`

func (r *memberRepository) FindByID(ctx context.Context, id string) (domain.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	member, err := scanMember(r.db.QueryRowContext(ctx, selectMember+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Member{}, domain.ErrMemberNotFound
		}
		return domain.Member{}, fmt.Errorf("select member: %w", err)
	}
	return member, nil
}

func (r *memberRepository) FindByUsername(ctx context.Context, username string) (domain.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	member, err := scanMember(r.db.QueryRowContext(ctx, selectMember+` WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Member{}, domain.ErrMemberNotFound
		}
		return domain.Member{}, fmt.Errorf("select member by username: %w", err)
	}
	return member, nil
}

func (r *memberRepository) FindAll(ctx context.Context) ([]domain.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectMember+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]domain.Member, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}
	return members, nil
}

func (r *memberRepository) Save(ctx context.Context, member domain.Member) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, username, city, street, zipcode, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    city = EXCLUDED.city,
		    street = EXCLUDED.street,
		    zipcode = EXCLUDED.zipcode
	`,
		member.ID, member.Username,
		member.Address.City, member.Address.Street, member.Address.Zipcode,
		member.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateMember
		}
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (domain.Member, error) {
	var member domain.Member
	if err := row.Scan(
		&member.ID, &member.Username,
		&member.Address.City, &member.Address.Street, &member.Address.Zipcode,
		&member.CreatedAt,
	); err != nil {
		return domain.Member{}, err
	}
	member.CreatedAt = member.CreatedAt.UTC()
	return member, nil
}

var _ domain.MemberRepository = (*memberRepository)(nil)
