package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/errify/internal/domain"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

var _ domain.ProfileRepository = (*ProfileRepo)(nil)

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetByID(ctx context.Context, profileID uuid.UUID) (*domain.Profile, error) {
	var p domain.Profile
	err := r.pool.QueryRow(ctx,
		"SELECT id, email, display_name, email_confirmed FROM profiles WHERE id = $1", profileID,
	).Scan(&p.ID, &p.Email, &p.DisplayName, &p.EmailConfirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
