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

type LikeRepo struct {
	pool *pgxpool.Pool
}

var _ domain.LikeRepository = (*LikeRepo)(nil)

func NewLikeRepo(pool *pgxpool.Pool) *LikeRepo {
	return &LikeRepo{pool: pool}
}

// Toggle runs in one transaction with the post row locked, so concurrent
// toggles on the same post serialise and like_count stays equal to the
// number of post_likes rows.
func (r *LikeRepo) Toggle(ctx context.Context, postID, userID uuid.UUID) (liked bool, likeCount int, err error) {
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var current int
		if err := tx.QueryRow(ctx, "SELECT like_count FROM posts WHERE id = $1 FOR UPDATE", postID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPostNotFound
			}
			return fmt.Errorf("failed to lock post: %w", err)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2", postID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove like: %w", err)
		}
		delta := -1
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx, "INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)", postID, userID); err != nil {
				return fmt.Errorf("failed to add like: %w", err)
			}
			liked, delta = true, 1
		}

		err = tx.QueryRow(ctx, "UPDATE posts SET like_count = like_count + $2 WHERE id = $1 RETURNING like_count", postID, delta).Scan(&likeCount)
		if err != nil {
			return fmt.Errorf("failed to update like count: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return liked, likeCount, nil
}
