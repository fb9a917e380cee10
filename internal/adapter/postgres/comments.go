package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/errify/internal/domain"
)

type commentRow struct {
	ID          string    `db:"id"`
	PostID      uuid.UUID `db:"post_id"`
	UserID      uuid.UUID `db:"user_id"`
	AuthorName  string    `db:"author_name"`
	Content     string    `db:"content"`
	IsAnonymous bool      `db:"is_anonymous"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r commentRow) toDomain() domain.Comment {
	return domain.Comment{
		ID:          r.ID,
		PostID:      r.PostID,
		UserID:      r.UserID,
		AuthorName:  r.AuthorName,
		Content:     r.Content,
		IsAnonymous: r.IsAnonymous,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type CommentRepo struct {
	pool *pgxpool.Pool
}

var _ domain.CommentRepository = (*CommentRepo)(nil)

func NewCommentRepo(pool *pgxpool.Pool) *CommentRepo {
	return &CommentRepo{pool: pool}
}

// Add inserts the comment and bumps the post's comment_count atomically.
func (r *CommentRepo) Add(ctx context.Context, c *domain.Comment) (*domain.Comment, error) {
	var saved commentRow
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1", c.PostID)
		if err != nil {
			return fmt.Errorf("failed to update comment count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPostNotFound
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO comments (id, post_id, user_id, author_name, content, is_anonymous, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, post_id, user_id, author_name, content, is_anonymous, created_at`,
			c.ID, c.PostID, c.UserID, c.AuthorName, c.Content, c.IsAnonymous, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		saved, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[commentRow])
		if err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := saved.toDomain()
	return &out, nil
}

func (r *CommentRepo) ListByPost(ctx context.Context, postID uuid.UUID) ([]domain.Comment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, post_id, user_id, author_name, content, is_anonymous, created_at
		FROM comments WHERE post_id = $1 ORDER BY id`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[commentRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan comments: %w", err)
	}

	out := make([]domain.Comment, 0, len(collected))
	for _, row := range collected {
		out = append(out, row.toDomain())
	}
	return out, nil
}
