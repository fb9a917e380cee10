package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/samber/lo"
)

const postColumns = `id, author_id, author_name, title, content, category, tags,
	failure_details, collaboration, privacy, is_anonymous, status,
	views, like_count, comment_count, created_at, updated_at`

type postRow struct {
	ID             uuid.UUID             `db:"id"`
	AuthorID       uuid.UUID             `db:"author_id"`
	AuthorName     string                `db:"author_name"`
	Title          string                `db:"title"`
	Content        string                `db:"content"`
	Category       string                `db:"category"`
	Tags           []string              `db:"tags"`
	FailureDetails domain.FailureDetails `db:"failure_details"`
	Collaboration  domain.Collaboration  `db:"collaboration"`
	Privacy        domain.Privacy        `db:"privacy"`
	IsAnonymous    bool                  `db:"is_anonymous"`
	Status         string                `db:"status"`
	Views          int                   `db:"views"`
	LikeCount      int                   `db:"like_count"`
	CommentCount   int                   `db:"comment_count"`
	CreatedAt      time.Time             `db:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at"`
}

func (r postRow) toDomain() domain.Post {
	return domain.Post{
		ID:             r.ID,
		AuthorID:       r.AuthorID,
		AuthorName:     r.AuthorName,
		Title:          r.Title,
		Content:        r.Content,
		Category:       r.Category,
		Tags:           lo.Ternary(r.Tags == nil, []string{}, r.Tags),
		FailureDetails: r.FailureDetails,
		Collaboration:  r.Collaboration,
		Privacy:        r.Privacy,
		IsAnonymous:    r.IsAnonymous,
		Status:         r.Status,
		Views:          r.Views,
		LikeCount:      r.LikeCount,
		CommentCount:   r.CommentCount,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type PostRepo struct {
	pool *pgxpool.Pool
}

var _ domain.PostRepository = (*PostRepo)(nil)

func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

func (r *PostRepo) List(ctx context.Context, filter domain.PostFilter) (domain.PostPage, error) {
	filter = filter.Normalized()
	where, args := listConditions(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM posts WHERE "+where, args...).Scan(&total); err != nil {
		return domain.PostPage{}, fmt.Errorf("failed to count posts: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM posts WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		postColumns, where, orderBy(filter.Sort), len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return domain.PostPage{}, fmt.Errorf("failed to list posts: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[postRow])
	if err != nil {
		return domain.PostPage{}, fmt.Errorf("failed to scan posts: %w", err)
	}

	posts := lo.Map(collected, func(row postRow, _ int) domain.Post { return row.toDomain() })
	return domain.PostPage{Posts: posts, Pagination: domain.NewPagination(filter, total)}, nil
}

func listConditions(f domain.PostFilter) (string, []any) {
	conds := []string{"status = $1"}
	args := []any{domain.PostStatusActive}

	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.AuthorID != uuid.Nil {
		args = append(args, f.AuthorID)
		conds = append(conds, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE $%[1]d OR content ILIKE $%[1]d OR EXISTS (SELECT 1 FROM unnest(tags) AS tag WHERE tag ILIKE $%[1]d))", n))
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func orderBy(sort domain.PostSort) string {
	switch sort {
	case domain.SortOldest:
		return "created_at ASC, id"
	case domain.SortPopular:
		return "like_count DESC, created_at DESC, id"
	case domain.SortTrending:
		return "views DESC, created_at DESC, id"
	default:
		return "created_at DESC, id"
	}
}

func (r *PostRepo) Get(ctx context.Context, postID uuid.UUID) (*domain.Post, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+postColumns+" FROM posts WHERE id = $1", postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return collectPost(rows)
}

func collectPost(rows pgx.Rows) (*domain.Post, error) {
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[postRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	post := row.toDomain()
	return &post, nil
}

func (r *PostRepo) IncrementViews(ctx context.Context, postID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE posts SET views = views + 1 WHERE id = $1", postID)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

func (r *PostRepo) Create(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO posts (id, author_id, author_name, title, content, category, tags,
			failure_details, collaboration, privacy, is_anonymous, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+postColumns,
		post.ID, post.AuthorID, post.AuthorName, post.Title, post.Content, post.Category, nonNil(post.Tags),
		post.FailureDetails, post.Collaboration, post.Privacy, post.IsAnonymous, post.Status,
		post.CreatedAt, post.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return collectPost(rows)
}

// Update writes the editable fields. Counters and authorship are untouched.
func (r *PostRepo) Update(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE posts SET title = $2, content = $3, category = $4, tags = $5,
			failure_details = $6, collaboration = $7, privacy = $8, is_anonymous = $9, updated_at = $10
		WHERE id = $1
		RETURNING `+postColumns,
		post.ID, post.Title, post.Content, post.Category, nonNil(post.Tags),
		post.FailureDetails, post.Collaboration, post.Privacy, post.IsAnonymous, post.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return collectPost(rows)
}

func (r *PostRepo) Delete(ctx context.Context, postID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM posts WHERE id = $1", postID)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
