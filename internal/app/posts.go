package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/domain"
)

// Event messages carried in payloads for display by clients.
const (
	msgPostCreated  = "New research post created"
	msgPostUpdated  = "Post updated"
	msgPostDeleted  = "Post deleted"
	msgPostLiked    = "Post liked"
	msgPostUnliked  = "Post unliked"
	msgCommentAdded = "New comment added"
)

// ErrNotify marks a write that committed but whose real-time notification
// failed. The returned value is still valid.
var ErrNotify = errors.New("real-time notification failed")

type LikeResult struct {
	Liked     bool
	LikeCount int
}

type PostService struct {
	posts    domain.PostRepository
	likes    domain.LikeRepository
	comments domain.CommentRepository
	notifier domain.Notifier
	validate *validator.Validate
	clock    clockwork.Clock
	metrics  *metrics.PostMetrics
}

func NewPostService(posts domain.PostRepository, likes domain.LikeRepository, comments domain.CommentRepository, notifier domain.Notifier, clock clockwork.Clock, m *metrics.PostMetrics) *PostService {
	return &PostService{
		posts:    posts,
		likes:    likes,
		comments: comments,
		notifier: notifier,
		validate: newValidator(),
		clock:    clock,
		metrics:  m,
	}
}

func (s *PostService) ListPosts(ctx context.Context, filter domain.PostFilter) (domain.PostPage, error) {
	filter = filter.Normalized()
	filter.Search = strings.TrimSpace(filter.Search)

	page, err := s.posts.List(ctx, filter)
	if err != nil {
		return domain.PostPage{}, err
	}
	for i := range page.Posts {
		page.Posts[i] = page.Posts[i].Redacted()
	}
	return page, nil
}

// GetPost returns a post and counts the view.
func (s *PostService) GetPost(ctx context.Context, postID uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.posts.IncrementViews(ctx, postID); err != nil {
		slog.Warn("Failed to count post view", "post_id", postID, "error", err)
	} else {
		post.Views++
	}

	redacted := post.Redacted()
	return &redacted, nil
}

func (s *PostService) CreatePost(ctx context.Context, author domain.Profile, in CreatePostInput) (*domain.Post, error) {
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	now := s.clock.Now().UTC()
	post := &domain.Post{
		ID:             uuid.New(),
		AuthorID:       author.ID,
		AuthorName:     displayName(author),
		Title:          in.Title,
		Content:        in.Content,
		Category:       in.Category,
		Tags:           nonNilTags(in.Tags),
		FailureDetails: in.FailureDetails.toDomain(),
		Collaboration:  in.Collaboration.toDomain(),
		Privacy:        in.Privacy.apply(domain.DefaultPrivacy()),
		IsAnonymous:    in.IsAnonymous,
		Status:         domain.PostStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	saved, err := s.posts.Create(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	out := saved.Redacted()
	err = s.publish(ctx, domain.KindNewPost, domain.PostCreatedPayload{Post: out, Message: msgPostCreated}, domain.GlobalRoom)
	return &out, err
}

func (s *PostService) UpdatePost(ctx context.Context, userID, postID uuid.UUID, in UpdatePostInput) (*domain.Post, error) {
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		post.Title = *in.Title
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.Category != nil {
		post.Category = *in.Category
	}
	if in.Tags != nil {
		post.Tags = in.Tags
	}
	if in.FailureDetails != nil {
		post.FailureDetails = in.FailureDetails.toDomain()
	}
	if in.Collaboration != nil {
		post.Collaboration = in.Collaboration.toDomain()
	}
	post.Privacy = in.Privacy.apply(post.Privacy)
	if in.IsAnonymous != nil {
		post.IsAnonymous = *in.IsAnonymous
	}
	post.UpdatedAt = s.clock.Now().UTC()

	saved, err := s.posts.Update(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}

	out := saved.Redacted()
	err = s.publish(ctx, domain.KindPostUpdated, domain.PostUpdatedPayload{PostID: postID, Post: out, Message: msgPostUpdated}, domain.GlobalRoom)
	return &out, err
}

func (s *PostService) DeletePost(ctx context.Context, userID, postID uuid.UUID) error {
	if _, err := s.ownedPost(ctx, userID, postID); err != nil {
		return err
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return s.publish(ctx, domain.KindPostDeleted, domain.PostDeletedPayload{PostID: postID, Message: msgPostDeleted}, domain.GlobalRoom)
}

// ToggleLike likes the post, or unlikes it if userID already liked it.
func (s *PostService) ToggleLike(ctx context.Context, userID, postID uuid.UUID) (LikeResult, error) {
	if _, err := s.posts.Get(ctx, postID); err != nil {
		return LikeResult{}, err
	}

	liked, count, err := s.likes.Toggle(ctx, postID, userID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}

	kind, msg := domain.KindPostUnliked, msgPostUnliked
	if liked {
		kind, msg = domain.KindPostLiked, msgPostLiked
	}
	payload := domain.LikePayload{PostID: postID, UserID: userID, LikeCount: count, Message: msg}
	err = s.publish(ctx, kind, payload, domain.PostRoom(postID))
	return LikeResult{Liked: liked, LikeCount: count}, err
}

func (s *PostService) AddComment(ctx context.Context, author domain.Profile, postID uuid.UUID, in AddCommentInput) (*domain.Comment, error) {
	trimAll(&in.Content)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.Privacy.AllowComments {
		return nil, domain.ErrCommentsDisabled
	}

	now := s.clock.Now().UTC()
	comment := &domain.Comment{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		PostID:      postID,
		UserID:      author.ID,
		AuthorName:  displayName(author),
		Content:     in.Content,
		IsAnonymous: in.IsAnonymous,
		CreatedAt:   now,
	}

	saved, err := s.comments.Add(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}

	out := saved.Redacted()
	err = s.publish(ctx, domain.KindNewComment, domain.CommentPayload{PostID: postID, Comment: out, Message: msgCommentAdded}, domain.PostRoom(postID))
	return &out, err
}

// ListComments returns the comments of a post, oldest first.
func (s *PostService) ListComments(ctx context.Context, postID uuid.UUID) ([]domain.Comment, error) {
	if _, err := s.posts.Get(ctx, postID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	for i := range comments {
		comments[i] = comments[i].Redacted()
	}
	return comments, nil
}

func (s *PostService) ownedPost(ctx context.Context, userID, postID uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != userID {
		return nil, domain.ErrForbidden
	}
	return post, nil
}

// publish notifies subscribers of a committed write. Failures are reported
// but never undo the write.
func (s *PostService) publish(ctx context.Context, kind domain.EventKind, payload any, room domain.Room) error {
	s.metrics.Writes.WithLabelValues(string(kind)).Inc()

	delivered, err := s.notifier.Notify(ctx, kind, payload, room)
	if err != nil {
		s.metrics.NotifyFailures.WithLabelValues(string(kind)).Inc()
		slog.ErrorContext(ctx, "Real-time notification failed", "kind", kind, "room", room.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	slog.DebugContext(ctx, "Event published", "kind", kind, "room", room.String(), "delivered", delivered)
	return nil
}

func displayName(p domain.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	return domain.AnonymousAuthor
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
