// Package memory implements the domain repositories in process memory. It
// backs development runs without DATABASE_URL and the service tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/samber/lo"
)

type likeKey struct {
	postID uuid.UUID
	userID uuid.UUID
}

// Store is safe for concurrent use. Values are copied in and out so callers
// never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	posts    map[uuid.UUID]domain.Post
	likes    map[likeKey]struct{}
	comments map[uuid.UUID][]domain.Comment
	profiles map[uuid.UUID]domain.Profile

	provisionProfiles bool
}

var (
	_ domain.PostRepository    = (*Store)(nil)
	_ domain.LikeRepository    = (*Store)(nil)
	_ domain.CommentRepository = (*Store)(nil)
	_ domain.ProfileRepository = (*Store)(nil)
)

type Option func(*Store)

// WithProfileProvisioning makes profile lookups create a confirmed profile
// for unknown ids, standing in for the identity provider's profile table.
func WithProfileProvisioning() Option {
	return func(s *Store) { s.provisionProfiles = true }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		posts:    make(map[uuid.UUID]domain.Post),
		likes:    make(map[likeKey]struct{}),
		comments: make(map[uuid.UUID][]domain.Comment),
		profiles: make(map[uuid.UUID]domain.Profile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutProfile adds or replaces a profile. Profiles are owned by the identity
// provider, so the repository interface is read-only.
func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) GetByID(_ context.Context, profileID uuid.UUID) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		if !s.provisionProfiles {
			return nil, domain.ErrProfileNotFound
		}
		p = domain.Profile{ID: profileID, EmailConfirmed: true}
		s.profiles[profileID] = p
	}
	return &p, nil
}

func (s *Store) List(_ context.Context, filter domain.PostFilter) (domain.PostPage, error) {
	filter = filter.Normalized()

	s.mu.RLock()
	matched := lo.Filter(lo.Values(s.posts), func(p domain.Post, _ int) bool {
		return matches(p, filter)
	})
	s.mu.RUnlock()

	slices.SortFunc(matched, comparator(filter.Sort))

	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)
	page := make([]domain.Post, 0, end-start)
	for _, p := range matched[start:end] {
		page = append(page, clonePost(p))
	}

	return domain.PostPage{Posts: page, Pagination: domain.NewPagination(filter, total)}, nil
}

func matches(p domain.Post, f domain.PostFilter) bool {
	if p.Status != domain.PostStatusActive {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.AuthorID != uuid.Nil && p.AuthorID != f.AuthorID {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(p.Title), needle) ||
		strings.Contains(strings.ToLower(p.Content), needle) ||
		slices.ContainsFunc(p.Tags, func(t string) bool { return strings.Contains(strings.ToLower(t), needle) })
}

func comparator(sort domain.PostSort) func(a, b domain.Post) int {
	newest := func(a, b domain.Post) int { return b.CreatedAt.Compare(a.CreatedAt) }
	switch sort {
	case domain.SortOldest:
		return func(a, b domain.Post) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case domain.SortPopular:
		return func(a, b domain.Post) int { return cmp.Or(cmp.Compare(b.LikeCount, a.LikeCount), newest(a, b)) }
	case domain.SortTrending:
		return func(a, b domain.Post) int { return cmp.Or(cmp.Compare(b.Views, a.Views), newest(a, b)) }
	default:
		return newest
	}
}

func (s *Store) Get(_ context.Context, postID uuid.UUID) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	out := clonePost(p)
	return &out, nil
}

func (s *Store) IncrementViews(_ context.Context, postID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return domain.ErrPostNotFound
	}
	p.Views++
	s.posts[postID] = p
	return nil
}

func (s *Store) Create(_ context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := clonePost(*post)
	stored.LikeCount, stored.CommentCount, stored.Views = 0, 0, 0
	s.posts[stored.ID] = stored
	out := clonePost(stored)
	return &out, nil
}

// Update replaces the editable fields. Counters are owned by the store.
func (s *Store) Update(_ context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.posts[post.ID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	stored := clonePost(*post)
	stored.AuthorID = current.AuthorID
	stored.CreatedAt = current.CreatedAt
	stored.Views, stored.LikeCount, stored.CommentCount = current.Views, current.LikeCount, current.CommentCount
	s.posts[post.ID] = stored
	out := clonePost(stored)
	return &out, nil
}

func (s *Store) Delete(_ context.Context, postID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return domain.ErrPostNotFound
	}
	delete(s.posts, postID)
	delete(s.comments, postID)
	for k := range s.likes {
		if k.postID == postID {
			delete(s.likes, k)
		}
	}
	return nil
}

func (s *Store) Toggle(_ context.Context, postID, userID uuid.UUID) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return false, 0, domain.ErrPostNotFound
	}

	key := likeKey{postID: postID, userID: userID}
	_, liked := s.likes[key]
	if liked {
		delete(s.likes, key)
		p.LikeCount--
	} else {
		s.likes[key] = struct{}{}
		p.LikeCount++
	}
	s.posts[postID] = p
	return !liked, p.LikeCount, nil
}

func (s *Store) Add(_ context.Context, comment *domain.Comment) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[comment.PostID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	s.comments[comment.PostID] = append(s.comments[comment.PostID], *comment)
	p.CommentCount++
	s.posts[comment.PostID] = p
	out := *comment
	return &out, nil
}

func (s *Store) ListByPost(_ context.Context, postID uuid.UUID) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.comments[postID])
	if out == nil {
		out = []domain.Comment{}
	}
	return out, nil
}

func clonePost(p domain.Post) domain.Post {
	p.Tags = slices.Clone(p.Tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p
}
