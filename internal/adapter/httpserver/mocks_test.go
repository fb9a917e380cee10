package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/errify/internal/app"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/config"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-that-is-at-least-32-characters"

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

// --- Mock implementations ---

type mockPostService struct {
	listPostsFn    func(ctx context.Context, filter domain.PostFilter) (domain.PostPage, error)
	getPostFn      func(ctx context.Context, postID uuid.UUID) (*domain.Post, error)
	createPostFn   func(ctx context.Context, author domain.Profile, in app.CreatePostInput) (*domain.Post, error)
	updatePostFn   func(ctx context.Context, userID, postID uuid.UUID, in app.UpdatePostInput) (*domain.Post, error)
	deletePostFn   func(ctx context.Context, userID, postID uuid.UUID) error
	toggleLikeFn   func(ctx context.Context, userID, postID uuid.UUID) (app.LikeResult, error)
	addCommentFn   func(ctx context.Context, author domain.Profile, postID uuid.UUID, in app.AddCommentInput) (*domain.Comment, error)
	listCommentsFn func(ctx context.Context, postID uuid.UUID) ([]domain.Comment, error)
}

func (m *mockPostService) ListPosts(ctx context.Context, filter domain.PostFilter) (domain.PostPage, error) {
	if m.listPostsFn != nil {
		return m.listPostsFn(ctx, filter)
	}
	return domain.PostPage{Posts: []domain.Post{}}, nil
}

func (m *mockPostService) GetPost(ctx context.Context, postID uuid.UUID) (*domain.Post, error) {
	if m.getPostFn != nil {
		return m.getPostFn(ctx, postID)
	}
	return nil, domain.ErrPostNotFound
}

func (m *mockPostService) CreatePost(ctx context.Context, author domain.Profile, in app.CreatePostInput) (*domain.Post, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, author, in)
	}
	return &domain.Post{ID: uuid.New(), AuthorID: author.ID, Title: in.Title}, nil
}

func (m *mockPostService) UpdatePost(ctx context.Context, userID, postID uuid.UUID, in app.UpdatePostInput) (*domain.Post, error) {
	if m.updatePostFn != nil {
		return m.updatePostFn(ctx, userID, postID, in)
	}
	return &domain.Post{ID: postID, AuthorID: userID}, nil
}

func (m *mockPostService) DeletePost(ctx context.Context, userID, postID uuid.UUID) error {
	if m.deletePostFn != nil {
		return m.deletePostFn(ctx, userID, postID)
	}
	return nil
}

func (m *mockPostService) ToggleLike(ctx context.Context, userID, postID uuid.UUID) (app.LikeResult, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, userID, postID)
	}
	return app.LikeResult{Liked: true, LikeCount: 1}, nil
}

func (m *mockPostService) AddComment(ctx context.Context, author domain.Profile, postID uuid.UUID, in app.AddCommentInput) (*domain.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, author, postID, in)
	}
	return &domain.Comment{ID: "01JTB1J6Z0AAAAAAAAAAAAAAAA", PostID: postID, UserID: author.ID, Content: in.Content}, nil
}

func (m *mockPostService) ListComments(ctx context.Context, postID uuid.UUID) ([]domain.Comment, error) {
	if m.listCommentsFn != nil {
		return m.listCommentsFn(ctx, postID)
	}
	return nil, nil
}

type mockProfileService struct {
	authenticateFn func(ctx context.Context, userID uuid.UUID, emailVerified bool) (*domain.Profile, error)
}

func (m *mockProfileService) Authenticate(ctx context.Context, userID uuid.UUID, emailVerified bool) (*domain.Profile, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, userID, emailVerified)
	}
	return &domain.Profile{ID: userID, Email: "ada@example.com", DisplayName: "Ada", EmailConfirmed: true}, nil
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            "test",
		Port:              "0",
		AuthJWTSecret:     testJWTSecret,
		FrontendURL:       "https://errify.example.com",
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}
}

func newTestServer(t *testing.T, posts postService, opts ...func(*Dependencies)) *Server {
	t.Helper()

	deps := Dependencies{
		Posts:    posts,
		Profiles: &mockProfileService{},
		Clock:    clockwork.NewFakeClockAt(testNow),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewServer(testConfig(), deps)
}

func withProfiles(p profileService) func(*Dependencies) {
	return func(d *Dependencies) { d.Profiles = p }
}

func withHealthChecks(checks ...HealthCheck) func(*Dependencies) {
	return func(d *Dependencies) { d.HealthChecks = checks }
}

type tokenOpt func(*accessClaims)

func withExpiry(exp time.Time) tokenOpt {
	return func(c *accessClaims) { c.ExpiresAt = jwt.NewNumericDate(exp) }
}

func withAudience(aud string) tokenOpt {
	return func(c *accessClaims) { c.Audience = jwt.ClaimStrings{aud} }
}

func withSubject(sub string) tokenOpt {
	return func(c *accessClaims) { c.Subject = sub }
}

func withEmailVerified() tokenOpt {
	return func(c *accessClaims) { c.UserMetadata.EmailVerified = true }
}

func signToken(t *testing.T, userID uuid.UUID, opts ...tokenOpt) string {
	t.Helper()
	return signTokenWith(t, jwt.SigningMethodHS256, userID, opts...)
}

func signTokenWith(t *testing.T, method jwt.SigningMethod, userID uuid.UUID, opts ...tokenOpt) string {
	t.Helper()

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		Email: "ada@example.com",
	}
	for _, opt := range opts {
		opt(&claims)
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(srv *Server, method, target, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = testRemoteAddr
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const testRemoteAddr = "203.0.113.7:1234"

var _ http.Handler = (*Server)(nil)
