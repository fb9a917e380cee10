package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	PostStatusActive  = "Active"
	AnonymousAuthor   = "Anonymous Researcher"
	DefaultVisibility = "Public"
	DefaultPageSize   = 10
	MaxPageSize       = 100
)

var categories = []string{
	"Physics", "Chemistry", "Biology", "Mathematics", "Computer Science",
	"Engineering", "Medicine", "Psychology", "Economics", "Business",
	"Arts", "Literature", "History", "Philosophy", "Other",
}

func Categories() []string { return slices.Clone(categories) }

func IsCategory(s string) bool { return slices.Contains(categories, s) }

type FailureDetails struct {
	WhatWentWrong  string `json:"whatWentWrong"`
	LessonsLearned string `json:"lessonsLearned"`
	NextSteps      string `json:"nextSteps,omitempty"`
	Impact         string `json:"impact,omitempty"`
	TimeLost       string `json:"timeLost,omitempty"`
}

type Collaboration struct {
	IsRequestingHelp bool   `json:"isRequestingHelp"`
	HelpDescription  string `json:"helpDescription,omitempty"`
}

type Privacy struct {
	Visibility    string `json:"visibility"`
	AllowComments bool   `json:"allowComments"`
	AllowSharing  bool   `json:"allowSharing"`
}

// DefaultPrivacy matches what a new post gets when the author does not say otherwise.
func DefaultPrivacy() Privacy {
	return Privacy{Visibility: DefaultVisibility, AllowComments: true, AllowSharing: true}
}

type Post struct {
	ID             uuid.UUID      `json:"id"`
	AuthorID       uuid.UUID      `json:"authorId"`
	AuthorName     string         `json:"authorName"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Category       string         `json:"category"`
	Tags           []string       `json:"tags"`
	FailureDetails FailureDetails `json:"failureDetails"`
	Collaboration  Collaboration  `json:"collaboration"`
	Privacy        Privacy        `json:"privacy"`
	IsAnonymous    bool           `json:"isAnonymous"`
	Status         string         `json:"status"`
	Views          int            `json:"views"`
	LikeCount      int            `json:"likeCount"`
	CommentCount   int            `json:"commentCount"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Redacted hides the author name of anonymous posts.
func (p Post) Redacted() Post {
	if p.IsAnonymous {
		p.AuthorName = AnonymousAuthor
	}
	return p
}

type Comment struct {
	ID          string    `json:"id"`
	PostID      uuid.UUID `json:"postId"`
	UserID      uuid.UUID `json:"userId"`
	AuthorName  string    `json:"user"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"timestamp"`
}

func (c Comment) Redacted() Comment {
	if c.IsAnonymous {
		c.AuthorName = AnonymousAuthor
	}
	return c
}

type Profile struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	EmailConfirmed bool      `json:"emailConfirmed"`
}

type PostSort string

const (
	SortNewest   PostSort = "newest"
	SortOldest   PostSort = "oldest"
	SortPopular  PostSort = "popular"
	SortTrending PostSort = "trending"
)

func (s PostSort) Valid() bool {
	switch s {
	case SortNewest, SortOldest, SortPopular, SortTrending:
		return true
	}
	return false
}

type PostFilter struct {
	Category string
	AuthorID uuid.UUID
	Search   string
	Sort     PostSort
	Page     int
	Limit    int
}

// Normalized clamps paging and fills defaults.
func (f PostFilter) Normalized() PostFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if !f.Sort.Valid() {
		f.Sort = SortNewest
	}
	return f
}

func (f PostFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func NewPagination(f PostFilter, total int) Pagination {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Pagination{Page: f.Page, Limit: f.Limit, Total: total, Pages: pages}
}

type PostPage struct {
	Posts      []Post     `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

type PostRepository interface {
	List(ctx context.Context, filter PostFilter) (PostPage, error)
	Get(ctx context.Context, postID uuid.UUID) (*Post, error)
	IncrementViews(ctx context.Context, postID uuid.UUID) error
	Create(ctx context.Context, post *Post) (*Post, error)
	Update(ctx context.Context, post *Post) (*Post, error)
	Delete(ctx context.Context, postID uuid.UUID) error
}

type LikeRepository interface {
	// Toggle flips the like of userID on postID and reports the new state.
	Toggle(ctx context.Context, postID, userID uuid.UUID) (liked bool, likeCount int, err error)
}

type CommentRepository interface {
	Add(ctx context.Context, comment *Comment) (*Comment, error)
	ListByPost(ctx context.Context, postID uuid.UUID) ([]Comment, error)
}

type ProfileRepository interface {
	GetByID(ctx context.Context, profileID uuid.UUID) (*Profile, error)
}
