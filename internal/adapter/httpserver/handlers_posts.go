package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/errify/internal/app"
	"github.com/pscheid92/errify/internal/domain"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
)

type messageResponse struct {
	Message string `json:"message"`
}

type postResponse struct {
	Message string       `json:"message"`
	Post    *domain.Post `json:"post"`
}

type likeResponse struct {
	Message   string `json:"message"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"likeCount"`
}

type commentResponse struct {
	Message string          `json:"message"`
	Comment *domain.Comment `json:"comment"`
}

type commentsResponse struct {
	Comments []domain.Comment `json:"comments"`
}

func (s *Server) handleListPosts(c echo.Context) error {
	var (
		filter domain.PostFilter
		author string
		sort   string
	)
	if err := echo.QueryParamsBinder(c).
		String("category", &filter.Category).
		String("author", &author).
		String("search", &filter.Search).
		String("sort", &sort).
		Int("page", &filter.Page).
		Int("limit", &filter.Limit).
		BindError(); err != nil {
		return apperrors.ValidationError("invalid query parameters").WithCause(err)
	}

	filter.Sort = domain.PostSort(sort)
	if author != "" {
		authorID, err := uuid.Parse(author)
		if err != nil {
			return apperrors.ValidationError("invalid author id").WithField("author", author)
		}
		filter.AuthorID = authorID
	}

	page, err := s.posts.ListPosts(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, page)
}

func (s *Server) handleGetPost(c echo.Context) error {
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	post, err := s.posts.GetPost(c.Request().Context(), postID)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, post)
}

func (s *Server) handleCreatePost(c echo.Context) error {
	profile, _ := currentProfile(c)

	var in app.CreatePostInput
	if err := bindBody(c, &in); err != nil {
		return err
	}

	post, err := s.posts.CreatePost(c.Request().Context(), *profile, in)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, postResponse{Message: "Post created successfully", Post: post})
}

func (s *Server) handleUpdatePost(c echo.Context) error {
	profile, _ := currentProfile(c)
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	var in app.UpdatePostInput
	if err := bindBody(c, &in); err != nil {
		return err
	}

	post, err := s.posts.UpdatePost(c.Request().Context(), profile.ID, postID, in)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, postResponse{Message: "Post updated successfully", Post: post})
}

func (s *Server) handleDeletePost(c echo.Context) error {
	profile, _ := currentProfile(c)
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	if err := s.posts.DeletePost(c.Request().Context(), profile.ID, postID); err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, messageResponse{Message: "Post deleted successfully"})
}

func (s *Server) handleToggleLike(c echo.Context) error {
	profile, _ := currentProfile(c)
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	result, err := s.posts.ToggleLike(c.Request().Context(), profile.ID, postID)
	if err != nil {
		return err
	}

	message := "Post unliked successfully"
	if result.Liked {
		message = "Post liked successfully"
	}
	return writeJSON(c, http.StatusOK, likeResponse{Message: message, Liked: result.Liked, LikeCount: result.LikeCount})
}

func (s *Server) handleAddComment(c echo.Context) error {
	profile, _ := currentProfile(c)
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	var in app.AddCommentInput
	if err := bindBody(c, &in); err != nil {
		return err
	}

	comment, err := s.posts.AddComment(c.Request().Context(), *profile, postID, in)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, commentResponse{Message: "Comment added successfully", Comment: comment})
}

func (s *Server) handleListComments(c echo.Context) error {
	postID, err := postIDParam(c)
	if err != nil {
		return err
	}

	comments, err := s.posts.ListComments(c.Request().Context(), postID)
	if err != nil {
		return err
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	return writeJSON(c, http.StatusOK, commentsResponse{Comments: comments})
}

func postIDParam(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		// A malformed id can never name an existing post.
		return uuid.Nil, apperrors.NotFoundError("post not found").WithField("id", raw)
	}
	return id, nil
}

func bindBody(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return apperrors.ValidationError("invalid request body").WithCause(err)
	}
	return nil
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
