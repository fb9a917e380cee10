package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/app"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/correlation"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
)

// correlationMiddleware tags the request context with a correlation ID,
// reusing the client's X-Request-ID when it is usable, and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

// ErrorHandlingMiddleware writes returned errors as structured JSON. Echo's
// own HTTP errors pass through to the default handler. m may be nil.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}
			return writeError(c, m, err)
		}
	}
}

// writeError logs err, counts it and writes it as a structured JSON response.
// Middleware that reports errors through c.Error instead of returning them,
// such as echo's rate limiter, must call it directly.
func writeError(c echo.Context, m *metrics.HTTPMetrics, err error) error {
	structuredErr := apperrors.AsStructuredError(mapDomainError(err))
	logError(c, structuredErr)
	if m != nil {
		m.ErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
	}

	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// mapDomainError translates sentinel errors from the application layer.
// Anything it does not know is returned unchanged.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrPostNotFound):
		return apperrors.NotFoundError("post not found")
	case errors.Is(err, domain.ErrForbidden):
		return apperrors.ForbiddenError("you can only modify your own posts")
	case errors.Is(err, domain.ErrCommentsDisabled):
		return apperrors.ValidationError("comments are disabled for this post")
	case errors.Is(err, domain.ErrProfileNotFound):
		return apperrors.UnauthorizedError("user profile not found")
	case errors.Is(err, domain.ErrEmailNotConfirmed):
		return apperrors.UnauthorizedError("email address not confirmed")
	case errors.Is(err, app.ErrNotify):
		return apperrors.InternalError("saved, but the real-time notification failed", err)
	case errors.Is(err, domain.ErrInvalidRoom), errors.Is(err, domain.ErrMalformedEvent):
		return apperrors.InternalError("real-time notification failed", err)
	}
	return err
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if userID := c.Get(contextKeyUserID); userID != nil {
		attrs = append(attrs, "user_id", userID)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeUnauthorized, apperrors.TypeForbidden, apperrors.TypeRateLimited:
		slog.InfoContext(ctx, "Request denied", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal, apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
