package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/errify/internal/domain"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
)

const (
	contextKeyUserID  = "userID"
	contextKeyProfile = "profile"

	tokenAudience = "authenticated"
)

var errMissingToken = errors.New("missing bearer token")

// accessClaims are the claims of an identity provider access token.
type accessClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	UserMetadata struct {
		EmailVerified bool `json:"email_verified"`
	} `json:"user_metadata"`
}

type tokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret string, clock clockwork.Clock) *tokenVerifier {
	return &tokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(tokenAudience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock.Now),
		),
	}
}

func (v *tokenVerifier) verify(raw string) (uuid.UUID, *accessClaims, error) {
	var claims accessClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return uuid.Nil, nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return userID, &claims, nil
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// authenticate resolves the request's bearer token to a profile.
func (s *Server) authenticate(c echo.Context) (*domain.Profile, error) {
	raw, err := bearerToken(c)
	if err != nil {
		return nil, err
	}

	userID, claims, err := s.tokens.verify(raw)
	if err != nil {
		return nil, apperrors.UnauthorizedError("invalid or expired token").WithCause(err)
	}

	profile, err := s.profiles.Authenticate(c.Request().Context(), userID, claims.UserMetadata.EmailVerified)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := s.authenticate(c)
		if errors.Is(err, errMissingToken) {
			return apperrors.UnauthorizedError("authentication required")
		}
		if err != nil {
			return err
		}

		setProfile(c, profile)
		return next(c)
	}
}

// optionalAuth attaches the profile when the token is valid and otherwise
// lets the request through anonymously.
func (s *Server) optionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := s.authenticate(c)
		switch {
		case err == nil:
			setProfile(c, profile)
		case !errors.Is(err, errMissingToken):
			slog.DebugContext(c.Request().Context(), "Ignoring invalid credentials on public route", "error", err)
		}
		return next(c)
	}
}

func setProfile(c echo.Context, profile *domain.Profile) {
	c.Set(contextKeyUserID, profile.ID)
	c.Set(contextKeyProfile, profile)
}

func currentProfile(c echo.Context) (*domain.Profile, bool) {
	profile, ok := c.Get(contextKeyProfile).(*domain.Profile)
	return profile, ok && profile != nil
}
