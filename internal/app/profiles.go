package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/domain"
	"golang.org/x/sync/singleflight"
)

const profileLookupTimeout = 5 * time.Second

// ProfileService resolves the profile behind an authenticated user id.
type ProfileService struct {
	profiles domain.ProfileRepository
	group    singleflight.Group
	metrics  *metrics.PostMetrics
}

func NewProfileService(profiles domain.ProfileRepository, m *metrics.PostMetrics) *ProfileService {
	return &ProfileService{profiles: profiles, metrics: m}
}

// Authenticate returns the profile of userID. The email must be confirmed,
// either by the identity provider (emailVerified) or on the profile itself.
// Concurrent lookups for the same user share one repository call.
func (s *ProfileService) Authenticate(ctx context.Context, userID uuid.UUID, emailVerified bool) (*domain.Profile, error) {
	v, err, _ := s.group.Do(userID.String(), func() (any, error) {
		// The lookup is shared, so one caller going away must not fail the others.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileLookupTimeout)
		defer cancel()
		return s.profiles.GetByID(lookupCtx, userID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			s.metrics.ProfileLookups.WithLabelValues("not_found").Inc()
		} else {
			s.metrics.ProfileLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	profile := *v.(*domain.Profile)
	if !profile.EmailConfirmed && !emailVerified {
		s.metrics.ProfileLookups.WithLabelValues("unconfirmed").Inc()
		return nil, domain.ErrEmailNotConfirmed
	}

	s.metrics.ProfileLookups.WithLabelValues("ok").Inc()
	return &profile, nil
}
