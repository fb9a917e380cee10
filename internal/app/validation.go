package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pscheid92/errify/internal/domain"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
)

type FailureDetailsInput struct {
	WhatWentWrong  string `json:"whatWentWrong" validate:"required,min=20,max=2000"`
	LessonsLearned string `json:"lessonsLearned" validate:"required,min=20,max=2000"`
	NextSteps      string `json:"nextSteps" validate:"omitempty,min=10,max=2000"`
	Impact         string `json:"impact" validate:"omitempty,oneof=Low Medium High Critical"`
	TimeLost       string `json:"timeLost" validate:"omitempty,oneof=Hours Days Weeks Months Years"`
}

type CollaborationInput struct {
	IsRequestingHelp bool   `json:"isRequestingHelp"`
	HelpDescription  string `json:"helpDescription" validate:"omitempty,min=10,max=1000"`
}

type PrivacyInput struct {
	Visibility    string `json:"visibility" validate:"omitempty,oneof=Public Private Friends Institution"`
	AllowComments *bool  `json:"allowComments"`
	AllowSharing  *bool  `json:"allowSharing"`
}

type CreatePostInput struct {
	Title          string              `json:"title" validate:"required,min=10,max=200"`
	Content        string              `json:"content" validate:"required,min=50,max=10000"`
	Category       string              `json:"category" validate:"required,category"`
	Tags           []string            `json:"tags" validate:"max=20,dive,required,max=50"`
	FailureDetails FailureDetailsInput `json:"failureDetails"`
	Collaboration  CollaborationInput  `json:"collaboration"`
	Privacy        *PrivacyInput       `json:"privacy"`
	IsAnonymous    bool                `json:"isAnonymous"`
}

// UpdatePostInput is a partial update. Nil fields are left unchanged.
type UpdatePostInput struct {
	Title          *string              `json:"title" validate:"omitempty,min=10,max=200"`
	Content        *string              `json:"content" validate:"omitempty,min=50,max=10000"`
	Category       *string              `json:"category" validate:"omitempty,category"`
	Tags           []string             `json:"tags" validate:"omitempty,max=20,dive,required,max=50"`
	FailureDetails *FailureDetailsInput `json:"failureDetails"`
	Collaboration  *CollaborationInput  `json:"collaboration"`
	Privacy        *PrivacyInput        `json:"privacy"`
	IsAnonymous    *bool                `json:"isAnonymous"`
}

type AddCommentInput struct {
	Content     string `json:"content" validate:"required,min=1,max=2000"`
	IsAnonymous bool   `json:"isAnonymous"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return domain.IsCategory(fl.Field().String())
	})
	return v
}

// validationError converts validator output into a client-facing error listing
// the failing fields and their rules.
func validationError(err error) error {
	verrs, ok := errors.AsType[validator.ValidationErrors](err)
	if !ok {
		return apperrors.InternalError("validate request", err)
	}

	out := apperrors.ValidationError("validation failed")
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, found := strings.Cut(field, "."); found {
			field = rest
		}
		out = out.WithField(field, fe.Tag())
	}
	return out
}

func trimAll(values ...*string) {
	for _, v := range values {
		if v != nil {
			*v = strings.TrimSpace(*v)
		}
	}
}

func (in *CreatePostInput) normalize() {
	trimAll(&in.Title, &in.Content, &in.Category)
	in.FailureDetails.normalize()
	trimAll(&in.Collaboration.HelpDescription)
	for i := range in.Tags {
		trimAll(&in.Tags[i])
	}
}

func (in *UpdatePostInput) normalize() {
	trimAll(in.Title, in.Content, in.Category)
	if in.FailureDetails != nil {
		in.FailureDetails.normalize()
	}
	if in.Collaboration != nil {
		trimAll(&in.Collaboration.HelpDescription)
	}
	for i := range in.Tags {
		trimAll(&in.Tags[i])
	}
}

func (in *FailureDetailsInput) normalize() {
	trimAll(&in.WhatWentWrong, &in.LessonsLearned, &in.NextSteps)
}

func (in FailureDetailsInput) toDomain() domain.FailureDetails {
	return domain.FailureDetails(in)
}

func (in CollaborationInput) toDomain() domain.Collaboration {
	return domain.Collaboration(in)
}

// apply merges the input over base; unspecified flags keep base values.
func (in *PrivacyInput) apply(base domain.Privacy) domain.Privacy {
	if in == nil {
		return base
	}
	if in.Visibility != "" {
		base.Visibility = in.Visibility
	}
	if in.AllowComments != nil {
		base.AllowComments = *in.AllowComments
	}
	if in.AllowSharing != nil {
		base.AllowSharing = *in.AllowSharing
	}
	return base
}
