package domain

import "errors"

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrForbidden        = errors.New("not allowed to modify this resource")
	ErrCommentsDisabled = errors.New("comments are disabled for this post")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrInvalidRoom      = errors.New("invalid room key")

	ErrEmailNotConfirmed = errors.New("email address not confirmed")
)
