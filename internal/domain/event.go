package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the notifications pushed to connected clients.
type EventKind string

const (
	KindNewPost     EventKind = "new_post"
	KindPostUpdated EventKind = "post_updated"
	KindPostDeleted EventKind = "post_deleted"
	KindNewComment  EventKind = "new_comment"
	KindPostLiked   EventKind = "post_liked"
	KindPostUnliked EventKind = "post_unliked"
)

var eventKinds = []EventKind{
	KindNewPost,
	KindPostUpdated,
	KindPostDeleted,
	KindNewComment,
	KindPostLiked,
	KindPostUnliked,
}

// EventKinds returns all known kinds in a stable order.
func EventKinds() []EventKind {
	return slices.Clone(eventKinds)
}

func (k EventKind) Valid() bool {
	return slices.Contains(eventKinds, k)
}

// Event is the wire envelope pushed to subscribers. It describes a committed
// state change and is never stored.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent serialises payload and checks the envelope is well formed.
func NewEvent(kind EventKind, payload any, ts time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode %s payload: %v", ErrMalformedEvent, kind, err)
	}

	ev := Event{Kind: kind, Payload: raw, Timestamp: ts.UTC()}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate rejects unknown kinds and payloads that are not JSON objects.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: %s payload must be a JSON object", ErrMalformedEvent, e.Kind)
	}
	return nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Notifier hands a committed change to the real-time dispatcher. It returns the
// number of connections the event was queued for.
type Notifier interface {
	Notify(ctx context.Context, kind EventKind, payload any, room Room) (int, error)
}

// Payloads shared by producers and subscribers.

type PostCreatedPayload struct {
	Post    Post   `json:"post"`
	Message string `json:"message,omitempty"`
}

type PostUpdatedPayload struct {
	PostID  uuid.UUID `json:"postId"`
	Post    Post      `json:"post"`
	Message string    `json:"message,omitempty"`
}

type PostDeletedPayload struct {
	PostID  uuid.UUID `json:"postId"`
	Message string    `json:"message,omitempty"`
}

type LikePayload struct {
	PostID    uuid.UUID `json:"postId"`
	UserID    uuid.UUID `json:"userId"`
	LikeCount int       `json:"likeCount"`
	Message   string    `json:"message,omitempty"`
}

type CommentPayload struct {
	PostID  uuid.UUID `json:"postId"`
	Comment Comment   `json:"comment"`
	Message string    `json:"message,omitempty"`
}
