package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Room is a logical broadcast topic. Per-entity rooms use the key
// "<entityType>:<entityId>". GlobalRoom targets every connection.
type Room string

const GlobalRoom Room = ""

const EntityPost = "post"

const roomSeparator = ":"

// RoomFor derives the room key for an entity. Producers and subscribers must
// both go through this function so the keys match.
func RoomFor(entityType, entityID string) Room {
	return Room(entityType + roomSeparator + entityID)
}

// PostRoom is the discussion room of a single post.
func PostRoom(postID uuid.UUID) Room {
	return RoomFor(EntityPost, postID.String())
}

// ParseRoom validates a client supplied room key. The global room cannot be
// joined explicitly since every connection is already a member of it.
func ParseRoom(raw string) (Room, error) {
	entityType, entityID, ok := strings.Cut(raw, roomSeparator)
	if !ok || entityType == "" || entityID == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, raw)
	}
	return Room(raw), nil
}

func (r Room) IsGlobal() bool {
	return r == GlobalRoom
}

func (r Room) String() string {
	if r.IsGlobal() {
		return "<global>"
	}
	return string(r)
}
