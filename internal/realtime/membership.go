package realtime

import (
	"github.com/pscheid92/errify/internal/domain"
	"github.com/samber/lo"
)

type set[T comparable] map[T]struct{}

// membership is the bidirectional connection/room index. It is owned by the
// hub goroutine and never touched concurrently.
type membership struct {
	rooms map[domain.Room]set[ConnID]
	conns map[ConnID]set[domain.Room]
}

func newMembership() *membership {
	return &membership{
		rooms: make(map[domain.Room]set[ConnID]),
		conns: make(map[ConnID]set[domain.Room]),
	}
}

// add registers a connection with no rooms.
func (m *membership) add(c ConnID) {
	if _, ok := m.conns[c]; !ok {
		m.conns[c] = make(set[domain.Room])
	}
}

func (m *membership) has(c ConnID) bool {
	_, ok := m.conns[c]
	return ok
}

func (m *membership) inRoom(c ConnID, r domain.Room) bool {
	_, ok := m.conns[c][r]
	return ok
}

// join reports whether the membership changed.
func (m *membership) join(c ConnID, r domain.Room) bool {
	joined, ok := m.conns[c]
	if !ok {
		return false
	}
	if _, already := joined[r]; already {
		return false
	}

	members, ok := m.rooms[r]
	if !ok {
		members = make(set[ConnID])
		m.rooms[r] = members
	}
	members[c] = struct{}{}
	joined[r] = struct{}{}
	return true
}

// leave reports whether the membership changed. Empty rooms are removed.
func (m *membership) leave(c ConnID, r domain.Room) bool {
	joined, ok := m.conns[c]
	if !ok {
		return false
	}
	if _, member := joined[r]; !member {
		return false
	}

	delete(joined, r)
	members := m.rooms[r]
	delete(members, c)
	if len(members) == 0 {
		delete(m.rooms, r)
	}
	return true
}

// leaveAll drops c from every room and forgets it. It returns the rooms c was in.
func (m *membership) leaveAll(c ConnID) []domain.Room {
	joined, ok := m.conns[c]
	if !ok {
		return nil
	}

	left := make([]domain.Room, 0, len(joined))
	for r := range joined {
		m.leave(c, r)
		left = append(left, r)
	}
	delete(m.conns, c)
	return left
}

// membersOf returns a snapshot. Unknown rooms yield an empty slice.
func (m *membership) membersOf(r domain.Room) []ConnID {
	return lo.Keys(m.rooms[r])
}

func (m *membership) roomsOf(c ConnID) []domain.Room {
	return lo.Keys(m.conns[c])
}

func (m *membership) all() []ConnID {
	return lo.Keys(m.conns)
}

func (m *membership) roomCount() int { return len(m.rooms) }

func (m *membership) connCount() int { return len(m.conns) }
