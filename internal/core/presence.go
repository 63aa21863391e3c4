package core

import "github.com/dkeye/Canvas/internal/domain"

// Presence turns membership changes into user-count broadcasts.
// It keeps no state of its own; counts are read from the room.
type Presence struct {
	Rooms  *RoomTable
	Router Router
}

// MemberAdded announces the new count to the whole room, joiner included.
func (p Presence) MemberAdded(id domain.RoomID, added bool) PublishResult {
	if !added {
		return PublishResult{}
	}
	return p.announce(id)
}

// MemberRemoved announces the new count to the remaining members. Nothing
// is sent when the room was deleted.
func (p Presence) MemberRemoved(id domain.RoomID, res RemoveResult) PublishResult {
	if !res.Removed || res.Deleted {
		return PublishResult{}
	}
	return p.announce(id)
}

func (p Presence) announce(id domain.RoomID) PublishResult {
	room, ok := p.Rooms.Get(id)
	if !ok {
		return PublishResult{}
	}
	return p.Router.Count(room)
}
