package domain

import "github.com/google/uuid"

type RoomID string

// Room is room metadata. Membership and canvas state are owned by core.
type Room struct {
	ID   RoomID `json:"id"`
	Name string `json:"name"`
}

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

// DefaultRoomName is used when a room is created without a display name.
func DefaultRoomName(id RoomID) string {
	return "Room " + string(id)
}
