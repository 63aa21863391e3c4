package domain

import (
	"encoding/json"
	"time"
)

type EventType string

// Inbound events.
const (
	EventJoinRoom    EventType = "join-room"
	EventLeaveRoom   EventType = "leave-room"
	EventCanvasState EventType = "canvas-update"
	EventCursorMove  EventType = "cursor-move"
	EventClearCanvas EventType = "clear-canvas"
	EventPing        EventType = "ping"

	EventDrawingOperation EventType = "drawing-operation"
)

// Outbound events. canvas-update, cursor-move and drawing-operation travel
// in both directions.
const (
	EventUserJoined    EventType = "user-joined"
	EventUserCount     EventType = "user-count"
	EventCanvasCleared EventType = "canvas-cleared"
	EventJoined        EventType = "joined"
	EventLeft          EventType = "left"
	EventPong          EventType = "pong"
	EventError         EventType = "error"
)

// Operation is one history record handed to the persistence collaborator.
type Operation struct {
	RoomID  RoomID          `json:"roomId"`
	ConnID  ConnID          `json:"connId"`
	Kind    EventType       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// DrawingStep is the payload recorded for a drawing operation.
type DrawingStep struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
