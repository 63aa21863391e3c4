// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxRoomIDLen   = 64
	MaxRoomNameLen = 128
)

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

// ConnID identifies one live transport connection. It is not stable across reconnects.
type ConnID string

// NewConnID hands out a fresh connection identifier.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Connection is the registry entry of a live connection.
// Room is empty while the connection has not joined anything.
type Connection struct {
	ID       ConnID
	Room     RoomID
	LastSeen time.Time
}

func (c *Connection) InRoom() bool { return c.Room != "" }

// ValidateRoomID checks a client supplied room identifier.
func ValidateRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}
