package store

import (
	"context"

	"github.com/dkeye/Canvas/internal/domain"
)

// Nop stores nothing. It stands in when persistence is disabled.
type Nop struct{}

func (Nop) LoadRoom(context.Context, domain.RoomID) (domain.Snapshot, bool, error) {
	return domain.Snapshot{}, false, nil
}
func (Nop) CreateRoom(context.Context, domain.RoomID, string) error            { return nil }
func (Nop) SaveSnapshot(context.Context, domain.RoomID, domain.Snapshot) error { return nil }
func (Nop) AppendOperation(context.Context, domain.Operation) error            { return nil }
func (Nop) TouchActivity(context.Context, domain.RoomID) error                 { return nil }
func (Nop) GetRoom(context.Context, domain.RoomID) (*Room, error)              { return nil, ErrRoomNotFound }
func (Nop) ListOperations(context.Context, domain.RoomID, domain.EventType, int) ([]domain.Operation, error) {
	return nil, nil
}
func (Nop) ClearOperations(context.Context, domain.RoomID) error { return nil }
func (Nop) Close() error                                         { return nil }
