package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

// CanvasUpdate replaces the room snapshot and forwards it to the other
// members. Last write wins. It reports whether the event was accepted.
func (o *Orchestrator) CanvasUpdate(id domain.ConnID, roomID domain.RoomID, s domain.Snapshot) bool {
	room, ok := o.currentRoom(domain.EventCanvasState, id, roomID)
	if !ok {
		return false
	}
	res, ok := o.Router.Update(room, id, s)
	if !ok {
		o.discard(domain.EventCanvasState, id, ReasonRoomGone)
		return false
	}
	o.handled(domain.EventCanvasState)
	o.handleDrops(roomID, res)

	if o.Persist != nil {
		o.Persist.SaveSnapshot(roomID, s)
		o.record(roomID, id, domain.EventCanvasState, s)
	}
	return true
}

// CursorMove relays a pointer position. Nothing is stored.
func (o *Orchestrator) CursorMove(id domain.ConnID, roomID domain.RoomID, x, y float64) bool {
	room, ok := o.currentRoom(domain.EventCursorMove, id, roomID)
	if !ok {
		return false
	}
	o.handled(domain.EventCursorMove)
	o.handleDrops(roomID, o.Router.Cursor(room, id, x, y))
	return true
}

// Clear empties the room canvas and tells every member, sender included.
func (o *Orchestrator) Clear(id domain.ConnID, roomID domain.RoomID) bool {
	room, ok := o.currentRoom(domain.EventClearCanvas, id, roomID)
	if !ok {
		return false
	}
	res, ok := o.Router.Clear(room)
	if !ok {
		o.discard(domain.EventClearCanvas, id, ReasonRoomGone)
		return false
	}
	o.handled(domain.EventClearCanvas)
	o.handleDrops(roomID, res)

	if o.Persist != nil {
		o.Persist.ClearOperations(roomID)
		o.Persist.SaveSnapshot(roomID, domain.EmptySnapshot())
		o.record(roomID, id, domain.EventClearCanvas, nil)
	}
	return true
}

// DrawingOperation relays one drawing step to the other members and
// appends it to the room history. The snapshot is not touched.
func (o *Orchestrator) DrawingOperation(id domain.ConnID, roomID domain.RoomID, kind string, data json.RawMessage) bool {
	room, ok := o.currentRoom(domain.EventDrawingOperation, id, roomID)
	if !ok {
		return false
	}
	o.handled(domain.EventDrawingOperation)
	op := core.DrawingOperation{RoomID: roomID, UserID: id, Type: kind, Data: data, At: time.Now().UTC()}
	o.handleDrops(roomID, o.Router.Operation(room, op))

	if o.Persist != nil {
		o.record(roomID, id, domain.EventDrawingOperation, domain.DrawingStep{Type: kind, Data: data})
		o.Persist.TouchActivity(roomID)
	}
	return true
}

// ReplaceCanvas sets a room's snapshot from outside any connection. Live
// members all receive it. A room that is not live is only stored; without
// storage that is ErrRoomNotFound.
func (o *Orchestrator) ReplaceCanvas(roomID domain.RoomID, s domain.Snapshot) error {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return err
	}
	s = s.Normalize()
	if room, ok := o.Rooms.Get(roomID); ok {
		if res, ok := o.Router.Update(room, "", s); ok {
			o.handleDrops(roomID, res)
		}
	} else if o.Persist == nil {
		return ErrRoomNotFound
	}

	if o.Persist != nil {
		o.Persist.SaveSnapshot(roomID, s)
		o.Persist.TouchActivity(roomID)
	}
	log.Info().Str("module", "app.orch").Str("room", string(roomID)).Msg("canvas replaced")
	return nil
}

// ResetCanvas empties a room's snapshot and drops its history. Live
// members receive canvas-cleared.
func (o *Orchestrator) ResetCanvas(roomID domain.RoomID) error {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return err
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		if res, ok := o.Router.Clear(room); ok {
			o.handleDrops(roomID, res)
		}
	} else if o.Persist == nil {
		return ErrRoomNotFound
	}

	if o.Persist != nil {
		o.Persist.ClearOperations(roomID)
		o.Persist.SaveSnapshot(roomID, domain.EmptySnapshot())
	}
	log.Info().Str("module", "app.orch").Str("room", string(roomID)).Msg("canvas reset")
	return nil
}

// StoredSnapshot is the newest known snapshot of a room that is not live.
func (o *Orchestrator) StoredSnapshot(ctx context.Context, roomID domain.RoomID) (domain.Snapshot, bool) {
	if o.Persist == nil {
		return domain.Snapshot{}, false
	}
	return o.Persist.Load(ctx, roomID)
}

// currentRoom resolves the room an event applies to. Events for a room
// other than the registered one are stale and dropped.
func (o *Orchestrator) currentRoom(t domain.EventType, id domain.ConnID, declared domain.RoomID) (*core.Room, bool) {
	cur, ok := o.Registry.RoomOf(id)
	if !ok {
		o.discard(t, id, ReasonNotJoined)
		return nil, false
	}
	if declared != cur {
		o.discard(t, id, ReasonRoomMismatch)
		return nil, false
	}
	room, ok := o.Rooms.Get(cur)
	if !ok {
		o.discard(t, id, ReasonRoomGone)
		return nil, false
	}
	return room, true
}

func (o *Orchestrator) record(roomID domain.RoomID, id domain.ConnID, kind domain.EventType, payload any) {
	op := domain.Operation{RoomID: roomID, ConnID: id, Kind: kind, At: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("encode operation")
			return
		}
		op.Payload = raw
	}
	o.Persist.AppendOperation(op)
}
