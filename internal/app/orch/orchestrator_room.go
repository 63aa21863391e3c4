package orch

import (
	"context"
	"time"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves the connection into roomID. A connection already in another
// room leaves it first; joining the current room again only re-hydrates.
func (o *Orchestrator) Join(ctx context.Context, id domain.ConnID, roomID domain.RoomID) error {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return err
	}
	signal, ok := o.Registry.Signal(id)
	if !ok {
		o.discard(domain.EventJoinRoom, id, ReasonUnknownConn)
		return ErrNotConnected
	}
	o.handled(domain.EventJoinRoom)

	if cur, ok := o.Registry.RoomOf(id); ok {
		if cur == roomID {
			if room, ok := o.Rooms.Get(roomID); ok {
				o.handleDrops(roomID, o.Router.Hydrate(room, id))
			}
			return nil
		}
		o.leaveRoom(id, cur)
		log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("from_room", string(cur)).Msg("left room for another")
	}

	seed := o.prepareRoom(ctx, roomID)

	_, added := o.Rooms.AddMemberWith(roomID, id, signal, seed)
	o.Registry.SetRoom(id, roomID)
	if room, ok := o.Rooms.Get(roomID); ok {
		o.handleDrops(roomID, o.Router.Join(room, id))
	}
	o.handleDrops(roomID, o.Presence.MemberAdded(roomID, added))

	if o.Persist != nil {
		o.Persist.TouchActivity(roomID)
		o.Persist.AppendOperation(domain.Operation{RoomID: roomID, ConnID: id, Kind: domain.EventJoinRoom, At: time.Now()})
	}
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("joined room")
	return nil
}

// Leave returns the connection to the connected state without closing it.
func (o *Orchestrator) Leave(id domain.ConnID) bool {
	cur, ok := o.Registry.RoomOf(id)
	if !ok {
		o.discard(domain.EventLeaveRoom, id, ReasonNotJoined)
		return false
	}
	o.handled(domain.EventLeaveRoom)
	o.leaveRoom(id, cur)
	o.Registry.SetRoom(id, "")
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("room", string(cur)).Msg("left room")
	return true
}

func (o *Orchestrator) leaveRoom(id domain.ConnID, roomID domain.RoomID) {
	res := o.Rooms.RemoveMember(roomID, id)
	o.handleDrops(roomID, o.Presence.MemberRemoved(roomID, res))
}

// prepareRoom returns the snapshot a room about to be joined starts from
// if it has to be created. A room missing from the table is seeded from
// storage when hydration is on. Storage is consulted before any room
// ownership is taken.
func (o *Orchestrator) prepareRoom(ctx context.Context, roomID domain.RoomID) domain.Snapshot {
	if _, ok := o.Rooms.Get(roomID); ok || o.Persist == nil {
		return domain.EmptySnapshot()
	}
	if o.Hydrate {
		if snap, found := o.Persist.Load(ctx, roomID); found {
			log.Info().Str("module", "app.orch").Str("room", string(roomID)).Msg("room hydrated from store")
			return snap
		}
	}
	o.Persist.CreateRoom(roomID, domain.DefaultRoomName(roomID))
	return domain.EmptySnapshot()
}
