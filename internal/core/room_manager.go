package core

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomTable owns every live room. The map is guarded by mu; a room's
// members and snapshot are owned by the room's own goroutine.
// Membership changes hold mu while the room applies them, so a room is
// never deleted under a concurrent join.
type RoomTable struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*Room
}

func NewRoomTable(parent context.Context) *RoomTable {
	ctx, cancel := context.WithCancel(parent)
	return &RoomTable{
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// Ensure returns the existing room or creates an empty one.
func (t *RoomTable) Ensure(id domain.RoomID) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureLocked(id, domain.DefaultRoomName(id), domain.EmptySnapshot())
}

// Create pre-creates a room for an about-to-join connection. The room stays
// with zero members until someone joins and the last member leaves.
// It reports whether the room was new.
func (t *RoomTable) Create(id domain.RoomID, name string) (*Room, bool) {
	if name == "" {
		name = domain.DefaultRoomName(id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.rooms[id]; ok {
		return room, false
	}
	return t.ensureLocked(id, name, domain.EmptySnapshot()), true
}

func (t *RoomTable) ensureLocked(id domain.RoomID, name string, seed domain.Snapshot) *Room {
	if room, ok := t.rooms[id]; ok {
		return room
	}
	roomCtx, roomCancel := context.WithCancel(t.ctx)
	room := NewRoom(roomCtx, roomCancel, domain.Room{ID: id, Name: name}, seed)
	t.rooms[id] = room
	go room.Run()
	log.Debug().Str("module", "core.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (t *RoomTable) Get(id domain.RoomID) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[id]
	return room, ok
}

// AddMember creates the room if needed and inserts the connection.
// Adding an existing member is a no-op. It returns the member count and
// whether the connection was newly added.
func (t *RoomTable) AddMember(id domain.RoomID, cid domain.ConnID, conn SignalConnection) (int, bool) {
	return t.AddMemberWith(id, cid, conn, domain.EmptySnapshot())
}

// AddMemberWith is AddMember with the initial snapshot of a room that does
// not exist yet. Creation and insertion happen under one lock, so the seed
// cannot be lost to a concurrent delete.
func (t *RoomTable) AddMemberWith(id domain.RoomID, cid domain.ConnID, conn SignalConnection, seed domain.Snapshot) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.ensureLocked(id, domain.DefaultRoomName(id), seed)
	var (
		count int
		added bool
	)
	room.Do(func(v View) {
		added = v.add(cid, conn)
		count = v.Count()
	})
	if added {
		log.Info().Str("module", "core.rooms").Str("room", string(id)).Str("conn", string(cid)).Int("members", count).Msg("member added")
	}
	return count, added
}

// RemoveMember removes the connection and deletes the room once it is empty.
// Removing a non-member or from a missing room reports zero and no deletion.
func (t *RoomTable) RemoveMember(id domain.RoomID, cid domain.ConnID) RemoveResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[id]
	if !ok {
		return RemoveResult{}
	}
	var res RemoveResult
	room.Do(func(v View) {
		res.Removed = v.remove(cid)
		res.Remaining = v.Count()
	})
	if !res.Removed {
		return RemoveResult{}
	}
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Str("conn", string(cid)).Int("members", res.Remaining).Msg("member removed")
	if res.Remaining == 0 {
		delete(t.rooms, id)
		room.Stop()
		res.Deleted = true
		log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("room closed (empty)")
	}
	return res
}

// SetSnapshot replaces the room's snapshot. It is a no-op for a missing room.
func (t *RoomTable) SetSnapshot(id domain.RoomID, s domain.Snapshot) bool {
	room, ok := t.Get(id)
	if !ok {
		return false
	}
	return room.Do(func(v View) { v.SetSnapshot(s) })
}

func (t *RoomTable) SnapshotOf(id domain.RoomID) (domain.Snapshot, bool) {
	room, ok := t.Get(id)
	if !ok {
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if !room.Do(func(v View) { snap = v.Snapshot().Clone() }) {
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (t *RoomTable) List() []RoomInfo {
	t.mu.RLock()
	rooms := make([]*Room, 0, len(t.rooms))
	for _, room := range t.rooms {
		rooms = append(rooms, room)
	}
	t.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of live rooms.
func (t *RoomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// Close stops every room.
func (t *RoomTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	t.rooms = make(map[domain.RoomID]*Room)
}
