package core

import (
	"context"

	"github.com/dkeye/Canvas/internal/domain"
)

// Room is one collaborative session. Its members and snapshot are owned by
// a single goroutine; everything else reaches them through Do, so work on
// a room is applied strictly in arrival order.
type Room struct {
	meta   domain.Room
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func(*roomState)
	done   chan struct{}

	state roomState
}

type roomState struct {
	members  map[domain.ConnID]SignalConnection
	order    []domain.ConnID
	snapshot domain.Snapshot
}

func NewRoom(ctx context.Context, cancel context.CancelFunc, meta domain.Room, seed domain.Snapshot) *Room {
	return &Room{
		meta:   meta,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(*roomState)),
		done:   make(chan struct{}),
		state: roomState{
			members:  make(map[domain.ConnID]SignalConnection),
			snapshot: seed.Normalize(),
		},
	}
}

func (r *Room) ID() domain.RoomID { return r.meta.ID }
func (r *Room) Name() string      { return r.meta.Name }

// Run processes submitted work until the room is stopped.
func (r *Room) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case fn := <-r.inbox:
			fn(&r.state)
		}
	}
}

// Stop ends the owning goroutine. Work submitted afterwards is rejected.
func (r *Room) Stop() {
	r.cancel()
}

// Do runs fn on the owning goroutine and waits for it to finish.
// It reports false when the room has already been stopped.
// fn must not block: no network I/O, no calls back into the room table.
func (r *Room) Do(fn func(View)) bool {
	if r.ctx.Err() != nil {
		return false
	}
	finished := make(chan struct{})
	work := func(s *roomState) {
		defer close(finished)
		fn(View{room: r, state: s})
	}
	select {
	case r.inbox <- work:
	case <-r.done:
		return false
	}
	<-finished
	return true
}

func (r *Room) Info() RoomInfo {
	info := RoomInfo{ID: r.meta.ID, Name: r.meta.Name}
	r.Do(func(v View) { info.MemberCount = v.Count() })
	return info
}

func (r *Room) Detail() RoomDetail {
	d := RoomDetail{RoomInfo: RoomInfo{ID: r.meta.ID, Name: r.meta.Name}, Snapshot: domain.EmptySnapshot()}
	r.Do(func(v View) {
		d.MemberCount = v.Count()
		d.Snapshot = v.Snapshot().Clone()
	})
	return d
}

// View is the state of a room as seen from inside its owning goroutine.
// It must not escape the function passed to Do.
type View struct {
	room  *Room
	state *roomState
}

func (v View) ID() domain.RoomID { return v.room.meta.ID }

func (v View) Count() int { return len(v.state.members) }

func (v View) Snapshot() domain.Snapshot { return v.state.snapshot }

func (v View) SetSnapshot(s domain.Snapshot) { v.state.snapshot = s.Normalize() }

func (v View) Has(id domain.ConnID) bool {
	_, ok := v.state.members[id]
	return ok
}

// Members lists member ids in join order.
func (v View) Members() []domain.ConnID {
	out := make([]domain.ConnID, len(v.state.order))
	copy(out, v.state.order)
	return out
}

func (v View) add(id domain.ConnID, conn SignalConnection) bool {
	if _, ok := v.state.members[id]; ok {
		return false
	}
	v.state.members[id] = conn
	v.state.order = append(v.state.order, id)
	return true
}

func (v View) remove(id domain.ConnID) bool {
	if _, ok := v.state.members[id]; !ok {
		return false
	}
	delete(v.state.members, id)
	for i, m := range v.state.order {
		if m == id {
			v.state.order = append(v.state.order[:i], v.state.order[i+1:]...)
			break
		}
	}
	return true
}

func (v View) conn(id domain.ConnID) (SignalConnection, bool) {
	c, ok := v.state.members[id]
	return c, ok
}
