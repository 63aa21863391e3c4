package orch

import (
	"errors"
	"time"

	"github.com/dkeye/Canvas/internal/app"
	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("connection not registered")
	ErrRoomNotFound = errors.New("room not found")
)

// Discard reasons reported to the Observer.
const (
	ReasonNotJoined    = "not_joined"
	ReasonRoomMismatch = "room_mismatch"
	ReasonRoomGone     = "room_gone"
	ReasonUnknownConn  = "unknown_connection"
	ReasonRateLimited  = "rate_limited"
)

// Observer receives counters about the event flow. It may be nil.
type Observer interface {
	EventHandled(t domain.EventType)
	EventDiscarded(t domain.EventType, reason string)
	DeliveryDropped(n int)
}

// Orchestrator drives the per-connection state machine
// (connected -> joined(room) -> terminal) and keeps the registry and the
// room table consistent. Each connection's events arrive from that
// connection's own read loop, one at a time.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.RoomTable
	Router   core.Router
	Presence core.Presence
	Policy   app.Policy
	// Persist is optional; without it nothing is stored or hydrated.
	Persist *app.Persister
	// Hydrate seeds rooms missing from the table with their stored snapshot.
	Hydrate  bool
	Observer Observer
}

// Connect registers a new connection in the connected state.
func (o *Orchestrator) Connect(id domain.ConnID, signal core.SignalConnection) error {
	_, err := o.Registry.Register(id, signal)
	return err
}

// Disconnect moves the connection to its terminal state. It is safe to
// call more than once.
func (o *Orchestrator) Disconnect(id domain.ConnID) {
	roomID := o.Registry.Unregister(id)
	if roomID == "" {
		return
	}
	res := o.Rooms.RemoveMember(roomID, id)
	o.handleDrops(roomID, o.Presence.MemberRemoved(roomID, res))
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("room", string(roomID)).Int("remaining", res.Remaining).Bool("room_deleted", res.Deleted).Msg("disconnected")
}

// Touch records activity on a connection.
func (o *Orchestrator) Touch(id domain.ConnID) {
	o.Registry.Touch(id)
}

// Kick closes a connection's transport. Its read loop then runs Disconnect.
func (o *Orchestrator) Kick(id domain.ConnID) bool {
	signal, ok := o.Registry.Signal(id)
	if !ok {
		return false
	}
	signal.Close()
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Msg("kicked")
	return true
}

// SweepIdle kicks connections that have been silent since before cutoff.
func (o *Orchestrator) SweepIdle(cutoff time.Time) int {
	idle := o.Registry.Idle(cutoff)
	for _, id := range idle {
		o.Kick(id)
	}
	return len(idle)
}

// CreateRoom pre-creates a room ahead of its first join. It reports
// whether the room was new; an existing room is returned as is.
func (o *Orchestrator) CreateRoom(id domain.RoomID, name string) (core.RoomInfo, bool, error) {
	if err := domain.ValidateRoomID(id); err != nil {
		return core.RoomInfo{}, false, err
	}
	room, created := o.Rooms.Create(id, name)
	if created && o.Persist != nil {
		o.Persist.CreateRoom(id, room.Name())
	}
	return room.Info(), created, nil
}

// handleDrops applies the backpressure policy to recipients that could
// not take a frame. A failed delivery counts as that member being gone.
func (o *Orchestrator) handleDrops(roomID domain.RoomID, res core.PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	if o.Observer != nil {
		o.Observer.DeliveryDropped(len(res.Dropped))
	}
	if o.Policy == nil {
		return
	}
	for _, id := range res.Dropped {
		switch o.Policy.OnBackPressure(roomID, id) {
		case app.KickMember:
			o.Kick(id)
		case app.NoAction:
		}
	}
}

// Throttled records an event the transport dropped for exceeding its rate.
func (o *Orchestrator) Throttled(t domain.EventType, id domain.ConnID) {
	o.discard(t, id, ReasonRateLimited)
}

func (o *Orchestrator) handled(t domain.EventType) {
	if o.Observer != nil {
		o.Observer.EventHandled(t)
	}
}

func (o *Orchestrator) discard(t domain.EventType, id domain.ConnID, reason string) {
	log.Debug().Str("module", "app.orch").Str("conn", string(id)).Str("type", string(t)).Str("reason", reason).Msg("event discarded")
	if o.Observer != nil {
		o.Observer.EventDiscarded(t, reason)
	}
}
