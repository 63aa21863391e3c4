package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

// Envelope is the wire form of every outbound event.
type Envelope struct {
	Type domain.EventType `json:"type"`
	Data any              `json:"data,omitempty"`
}

// UserJoined announces a new member to the rest of the room.
type UserJoined struct {
	UserID domain.ConnID `json:"userId"`
}

// CursorPosition is relayed to the other members, tagged with its sender.
type CursorPosition struct {
	UserID domain.ConnID `json:"userId"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
}

// DrawingOperation is one incremental drawing step relayed as-is.
type DrawingOperation struct {
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.ConnID   `json:"userId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"timestamp"`
}

// Encode builds the frame for one event.
func Encode(t domain.EventType, data any) (Frame, error) {
	return json.Marshal(Envelope{Type: t, Data: data})
}

// Router decides who receives an event and in what form. Every method runs
// inside the owning room's goroutine, so per-room ordering holds and a
// joiner always sees the snapshot current at the time of its hydration.
// Delivery is a non-blocking TrySend; a failing recipient never stops
// delivery to the others.
type Router struct{}

// Join hydrates the joiner with the current snapshot and tells everyone
// else that a member joined.
func (rt Router) Join(room *Room, joiner domain.ConnID) PublishResult {
	var res PublishResult
	room.Do(func(v View) {
		if !v.Has(joiner) {
			return
		}
		res.merge(rt.deliver(v, v.Snapshot(), domain.EventCanvasState, only(joiner)))
		res.merge(rt.deliver(v, UserJoined{UserID: joiner}, domain.EventUserJoined, except(joiner)))
	})
	return res
}

// Hydrate resends the current snapshot to a single member.
func (rt Router) Hydrate(room *Room, to domain.ConnID) PublishResult {
	var res PublishResult
	room.Do(func(v View) {
		if v.Has(to) {
			res = rt.deliver(v, v.Snapshot(), domain.EventCanvasState, only(to))
		}
	})
	return res
}

// Update replaces the snapshot and forwards it to every member but the sender.
// An empty sender reaches everyone. It reports false when the room no
// longer exists.
func (rt Router) Update(room *Room, from domain.ConnID, s domain.Snapshot) (PublishResult, bool) {
	var res PublishResult
	ok := room.Do(func(v View) {
		v.SetSnapshot(s)
		res = rt.deliver(v, v.Snapshot(), domain.EventCanvasState, except(from))
	})
	return res, ok
}

// Cursor relays a pointer position to every member but the sender.
// Nothing is stored.
func (rt Router) Cursor(room *Room, from domain.ConnID, x, y float64) PublishResult {
	var res PublishResult
	room.Do(func(v View) {
		res = rt.deliver(v, CursorPosition{UserID: from, X: x, Y: y}, domain.EventCursorMove, except(from))
	})
	return res
}

// Operation relays a drawing operation to every member but its sender.
// The snapshot is left alone; clients follow up with a canvas update.
func (rt Router) Operation(room *Room, op DrawingOperation) PublishResult {
	var res PublishResult
	room.Do(func(v View) {
		res = rt.deliver(v, op, domain.EventDrawingOperation, except(op.UserID))
	})
	return res
}

// Clear empties the snapshot and notifies every member, sender included.
func (rt Router) Clear(room *Room) (PublishResult, bool) {
	var res PublishResult
	ok := room.Do(func(v View) {
		v.SetSnapshot(domain.EmptySnapshot())
		res = rt.deliver(v, nil, domain.EventCanvasCleared, everyone)
	})
	return res, ok
}

// Count sends the current member count to every member.
func (rt Router) Count(room *Room) PublishResult {
	var res PublishResult
	room.Do(func(v View) {
		res = rt.deliver(v, v.Count(), domain.EventUserCount, everyone)
	})
	return res
}

type audience func(domain.ConnID) bool

func everyone(domain.ConnID) bool { return true }

func only(id domain.ConnID) audience {
	return func(m domain.ConnID) bool { return m == id }
}

func except(id domain.ConnID) audience {
	return func(m domain.ConnID) bool { return m != id }
}

func (rt Router) deliver(v View, data any, t domain.EventType, to audience) PublishResult {
	res := PublishResult{}
	frame, err := Encode(t, data)
	if err != nil {
		log.Error().Err(err).Str("module", "core.router").Str("room", string(v.ID())).Str("type", string(t)).Msg("encode event")
		return res
	}
	for _, id := range v.Members() {
		if !to(id) {
			continue
		}
		conn, _ := v.conn(id)
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.router").Str("room", string(v.ID())).Str("type", string(t)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
