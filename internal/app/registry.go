package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

type connEntry struct {
	conn   domain.Connection
	signal core.SignalConnection
}

// Registry owns every live connection and its current room pointer.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		now:   time.Now,
	}
}

// Register creates a connection with no room. A duplicate id is a
// programming error on the transport side.
func (r *Registry) Register(id domain.ConnID, signal core.SignalConnection) (domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return domain.Connection{}, ErrAlreadyRegistered
	}
	e := &connEntry{
		conn:   domain.Connection{ID: id, LastSeen: r.now()},
		signal: signal,
	}
	r.conns[id] = e
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
	return e.conn, nil
}

// SetRoom updates the room pointer; an empty room clears it.
func (r *Registry) SetRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.conn.Room = room
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("updated room")
	return true
}

// Unregister removes the connection and returns its last room.
// Unknown ids are a no-op so disconnect races stay harmless.
func (r *Registry) Unregister(id domain.ConnID) domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ""
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(e.conn.Room)).Msg("unregistered connection")
	return e.conn.Room
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.conn.Room == "" {
		return "", false
	}
	return e.conn.Room, true
}

func (r *Registry) Get(id domain.ConnID) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.Connection{}, false
	}
	return e.conn, true
}

func (r *Registry) Signal(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.signal, true
}

// Touch refreshes the last-seen timestamp.
func (r *Registry) Touch(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.conn.LastSeen = r.now()
	}
}

// Idle lists connections not seen since the cutoff.
func (r *Registry) Idle(cutoff time.Time) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConnID
	for id, e := range r.conns {
		if e.conn.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
