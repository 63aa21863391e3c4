package core

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Canvas/internal/domain"
)

var errFull = errors.New("full")

type recvFrame struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

type fakeConn struct {
	mu     sync.Mutex
	frames []recvFrame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errFull
	}
	var rf recvFrame
	if err := json.Unmarshal(frame, &rf); err != nil {
		return err
	}
	f.frames = append(f.frames, rf)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received() []recvFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recvFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) types() []domain.EventType {
	var out []domain.EventType
	for _, rf := range f.received() {
		out = append(out, rf.Type)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}
