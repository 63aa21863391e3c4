package core

import "github.com/dkeye/Canvas/internal/domain"

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ConnID
}

func (r *PublishResult) merge(o PublishResult) {
	r.SentTo += o.SentTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	Name        string        `json:"name"`
	MemberCount int           `json:"userCount"`
}

// RoomDetail adds the current canvas to RoomInfo.
type RoomDetail struct {
	RoomInfo
	Snapshot domain.Snapshot `json:"canvasData"`
}

// RemoveResult is what RoomTable.RemoveMember reports back.
type RemoveResult struct {
	Removed   bool
	Remaining int
	Deleted   bool
}
