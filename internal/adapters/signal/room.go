package signal

import (
	"context"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	id domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p joinPayload
	if err := decode(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	roomID := domain.RoomID(p.RoomID)
	if err := ctl.Orch.Join(ctx, id, roomID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("room", p.RoomID).Msg("join")
		ctl.sendError(conn, "join_failed")
		return
	}

	ctl.send(conn, domain.EventJoined, struct {
		RoomID domain.RoomID `json:"roomId"`
		UserID domain.ConnID `json:"userId"`
	}{
		RoomID: roomID,
		UserID: id,
	})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	id domain.ConnID,
	conn *WsSignalConn,
) {
	if !ctl.Orch.Leave(id) {
		return
	}
	ctl.send(conn, domain.EventLeft, nil)
}
