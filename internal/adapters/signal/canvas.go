package signal

import (
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCanvasUpdate(
	id domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p canvasPayload
	if err := decode(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad canvas payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.CanvasUpdate(id, domain.RoomID(p.RoomID), *p.CanvasState)
}

// handleCursorMove relays cursor positions, dropping what exceeds the
// per-connection rate.
func (ctl *SignalWSController) handleCursorMove(
	id domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p cursorPayload
	if err := decode(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad cursor payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.cursors.Allow(id) {
		ctl.Orch.Throttled(domain.EventCursorMove, id)
		return
	}
	ctl.Orch.CursorMove(id, domain.RoomID(p.RoomID), *p.X, *p.Y)
}

func (ctl *SignalWSController) handleClear(
	id domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad clear payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.Clear(id, domain.RoomID(p.RoomID))
}

// handleDrawingOperation relays an incremental drawing step. The operation
// must be an object with a type; everything else in it is passed through.
func (ctl *SignalWSController) handleDrawingOperation(
	id domain.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var (
		p    drawingPayload
		kind drawingKind
	)
	err := decode(data, &p)
	if err == nil {
		err = decode(p.Operation, &kind)
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad drawing operation")
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.DrawingOperation(id, domain.RoomID(p.RoomID), kind.Type, p.Operation)
}
