package signal

import "github.com/dkeye/Canvas/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, domain.EventPong, nil)
}
