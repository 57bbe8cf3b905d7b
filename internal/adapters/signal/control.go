package signal

func (ctl *SessionWSController) handlePing(
	conn *WsConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
