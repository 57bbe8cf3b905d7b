package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
)

func (ctl *SessionWSController) writePump(ctx context.Context, c *WsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SessionWSController) readPump(ctx context.Context, sid core.ConnID, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		// Transport-level disconnect: keep user state for reconnection and
		// tell the room.
		ctl.Coord.Disconnect(context.WithoutCancel(ctx), sid)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleEvent(ctx, sid, c, data)
		}
	}
}

// handleEvent dispatches one inbound event. Events of a single connection
// are handled here in arrival order; the handler is the failure boundary —
// nothing below may crash the pump.
func (ctl *SessionWSController) handleEvent(ctx context.Context, sid core.ConnID, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, sid, c, data)
	case "ping":
		ctl.handlePing(c)
	case "upload_file":
		ctl.handleUpload(ctx, sid, c, data)
	case "set_view":
		ctl.handleSetView(ctx, sid, c, data)
	case "add_highlight":
		ctl.handleAddHighlight(ctx, sid, data)
	case "remove_highlight":
		ctl.handleRemoveHighlight(ctx, sid, data)
	case "update_highlight":
		ctl.handleReplaceHighlights(ctx, sid, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *SessionWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// ack is the request/response-style reply sent only to the calling
// connection.
type ack struct {
	Type       string `json:"type"`
	Event      string `json:"event"`
	Success    bool   `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

func (ctl *SessionWSController) ackOK(c core.SignalConnection, event string) {
	ctl.sendJSON(c, ack{Type: "ack", Event: event, Success: true})
}

func (ctl *SessionWSController) ackError(c core.SignalConnection, event string, err error) {
	ctl.sendJSON(c, ack{Type: "ack", Event: event, Error: ackMessage(err)})
}

// ackMessage maps the error taxonomy onto client-facing text. Anything
// outside the taxonomy is an infrastructure fault and stays generic.
func ackMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, app.ErrDuplicateDocument):
		return err.Error()
	case errors.Is(err, app.ErrNotBound):
		return "user not found"
	default:
		return "internal error"
	}
}
