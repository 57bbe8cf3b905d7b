package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
)

func (ctl *SessionWSController) handleJoin(
	ctx context.Context,
	sid core.ConnID,
	conn *WsConn,
	data []byte,
) {
	type joinPayload struct {
		Type     string `json:"type"`
		Username string `json:"username"`
		Room     string `json:"room"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "bad_payload",
		})
		return
	}
	if p.Username == "" || p.Room == "" {
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"error": "missing username or room",
		})
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("username", p.Username).Str("room", p.Room).Msg("join")
	if err := ctl.Coord.Join(ctx, sid, p.Username, p.Room); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		if errors.Is(err, app.ErrValidation) {
			ctl.sendJSON(conn, map[string]any{
				"type":  "error",
				"error": err.Error(),
			})
		}
		return
	}
}
