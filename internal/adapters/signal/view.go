package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
)

func (ctl *SessionWSController) handleSetView(
	ctx context.Context,
	sid core.ConnID,
	conn *WsConn,
	data []byte,
) {
	type viewPayload struct {
		Type  string  `json:"type"`
		DocID *string `json:"doc_id"`
		Page  *int    `json:"page"`
	}
	var p viewPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad set_view payload")
		ctl.ackError(conn, "set_view", app.ErrValidation)
		return
	}

	if err := ctl.Coord.SetView(ctx, sid, p.DocID, p.Page); err != nil {
		if errors.Is(err, app.ErrNotBound) {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("set_view from unbound connection")
		} else {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("set_view failed")
		}
		ctl.ackError(conn, "set_view", err)
		return
	}
	ctl.ackOK(conn, "set_view")
}
