package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
)

func (ctl *SessionWSController) handleUpload(
	ctx context.Context,
	sid core.ConnID,
	conn *WsConn,
	data []byte,
) {
	type uploadPayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
		File []byte `json:"file"`
	}
	var p uploadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad upload payload")
		ctl.ackError(conn, "upload_file", app.ErrValidation)
		return
	}

	if !ctl.Uploads.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("upload rate limited")
		ctl.sendJSON(conn, ack{Type: "ack", Event: "upload_file", Error: "too many uploads"})
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Int("bytes", len(p.File)).Msg("upload")
	docID, err := ctl.Coord.Upload(ctx, sid, p.Name, p.File)
	if err != nil {
		if errors.Is(err, app.ErrDuplicateDocument) || errors.Is(err, app.ErrValidation) {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("upload rejected")
		} else {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("upload failed")
		}
		ctl.ackError(conn, "upload_file", err)
		return
	}
	ctl.sendJSON(conn, ack{Type: "ack", Event: "upload_file", Success: true, DocumentID: docID})
}
