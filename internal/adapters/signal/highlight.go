package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tmadeja/lectern/internal/app"
	"github.com/tmadeja/lectern/internal/core"
	"github.com/tmadeja/lectern/internal/domain"
)

// Highlight events are fire-and-forget: failures are logged and dropped,
// never surfaced as acks.

func (ctl *SessionWSController) handleAddHighlight(
	ctx context.Context,
	sid core.ConnID,
	data []byte,
) {
	var h domain.Highlight
	if err := json.Unmarshal(data, &h); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad add_highlight payload")
		return
	}

	if err := ctl.Coord.AddHighlight(ctx, sid, h); err != nil {
		logHighlightErr(err, sid, "add_highlight")
	}
}

func (ctl *SessionWSController) handleRemoveHighlight(
	ctx context.Context,
	sid core.ConnID,
	data []byte,
) {
	type removePayload struct {
		Type        string `json:"type"`
		HighlightID string `json:"highlightId"`
		DocumentID  string `json:"documentId"`
	}
	var p removePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad remove_highlight payload")
		return
	}

	if err := ctl.Coord.RemoveHighlight(ctx, sid, p.HighlightID, p.DocumentID); err != nil {
		logHighlightErr(err, sid, "remove_highlight")
	}
}

func (ctl *SessionWSController) handleReplaceHighlights(
	ctx context.Context,
	sid core.ConnID,
	data []byte,
) {
	type replacePayload struct {
		Type       string             `json:"type"`
		Highlights []domain.Highlight `json:"highlights"`
	}
	var p replacePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad update_highlight payload")
		return
	}

	if err := ctl.Coord.ReplaceHighlights(ctx, sid, p.Highlights); err != nil {
		logHighlightErr(err, sid, "update_highlight")
	}
}

func logHighlightErr(err error, sid core.ConnID, event string) {
	if errors.Is(err, app.ErrNotBound) || errors.Is(err, app.ErrValidation) {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("event dropped")
		return
	}
	log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("event failed")
}
