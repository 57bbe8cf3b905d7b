package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically deletes users who have been disconnected longer than
// the retention window. It runs decoupled from request handling; a second
// sweep over the same state deletes nothing.
type Reaper struct {
	presence  *Presence
	retention time.Duration
	interval  time.Duration
}

func NewReaper(presence *Presence, retention, interval time.Duration) *Reaper {
	return &Reaper{presence: presence, retention: retention, interval: interval}
}

// Run blocks until ctx is done, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.reaper").Dur("retention", r.retention).Dur("interval", r.interval).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.presence.Reap(ctx, r.retention, time.Now().UTC()); err != nil {
				log.Error().Err(err).Str("module", "app.reaper").Msg("reap sweep")
			}
		}
	}
}
