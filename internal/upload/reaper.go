package upload

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper reclaims sessions the client walked away from. Without it,
// abandoned chunk directories accumulate on disk indefinitely.
type Reaper struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
}

// NewReaper creates a reaper sweeping the registry every interval for
// sessions idle longer than ttl.
func NewReaper(registry *Registry, ttl, interval time.Duration) *Reaper {
	return &Reaper{
		registry: registry,
		ttl:      ttl,
		interval: interval,
	}
}

// Run sweeps until the context is cancelled. Reaping takes the same path as
// explicit cancellation, so chunk cleanup happens exactly once per session.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().
		Dur("ttl", r.ttl).
		Dur("interval", r.interval).
		Msg("session reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session reaper stopped")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	cutoff := time.Now().Add(-r.ttl)
	stale := r.registry.idle(cutoff)

	for _, session := range stale {
		if r.registry.Remove(session.ID) {
			log.Info().
				Str("session_id", session.ID.String()).
				Str("state", string(session.State())).
				Msg("reaped idle upload session")
		}
	}
}
