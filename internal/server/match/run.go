package match

import (
	"context"
	"time"

	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/server/sessions"
)

// Run drives the match from a wall-clock ticker until ctx is done, then
// disconnects every session.
func (m *Match) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tun.TickDuration())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			m.Update(now.Sub(last).Seconds())
			last = now
		}
	}
}

func (m *Match) shutdown() {
	m.registry.ForEach(func(s *sessions.Session) bool {
		s.Disconnect(m.now, protocol.ReasonServerClose)
		return true
	})
	m.registry.Clear()
	m.log.Info("match stopped", "match", m.id, "tick", m.now)
}
