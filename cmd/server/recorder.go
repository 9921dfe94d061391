package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"ticksync.dev/internal/persistence/indexdb"
	plog "ticksync.dev/internal/persistence/log"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/server/match"
	"ticksync.dev/internal/server/sessions"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/sim/tuning"
)

// flushEvery bounds how many ticks the tick log buffers before flushing.
const flushEvery = 60

// recorder persists what the match publishes: every tick and every
// join/leave to compressed JSONL, mirrored into the sqlite index when enabled.
type recorder struct {
	log     logr.Logger
	matchID string
	now     func() tick.Tick

	ticks    *plog.TickLogger
	sessions *plog.SessionLogger
	index    *indexdb.SQLiteIndex

	sinceFlush int
}

func (r *recorder) open(ctx context.Context, dataDir string, m *match.Match, tun tuning.Tuning, disableDB bool) error {
	matchID := m.ID()
	r.matchID = matchID
	r.now = m.Now
	dir := filepath.Join(dataDir, "matches", matchID)
	r.ticks = plog.NewTickLogger(dir)
	r.sessions = plog.NewSessionLogger(dir)
	if disableDB {
		return nil
	}
	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index.sqlite"))
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if err := idx.RecordMatch(ctx, matchID, tun); err != nil {
		_ = idx.Close()
		return fmt.Errorf("record match: %w", err)
	}
	r.index = idx
	return nil
}

func (r *recorder) hooks() match.Hooks {
	return match.Hooks{
		OnTick:          r.onTick,
		OnSessionJoined: func(s *sessions.Session) { r.onSession(s, plog.EventJoin) },
		OnSessionLeft:   func(s *sessions.Session) { r.onSession(s, plog.EventLeave) },
	}
}

func (r *recorder) onTick(t tick.Tick, state *protocol.MatchState) {
	if r.ticks == nil {
		return
	}
	entry := plog.TickEntry{MatchID: r.matchID, Tick: t, Time: time.Now().UTC(), Entities: state.Entities}
	if err := r.ticks.WriteTick(entry); err != nil {
		r.log.Error(err, "write tick", "tick", t)
	}
	_ = r.index.WriteTick(entry)

	r.sinceFlush++
	if r.sinceFlush >= flushEvery {
		r.sinceFlush = 0
		if err := r.ticks.Flush(); err != nil {
			r.log.Error(err, "flush tick log")
		}
	}
}

func (r *recorder) onSession(s *sessions.Session, event string) {
	if r.sessions == nil {
		return
	}
	ev := plog.SessionEvent{
		MatchID: r.matchID,
		Session: s.ID,
		Event:   event,
		Name:    s.Name,
		Players: s.Players,
		Tick:    r.now(),
		Time:    time.Now().UTC(),
	}
	if err := r.sessions.WriteEvent(ev); err != nil {
		r.log.Error(err, "write session event", "session", s.ID)
	}
	r.index.RecordSession(ev)
	r.log.Info("session "+event, "session", s.ID, "name", s.Name)
}

func (r *recorder) close() {
	if r.ticks != nil {
		_ = r.ticks.Close()
	}
	if r.sessions != nil {
		_ = r.sessions.Close()
	}
	if r.index != nil {
		st := r.index.Stats()
		if st.DropTickTotal > 0 || st.DropSessionTotal > 0 {
			r.log.Info("index dropped writes", "ticks", st.DropTickTotal, "sessions", st.DropSessionTotal)
		}
		_ = r.index.Close()
	}
}
