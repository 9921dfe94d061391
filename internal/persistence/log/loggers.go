package log

import (
	"path/filepath"
	"time"

	"ticksync.dev/internal/client/reconcile"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/tick"
)

const (
	TicksPrefix       = "ticks"
	SessionsPrefix    = "sessions"
	CorrectionsPrefix = "corrections"
)

// TickEntry is the authoritative state published for one server tick.
type TickEntry struct {
	MatchID  string                 `json:"match_id"`
	Tick     tick.Tick              `json:"tick"`
	Time     time.Time              `json:"time"`
	Entities []protocol.EntityState `json:"entities"`
}

// SessionEvent.Event values.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

type SessionEvent struct {
	MatchID string    `json:"match_id"`
	Session uint64    `json:"session"`
	Event   string    `json:"event"`
	Name    string    `json:"name,omitempty"`
	Players []uint32  `json:"players,omitempty"`
	Tick    tick.Tick `json:"tick"`
	Time    time.Time `json:"time"`
}

// CorrectionEntry is one client reconciliation pass.
type CorrectionEntry struct {
	MatchID     string                 `json:"match_id"`
	StateTick   tick.Tick              `json:"state_tick"`
	Confirmed   int                    `json:"confirmed"`
	Replayed    int                    `json:"replayed"`
	Unknown     int                    `json:"unknown,omitempty"`
	Direct      int                    `json:"direct,omitempty"`
	Corrections []reconcile.Correction `json:"corrections,omitempty"`
	Time        time.Time              `json:"time"`
}

func NewCorrectionEntry(matchID string, rep reconcile.Report) CorrectionEntry {
	return CorrectionEntry{
		MatchID:     matchID,
		StateTick:   rep.StateTick,
		Confirmed:   rep.Confirmed,
		Replayed:    rep.Replayed,
		Unknown:     rep.Unknown,
		Direct:      rep.Direct,
		Corrections: rep.Corrections,
		Time:        time.Now().UTC(),
	}
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *HourlyWriter }

func NewTickLogger(matchDir string) *TickLogger {
	return &TickLogger{w: NewHourlyWriter(filepath.Join(matchDir, TicksPrefix), TicksPrefix)}
}

func (l *TickLogger) WriteTick(v TickEntry) error { return l.w.Write(v) }
func (l *TickLogger) Flush() error                { return l.w.Flush() }
func (l *TickLogger) Close() error                { return l.w.Close() }

// SessionLogger records joins and leaves (compressed).
type SessionLogger struct{ w *HourlyWriter }

func NewSessionLogger(matchDir string) *SessionLogger {
	return &SessionLogger{w: NewHourlyWriter(filepath.Join(matchDir, SessionsPrefix), SessionsPrefix)}
}

func (l *SessionLogger) WriteEvent(v SessionEvent) error { return l.w.Write(v) }
func (l *SessionLogger) Close() error                    { return l.w.Close() }

// CorrectionLogger records client reconciliation reports (compressed).
type CorrectionLogger struct{ w *HourlyWriter }

func NewCorrectionLogger(dir string) *CorrectionLogger {
	return &CorrectionLogger{w: NewHourlyWriter(filepath.Join(dir, CorrectionsPrefix), CorrectionsPrefix)}
}

func (l *CorrectionLogger) WriteCorrection(v CorrectionEntry) error { return l.w.Write(v) }
func (l *CorrectionLogger) Close() error                            { return l.w.Close() }
