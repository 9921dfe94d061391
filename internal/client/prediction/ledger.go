// Package prediction records locally sampled input so it can be replayed
// on top of authoritative state.
package prediction

import (
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/sim/tick"
)

// PlayerInput is what one local player did on a tick. Movement is the
// controller state of the live actor before the input was applied, when the
// player controlled one.
type PlayerInput struct {
	Input    protocol.InputData
	Movement *physics.MovementState
}

type Entry struct {
	Tick   tick.Tick
	Inputs []PlayerInput
}

// Ledger holds unconfirmed entries oldest first, capped to a horizon.
type Ledger struct {
	horizon int
	entries []Entry
	evicted uint64
}

func NewLedger(horizon int) *Ledger {
	if horizon < 1 {
		horizon = 1
	}
	return &Ledger{horizon: horizon}
}

// Record appends an entry for t. The oldest entry is evicted once the
// horizon is reached.
func (l *Ledger) Record(t tick.Tick, inputs []PlayerInput) {
	if len(l.entries) >= l.horizon {
		n := len(l.entries) - l.horizon + 1
		clear(l.entries[:n])
		l.entries = append(l.entries[:0], l.entries[n:]...)
		l.evicted += uint64(n)
	}
	l.entries = append(l.entries, Entry{Tick: t, Inputs: inputs})
}

// Confirm drops every entry at or before stateTick and returns how many
// were dropped.
func (l *Ledger) Confirm(stateTick tick.Tick) int {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if tick.IsMoreRecent(e.Tick, stateTick) {
			kept = append(kept, e)
		}
	}
	n := len(l.entries) - len(kept)
	clear(l.entries[len(kept):])
	l.entries = kept
	return n
}

// Entries is valid until the next Record, Confirm or Clear.
func (l *Ledger) Entries() []Entry { return l.entries }

func (l *Ledger) Len() int { return len(l.entries) }

func (l *Ledger) Evicted() uint64 { return l.evicted }

func (l *Ledger) Oldest() (tick.Tick, bool) {
	if len(l.entries) == 0 {
		return 0, false
	}
	return l.entries[0].Tick, true
}

func (l *Ledger) Clear() {
	clear(l.entries)
	l.entries = l.entries[:0]
}
