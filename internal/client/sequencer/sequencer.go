// Package sequencer is the client jitter buffer: tick-tagged server packets
// go in in any order and come out in tick order once their tick is ready.
package sequencer

import (
	"slices"
	"sort"

	"github.com/go-logr/logr"

	"ticksync.dev/internal/sim/tick"
)

type Packet[T any] struct {
	Tick    tick.Tick
	Content T
}

type Stats struct {
	Pushed  uint64
	Drained uint64
	Late    uint64
}

// Sequencer is owned by the match loop and is not safe for concurrent use.
type Sequencer[T any] struct {
	log     logr.Logger
	packets []Packet[T]

	drained     bool
	lastDrained tick.Tick
	stats       Stats
}

func New[T any](log logr.Logger) *Sequencer[T] {
	return &Sequencer[T]{log: log}
}

func (s *Sequencer[T]) Len() int     { return len(s.packets) }
func (s *Sequencer[T]) Stats() Stats { return s.stats }

// Push buffers content for t after any packet already buffered for t.
// A packet for a tick the last drain already covered is counted as late and
// goes out with the next drain, ahead of newer ticks.
func (s *Sequencer[T]) Push(t tick.Tick, content T) {
	s.stats.Pushed++
	if s.drained && tick.AtOrBefore(t, s.lastDrained) {
		s.stats.Late++
		s.log.V(1).Info("packet for drained tick", "tick", t, "lastDrained", s.lastDrained)
	}
	i := s.upperBound(t)
	s.packets = slices.Insert(s.packets, i, Packet[T]{Tick: t, Content: content})
}

// DrainReady removes and returns every packet with a tick at or before upto,
// in tick order. A bound older than the previous one returns nothing.
func (s *Sequencer[T]) DrainReady(upto tick.Tick) []Packet[T] {
	if s.drained && tick.IsMoreRecent(s.lastDrained, upto) {
		s.log.V(1).Info("drain bound regressed", "upto", upto, "lastDrained", s.lastDrained)
		return nil
	}
	s.drained = true
	s.lastDrained = upto

	n := s.upperBound(upto)
	if n == 0 {
		return nil
	}
	out := make([]Packet[T], n)
	copy(out, s.packets[:n])
	clear(s.packets[:n])
	s.packets = slices.Delete(s.packets, 0, n)
	s.stats.Drained += uint64(n)
	return out
}

// Reset drops everything buffered and forgets the drain position.
func (s *Sequencer[T]) Reset() {
	s.packets = s.packets[:0]
	s.drained = false
	s.lastDrained = 0
}

// upperBound is the index of the first packet more recent than t.
func (s *Sequencer[T]) upperBound(t tick.Tick) int {
	return sort.Search(len(s.packets), func(i int) bool {
		return tick.IsMoreRecent(s.packets[i].Tick, t)
	})
}
