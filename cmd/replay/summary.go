package main

import (
	"encoding/json"
	"fmt"
	"io"

	plog "ticksync.dev/internal/persistence/log"
	"ticksync.dev/internal/sim/tick"
)

type tickSummary struct {
	Entries     int
	First, Last tick.Tick
	// Gaps counts missing ticks between consecutive entries.
	Gaps        int
	MaxEntities int
}

func (s *tickSummary) add(e plog.TickEntry) {
	if s.Entries > 0 {
		if d := tick.Diff(e.Tick, s.Last); d > 1 {
			s.Gaps += d - 1
		}
	}
	if s.Entries == 0 {
		s.First = e.Tick
	}
	s.Last = e.Tick
	s.Entries++
	s.MaxEntities = max(s.MaxEntities, len(e.Entities))
}

type correctionSummary struct {
	Reports     int
	Replayed    int
	Corrections int
	Snaps       int
	MaxDistance float64
	sum         float64
}

func (s *correctionSummary) add(e plog.CorrectionEntry) {
	s.Reports++
	s.Replayed += e.Replayed
	for _, c := range e.Corrections {
		s.Corrections++
		s.sum += c.Distance
		s.MaxDistance = max(s.MaxDistance, c.Distance)
		if c.Snapped {
			s.Snaps++
		}
	}
}

func (s *correctionSummary) MeanDistance() float64 {
	if s.Corrections == 0 {
		return 0
	}
	return s.sum / float64(s.Corrections)
}

// scan decodes every entry under dir/prefix in file order.
func scan[T any](dir, prefix string, fn func(T) error) error {
	files, err := plog.Files(dir, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		err := plog.ReadJSONL(f, func(line json.RawMessage) error {
			var v T
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			return fn(v)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeTrajectory(w io.Writer, e plog.TickEntry, entity uint32) {
	for _, s := range e.Entities {
		if s.ID != entity {
			continue
		}
		fmt.Fprintf(w, "%d\t%.2f\t%.2f", e.Tick, s.Position.X, s.Position.Y)
		if s.Physics != nil {
			fmt.Fprintf(w, "\t%.2f\t%.2f", s.Physics.LinearVelocity.X, s.Physics.LinearVelocity.Y)
		}
		fmt.Fprintln(w)
		return
	}
}
