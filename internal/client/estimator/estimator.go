// Package estimator tracks which server tick the client should be
// emulating, corrected by the tick errors the server echoes back.
package estimator

import (
	"github.com/go-logr/logr"

	"ticksync.dev/internal/sim/tick"
)

type Config struct {
	// JitterMargin is how many ticks behind the estimate packets are
	// considered ready.
	JitterMargin int
	// Window is the number of tick error samples averaged.
	Window int
	// Horizon caps the number of outstanding predictions.
	Horizon int
}

type prediction struct {
	tick tick.Tick
	err  int
}

type Estimator struct {
	log logr.Logger
	cfg Config

	current tick.Tick

	samples []int
	next    int
	sum     int

	predictions []prediction
	discarded   uint64
}

func New(cfg Config, log logr.Logger) *Estimator {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.Horizon < 1 {
		cfg.Horizon = 1
	}
	return &Estimator{
		log:     log,
		cfg:     cfg,
		samples: make([]int, 0, cfg.Window),
	}
}

// Reset sets the last known server tick and clears all drift history.
func (e *Estimator) Reset(current tick.Tick) {
	e.current = current
	e.samples = e.samples[:0]
	e.next = 0
	e.sum = 0
	e.predictions = e.predictions[:0]
}

// Advance moves the server clock forward by one simulated tick.
func (e *Estimator) Advance() { e.current++ }

func (e *Estimator) Current() tick.Tick { return e.current }

// AverageError is the truncated mean of the recorded samples, 0 when empty.
func (e *Estimator) AverageError() int {
	if len(e.samples) == 0 {
		return 0
	}
	return e.sum / len(e.samples)
}

// EstimateServerTick is the tick the server is believed to be simulating
// right now. Inputs are tagged with it.
func (e *Estimator) EstimateServerTick() tick.Tick {
	return e.current.Add(-e.AverageError())
}

// EstimateCurrentTick is the newest tick whose packets should be applied:
// the server estimate held back by the jitter margin.
func (e *Estimator) EstimateCurrentTick() tick.Tick {
	return e.EstimateServerTick().Add(-e.cfg.JitterMargin)
}

// TrackPrediction remembers the average error in effect when inputs for t
// were sent. The oldest record is evicted past the horizon.
func (e *Estimator) TrackPrediction(t tick.Tick) {
	if len(e.predictions) >= e.cfg.Horizon {
		n := len(e.predictions) - e.cfg.Horizon + 1
		e.predictions = append(e.predictions[:0], e.predictions[n:]...)
	}
	e.predictions = append(e.predictions, prediction{tick: t, err: e.AverageError()})
}

func (e *Estimator) Outstanding() int { return len(e.predictions) }

// Discarded counts echoes that matched no outstanding prediction.
func (e *Estimator) Discarded() uint64 { return e.discarded }

// RecordTickError consumes the prediction for t and feeds the corrected
// error into the average. It reports whether a prediction matched.
func (e *Estimator) RecordTickError(t tick.Tick, err int) bool {
	for i, p := range e.predictions {
		if p.tick != t {
			continue
		}
		e.insert(p.err + err)
		e.predictions = append(e.predictions[:i], e.predictions[i+1:]...)
		return true
	}
	e.discarded++
	e.log.Info("tick error for untracked tick", "tick", t, "error", err)
	return false
}

func (e *Estimator) insert(v int) {
	if len(e.samples) < e.cfg.Window {
		e.samples = append(e.samples, v)
		e.sum += v
		return
	}
	e.sum += v - e.samples[e.next]
	e.samples[e.next] = v
	e.next = (e.next + 1) % e.cfg.Window
}
