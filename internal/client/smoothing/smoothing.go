// Package smoothing bleeds residual display error out of entities at a
// fixed correction rate.
package smoothing

import (
	"math"

	"ticksync.dev/internal/client/entities"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
)

type Config struct {
	StepsPerSecond  float64
	PositionFactor  float64
	RotationFactor  float64
	PositionEpsilon float64
	RotationEpsilon float64
}

type Smoother struct {
	cfg  Config
	step float64
	acc  float64
}

func New(cfg Config) *Smoother {
	s := &Smoother{cfg: cfg}
	if cfg.StepsPerSecond > 0 {
		s.step = 1 / cfg.StepsPerSecond
	}
	return s
}

// Update advances the correction clock by elapsed seconds and applies the
// whole steps that fit to every entity in t. It returns the step count.
func (s *Smoother) Update(elapsed float64, t *entities.Table) int {
	if s.step == 0 || elapsed <= 0 {
		return 0
	}
	s.acc += elapsed
	n := int(s.acc / s.step)
	if n == 0 {
		return 0
	}
	s.acc -= float64(n) * s.step
	t.Range(func(e *entities.ServerEntity) bool {
		s.Decay(e, n)
		return true
	})
	return n
}

// Decay applies n correction steps to e at once.
func (s *Smoother) Decay(e *entities.ServerEntity, n int) {
	if n <= 0 {
		return
	}
	if !e.PositionError.IsZero() {
		e.PositionError = e.PositionError.Scale(math.Pow(1-s.cfg.PositionFactor, float64(n)))
		if e.PositionError.SquaredLength() < s.cfg.PositionEpsilon*s.cfg.PositionEpsilon {
			e.PositionError = geom.Vec2{}
		}
	}
	if e.RotationError != 0 {
		e.RotationError *= math.Pow(1-s.cfg.RotationFactor, float64(n))
		if math.Abs(e.RotationError) < s.cfg.RotationEpsilon {
			e.RotationError = 0
		}
	}
}

// Display is where e should be drawn: its live transform offset by the
// residual error.
func Display(live physics.Simulation, e *entities.ServerEntity) (geom.Transform, bool) {
	tr, ok := live.Transform(e.Body)
	if !ok {
		return geom.Transform{}, false
	}
	tr.Position = tr.Position.Add(e.PositionError)
	tr.Rotation += e.RotationError
	return tr, true
}
