package physics

import (
	"math"

	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
)

type body struct {
	id       BodyID
	def      BodyDef
	input    protocol.InputData
	movement MovementState
}

func (b *body) bounds() geom.Rect { return b.def.Collider.Offset(b.def.Transform.Position) }

// Space is the default Simulation. It is not safe for concurrent use.
type Space struct {
	cfg    Config
	nextID BodyID
	bodies []*body
	index  map[BodyID]int
}

var _ Simulation = (*Space)(nil)

func NewSpace(cfg Config) *Space {
	return &Space{cfg: cfg, index: map[BodyID]int{}}
}

func (s *Space) Config() Config { return s.cfg }

func (s *Space) Len() int { return len(s.bodies) }

func (s *Space) get(id BodyID) *body {
	i, ok := s.index[id]
	if !ok {
		return nil
	}
	return s.bodies[i]
}

func (s *Space) CreateBody(def BodyDef) BodyID {
	s.nextID++
	id := s.nextID
	s.index[id] = len(s.bodies)
	s.bodies = append(s.bodies, &body{id: id, def: def})
	return id
}

func (s *Space) DestroyBody(id BodyID) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	copy(s.bodies[i:], s.bodies[i+1:])
	s.bodies[len(s.bodies)-1] = nil
	s.bodies = s.bodies[:len(s.bodies)-1]
	for j := i; j < len(s.bodies); j++ {
		s.index[s.bodies[j].id] = j
	}
}

func (s *Space) Has(id BodyID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Space) Definition(id BodyID) (BodyDef, bool) {
	b := s.get(id)
	if b == nil {
		return BodyDef{}, false
	}
	return b.def, true
}

func (s *Space) Transform(id BodyID) (geom.Transform, bool) {
	b := s.get(id)
	if b == nil {
		return geom.Transform{}, false
	}
	return b.def.Transform, true
}

func (s *Space) SetTransform(id BodyID, t geom.Transform) {
	if b := s.get(id); b != nil {
		b.def.Transform = t
	}
}

func (s *Space) Velocity(id BodyID) (geom.Velocity, bool) {
	b := s.get(id)
	if b == nil {
		return geom.Velocity{}, false
	}
	return b.def.Velocity, true
}

func (s *Space) SetVelocity(id BodyID, v geom.Velocity) {
	if b := s.get(id); b != nil && !b.def.Static() {
		b.def.Velocity = v
	}
}

func (s *Space) Movement(id BodyID) (MovementState, bool) {
	b := s.get(id)
	if b == nil {
		return MovementState{}, false
	}
	return b.movement, true
}

func (s *Space) SetMovement(id BodyID, m MovementState) {
	if b := s.get(id); b != nil {
		b.movement = m
	}
}

func (s *Space) SetInput(id BodyID, in protocol.InputData) {
	if b := s.get(id); b != nil {
		b.input = in
	}
}

func (s *Space) QueryRegion(r geom.Rect, fn func(BodyID) bool) {
	for _, b := range s.bodies {
		if b.bounds().Intersects(r) {
			if !fn(b.id) {
				return
			}
		}
	}
}

func (s *Space) Step(dt float64) {
	if dt <= 0 {
		return
	}
	for _, b := range s.bodies {
		if b.def.Static() {
			continue
		}
		if b.def.Controlled {
			s.control(b, dt)
		}
		s.integrate(b, dt)
	}
}

func (s *Space) control(b *body, dt float64) {
	in := b.input
	m := &b.movement
	v := &b.def.Velocity.Linear

	switch {
	case in.IsMovingRight && !in.IsMovingLeft:
		v.X = s.cfg.MoveSpeed
	case in.IsMovingLeft && !in.IsMovingRight:
		v.X = -s.cfg.MoveSpeed
	default:
		v.X = 0
	}
	if in.IsMovingRight != in.IsMovingLeft {
		m.FacingRight = in.IsMovingRight
	} else if !in.AimDirection.IsZero() {
		m.FacingRight = in.AimDirection.X >= 0
	}

	if in.IsJumping {
		if !m.WasJumping && m.OnGround {
			m.JumpTime = s.cfg.JumpHoldTime
			v.Y = -s.cfg.JumpVelocity
			m.OnGround = false
		} else if m.JumpTime > 0 {
			m.JumpTime = math.Max(0, m.JumpTime-dt)
			v.Y = -s.cfg.JumpVelocity
		}
	} else {
		m.JumpTime = 0
	}
	m.WasJumping = in.IsJumping
}

func (s *Space) integrate(b *body, dt float64) {
	d := &b.def
	d.Velocity.Linear = d.Velocity.Linear.Add(s.cfg.Gravity.Scale(dt))
	if d.AngularDamping > 0 {
		d.Velocity.Angular /= 1 + dt*d.AngularDamping
	}
	d.Transform.Rotation += d.Velocity.Angular * dt

	step := d.Velocity.Linear.Scale(dt)
	if step.X != 0 {
		d.Transform.Position.X += step.X
		if hit, ok := s.overlap(b); ok {
			if step.X > 0 {
				d.Transform.Position.X = hit.Min.X - d.Collider.Max.X
			} else {
				d.Transform.Position.X = hit.Max.X - d.Collider.Min.X
			}
			d.Velocity.Linear.X = -d.Velocity.Linear.X * d.Elasticity
		}
	}

	grounded := false
	if step.Y != 0 {
		d.Transform.Position.Y += step.Y
		if hit, ok := s.overlap(b); ok {
			if step.Y > 0 {
				d.Transform.Position.Y = hit.Min.Y - d.Collider.Max.Y
				grounded = true
			} else {
				d.Transform.Position.Y = hit.Max.Y - d.Collider.Min.Y
			}
			d.Velocity.Linear.Y = -d.Velocity.Linear.Y * d.Elasticity
		}
	}
	if grounded && !d.Controlled && d.Friction > 0 {
		d.Velocity.Linear.X *= math.Max(0, 1-d.Friction*dt)
	}
	if d.Controlled && step.Y != 0 {
		b.movement.OnGround = grounded
	}
}

// overlap returns the first solid collider b intersects.
func (s *Space) overlap(b *body) (geom.Rect, bool) {
	r := b.bounds()
	for _, o := range s.bodies {
		if o == b || !o.def.Solid() {
			continue
		}
		if ob := o.bounds(); ob.Intersects(r) {
			return ob, true
		}
	}
	return geom.Rect{}, false
}
