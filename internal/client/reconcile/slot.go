package reconcile

import (
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
)

// ControlListener is called when a slot's controlled entity changes.
// protocol.NoEntity stands for "none".
type ControlListener func(slot *PlayerSlot, prev, next uint32)

// PlayerSlot is one local player. It owns a scratch world while it
// controls an entity and never otherwise.
type PlayerSlot struct {
	Index     uint8
	LastInput protocol.InputData

	controlled uint32
	scratch    *Scratch
	listeners  []ControlListener
}

func (p *PlayerSlot) Controlled() (uint32, bool) {
	return p.controlled, p.controlled != protocol.NoEntity
}

func (p *PlayerSlot) Scratch() *Scratch { return p.scratch }

func (p *PlayerSlot) OnControlledChanged(fn ControlListener) {
	p.listeners = append(p.listeners, fn)
}

// Scratch is a private replay world. Bodies are mirrored from the live
// world and indexed by their live id.
type Scratch struct {
	world physics.Simulation
	// controlled is the scratch body of the slot's entity, 0 when the
	// entity has no physical body.
	controlled physics.BodyID
	mirrors    map[physics.BodyID]physics.BodyID
}

func newScratch(world physics.Simulation) *Scratch {
	return &Scratch{world: world, mirrors: map[physics.BodyID]physics.BodyID{}}
}

func (s *Scratch) World() physics.Simulation { return s.world }

// Mirrors reports how many neighbouring live bodies are mirrored.
func (s *Scratch) Mirrors() int { return len(s.mirrors) }

// MirrorOf returns the scratch body mirroring live body b.
func (s *Scratch) MirrorOf(b physics.BodyID) (physics.BodyID, bool) {
	id, ok := s.mirrors[b]
	return id, ok
}

// ControlledTransform is the replayed transform of the slot's entity.
func (s *Scratch) ControlledTransform() (geom.Transform, bool) {
	if s.controlled == 0 {
		return geom.Transform{}, false
	}
	return s.world.Transform(s.controlled)
}

// mirror creates or refreshes the scratch copy of live body b.
func (s *Scratch) mirror(live physics.Simulation, b physics.BodyID) {
	def, ok := live.Definition(b)
	if !ok {
		return
	}
	if id, ok := s.mirrors[b]; ok && s.world.Has(id) {
		s.world.SetTransform(id, def.Transform)
		s.world.SetVelocity(id, def.Velocity)
		return
	}
	def.Controlled = false
	s.mirrors[b] = s.world.CreateBody(def)
}

func (s *Scratch) forget(b physics.BodyID) {
	if id, ok := s.mirrors[b]; ok {
		s.world.DestroyBody(id)
		delete(s.mirrors, b)
	}
}
