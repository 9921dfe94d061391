// Package reconcile corrects locally predicted actors against authoritative
// state by replaying unconfirmed input in a private scratch world.
package reconcile

import (
	"github.com/go-logr/logr"

	"ticksync.dev/internal/client/entities"
	"ticksync.dev/internal/client/prediction"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/sim/tick"
)

type Config struct {
	// TickSeconds is the fixed replay step.
	TickSeconds float64
	// Live actors within SnapDistance of the replayed result are blended
	// toward it by BlendFactor; farther ones are snapped.
	SnapDistance float64
	BlendFactor  float64
	// InteractionRadius is the half extent of the box of live bodies
	// mirrored around each controlled actor.
	InteractionRadius float64
	ShowGhosts        bool
}

// WorldFactory builds an empty scratch world.
type WorldFactory func() physics.Simulation

// Correction describes how one controlled actor was moved back onto the
// replayed result.
type Correction struct {
	Player   uint8   `json:"player"`
	EntityID uint32  `json:"entity_id"`
	Distance float64 `json:"distance"`
	Snapped  bool    `json:"snapped,omitempty"`
}

type Report struct {
	StateTick tick.Tick
	Confirmed int
	Replayed  int
	// Unknown counts entity states naming entities we do not have.
	Unknown int
	// Direct counts controlled actors set straight to the authoritative
	// state without a replay.
	Direct      int
	Corrections []Correction
}

type Engine struct {
	cfg      Config
	log      logr.Logger
	live     physics.Simulation
	table    *entities.Table
	ledger   *prediction.Ledger
	newWorld WorldFactory
	slots    []*PlayerSlot
}

func New(cfg Config, live physics.Simulation, table *entities.Table, ledger *prediction.Ledger, newWorld WorldFactory, players int, log logr.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      log,
		live:     live,
		table:    table,
		ledger:   ledger,
		newWorld: newWorld,
	}
	for i := 0; i < players; i++ {
		e.slots = append(e.slots, &PlayerSlot{Index: uint8(i)})
	}
	return e
}

func (e *Engine) Slots() []*PlayerSlot { return e.slots }

func (e *Engine) Slot(i uint8) (*PlayerSlot, bool) {
	if int(i) >= len(e.slots) {
		return nil, false
	}
	return e.slots[i], true
}

// ControllerOf returns the slot controlling serverID.
func (e *Engine) ControllerOf(serverID uint32) (*PlayerSlot, bool) {
	if serverID == protocol.NoEntity {
		return nil, false
	}
	for _, s := range e.slots {
		if s.controlled == serverID {
			return s, true
		}
	}
	return nil, false
}

// SetControlled hands serverID to a local player, releasing whatever it
// controlled before. protocol.NoEntity only releases.
func (e *Engine) SetControlled(player uint8, serverID uint32) bool {
	slot, ok := e.Slot(player)
	if !ok {
		e.log.Info("control for unknown player slot", "player", player, "entity", serverID)
		return false
	}
	prev := slot.controlled
	if prev == serverID {
		return true
	}

	var ent *entities.ServerEntity
	if serverID != protocol.NoEntity {
		ent, ok = e.table.Get(serverID)
		if !ok {
			e.log.V(1).Info("control of unknown entity", "player", player, "entity", serverID)
			return false
		}
	}

	slot.controlled = protocol.NoEntity
	slot.scratch = nil
	if ent != nil {
		sc := newScratch(e.newWorld())
		if ent.IsPhysical {
			if def, ok := e.live.Definition(ent.Body); ok {
				sc.controlled = sc.world.CreateBody(def)
			}
		}
		slot.controlled = serverID
		slot.scratch = sc
	}
	for _, fn := range slot.listeners {
		fn(slot, prev, slot.controlled)
	}
	return true
}

// Forget drops every trace of ent from the scratch worlds, releasing control
// of it if a local player had it.
func (e *Engine) Forget(ent *entities.ServerEntity) {
	for _, s := range e.slots {
		if s.controlled == ent.ServerID {
			e.SetControlled(s.Index, protocol.NoEntity)
			continue
		}
		if s.scratch != nil {
			s.scratch.forget(ent.Body)
		}
	}
}

// ApplyState applies an authoritative snapshot and reconciles every
// controlled actor it names.
func (e *Engine) ApplyState(state *protocol.MatchState) Report {
	rep := Report{StateTick: state.StateTick}
	rep.Confirmed = e.ledger.Confirm(state.StateTick)

	var seeded []*PlayerSlot
	for i := range state.Entities {
		es := &state.Entities[i]
		ent, ok := e.table.Get(es.ID)
		if !ok {
			rep.Unknown++
			e.log.V(1).Info("state for unknown entity", "entity", es.ID, "stateTick", state.StateTick)
			continue
		}
		auth := geom.Transform{Position: es.Position, Rotation: es.Rotation}
		if e.cfg.ShowGhosts {
			g := auth
			ent.Ghost = &g
		}

		if slot, ok := e.ControllerOf(es.ID); ok && slot.scratch != nil {
			if !ent.IsPhysical || slot.scratch.controlled == 0 {
				e.live.SetTransform(ent.Body, auth)
				rep.Direct++
				continue
			}
			sc := slot.scratch
			sc.world.SetTransform(sc.controlled, auth)
			sc.world.SetVelocity(sc.controlled, velocityOf(es))
			if es.PlayerMovement != nil {
				m, _ := sc.world.Movement(sc.controlled)
				m.FacingRight = es.PlayerMovement.IsFacingRight
				sc.world.SetMovement(sc.controlled, m)
			}
			seeded = append(seeded, slot)
			continue
		}

		e.applyRemote(ent, es, auth)
	}

	if len(seeded) == 0 {
		return rep
	}

	if e.ledger.Len() == 0 {
		rep.Direct += len(seeded)
		for _, slot := range seeded {
			ent, _ := e.table.Get(slot.controlled)
			sc := slot.scratch
			tr, _ := sc.world.Transform(sc.controlled)
			v, _ := sc.world.Velocity(sc.controlled)
			e.live.SetTransform(ent.Body, tr)
			e.live.SetVelocity(ent.Body, v)
		}
		return rep
	}

	for _, slot := range seeded {
		e.mirrorNeighbours(slot)
	}
	rep.Replayed = e.replay(seeded)

	for _, slot := range seeded {
		if c, ok := e.applyBack(slot); ok {
			rep.Corrections = append(rep.Corrections, c)
		}
	}
	return rep
}

func velocityOf(es *protocol.EntityState) geom.Velocity {
	if es.Physics == nil {
		return geom.Velocity{}
	}
	return geom.Velocity{Linear: es.Physics.LinearVelocity, Angular: es.Physics.AngularVelocity}
}

// applyRemote handles an actor no local player controls. Physical actors
// are snapped in the live world and the jump is pushed into their display
// error so the smoother hides it.
func (e *Engine) applyRemote(ent *entities.ServerEntity, es *protocol.EntityState, auth geom.Transform) {
	if es.PlayerMovement != nil {
		ent.FacingRight = es.PlayerMovement.IsFacingRight
	}
	if !ent.IsPhysical {
		e.live.SetTransform(ent.Body, auth)
		return
	}
	if cur, ok := e.live.Transform(ent.Body); ok {
		ent.PositionError = ent.PositionError.Add(cur.Position.Sub(auth.Position))
		ent.RotationError += cur.Rotation - auth.Rotation
	}
	e.live.SetTransform(ent.Body, auth)
	if es.Physics != nil {
		e.live.SetVelocity(ent.Body, velocityOf(es))
	}
}

// mirrorNeighbours refreshes the scratch copies of live bodies around the
// slot's actor and drops mirrors that moved out of range.
func (e *Engine) mirrorNeighbours(slot *PlayerSlot) {
	ent, ok := e.table.Get(slot.controlled)
	if !ok {
		return
	}
	cur, ok := e.live.Transform(ent.Body)
	if !ok {
		return
	}
	sc := slot.scratch
	seen := map[physics.BodyID]bool{}
	e.live.QueryRegion(geom.RectAround(cur.Position, e.cfg.InteractionRadius), func(b physics.BodyID) bool {
		if b != ent.Body {
			sc.mirror(e.live, b)
			seen[b] = true
		}
		return true
	})
	for b := range sc.mirrors {
		if !seen[b] {
			sc.forget(b)
		}
	}
}

// replay runs every unconfirmed ledger entry through the seeded scratch
// worlds, one fixed step per entry.
func (e *Engine) replay(seeded []*PlayerSlot) int {
	entries := e.ledger.Entries()
	for _, entry := range entries {
		for _, slot := range seeded {
			if int(slot.Index) >= len(entry.Inputs) {
				continue
			}
			in := entry.Inputs[slot.Index]
			sc := slot.scratch
			sc.world.SetInput(sc.controlled, in.Input)
			if in.Movement != nil {
				m, _ := sc.world.Movement(sc.controlled)
				m.OnGround = in.Movement.OnGround
				m.JumpTime = in.Movement.JumpTime
				m.WasJumping = in.Movement.WasJumping
				sc.world.SetMovement(sc.controlled, m)
			}
		}
		for _, slot := range seeded {
			slot.scratch.world.Step(e.cfg.TickSeconds)
		}
	}
	return len(entries)
}

// applyBack moves the live actor onto the replayed result. Position is
// blended when close; rotation and velocity are always copied.
func (e *Engine) applyBack(slot *PlayerSlot) (Correction, bool) {
	ent, ok := e.table.Get(slot.controlled)
	if !ok {
		return Correction{}, false
	}
	sc := slot.scratch
	want, ok := sc.world.Transform(sc.controlled)
	if !ok {
		return Correction{}, false
	}
	cur, ok := e.live.Transform(ent.Body)
	if !ok {
		return Correction{}, false
	}
	v, _ := sc.world.Velocity(sc.controlled)

	diff := cur.Position.Sub(want.Position)
	c := Correction{Player: slot.Index, EntityID: ent.ServerID, Distance: diff.Length()}
	pos := want.Position
	if diff.SquaredLength() < e.cfg.SnapDistance*e.cfg.SnapDistance {
		pos = geom.Lerp(cur.Position, want.Position, e.cfg.BlendFactor)
	} else {
		c.Snapped = true
		e.log.Info("prediction diverged, snapping", "entity", ent.ServerID, "distance", c.Distance)
	}
	e.live.SetTransform(ent.Body, geom.Transform{Position: pos, Rotation: want.Rotation})
	e.live.SetVelocity(ent.Body, v)
	return c, true
}
