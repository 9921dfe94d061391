// Package physics is a small deterministic 2D world: axis-aligned box
// colliders, gravity, static geometry and input-driven character bodies.
// Two spaces fed the same bodies and inputs produce bit-identical results.
package physics

import (
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tuning"
)

// BodyID identifies a body inside one Simulation. IDs are never reused by
// the same Simulation.
type BodyID uint32

// BodyDef holds the physical attributes copied when a body is mirrored into
// another world.
type BodyDef struct {
	// Mass 0 makes the body static: it never moves and others collide with it.
	Mass            float64
	MomentOfInertia float64
	Friction        float64
	Elasticity      float64
	AngularDamping  float64
	// Collider is relative to the body position.
	Collider geom.Rect
	// Controlled bodies are driven by SetInput.
	Controlled bool
	// Sensor bodies never move on their own and nothing collides with them.
	Sensor bool

	Transform geom.Transform
	Velocity  geom.Velocity
}

func (d BodyDef) Static() bool { return d.Mass <= 0 || d.Sensor }

// Solid reports whether other bodies collide with d.
func (d BodyDef) Solid() bool { return d.Mass <= 0 && !d.Sensor }

// MovementState is the controller state that must travel with a body for a
// replay to match the live run.
type MovementState struct {
	OnGround    bool    `json:"on_ground"`
	JumpTime    float64 `json:"jump_time"`
	WasJumping  bool    `json:"was_jumping"`
	FacingRight bool    `json:"facing_right"`
}

// Simulation is the world contract used by prediction and reconciliation.
type Simulation interface {
	CreateBody(def BodyDef) BodyID
	DestroyBody(id BodyID)
	Has(id BodyID) bool

	// Definition returns the current attributes of id, including its
	// transform and velocity, suitable for CreateBody in another world.
	Definition(id BodyID) (BodyDef, bool)

	Transform(id BodyID) (geom.Transform, bool)
	SetTransform(id BodyID, t geom.Transform)
	Velocity(id BodyID) (geom.Velocity, bool)
	SetVelocity(id BodyID, v geom.Velocity)
	Movement(id BodyID) (MovementState, bool)
	SetMovement(id BodyID, m MovementState)
	SetInput(id BodyID, in protocol.InputData)

	// Step advances every body by dt seconds.
	Step(dt float64)
	// QueryRegion calls fn for every body whose collider intersects r, in
	// creation order, until fn returns false.
	QueryRegion(r geom.Rect, fn func(BodyID) bool)
}

type Config struct {
	Gravity      geom.Vec2
	MoveSpeed    float64
	JumpVelocity float64
	JumpHoldTime float64
}

func FromTuning(p tuning.Physics) Config {
	return Config{
		Gravity:      geom.V(p.Gravity[0], p.Gravity[1]),
		MoveSpeed:    p.MoveSpeed,
		JumpVelocity: p.JumpVelocity,
		JumpHoldTime: p.JumpHoldTime,
	}
}
