package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tuning"
)

func box(half float64) geom.Rect {
	return geom.Rect{Min: geom.V(-half, -half), Max: geom.V(half, half)}
}

func newTestSpace() *Space {
	return NewSpace(FromTuning(tuning.Defaults().Physics))
}

func TestSpace_ControlledBodyMovesAtMoveSpeed(t *testing.T) {
	s := NewSpace(Config{MoveSpeed: 60})
	id := s.CreateBody(BodyDef{Mass: 1, Controlled: true, Collider: box(0.5)})

	s.SetInput(id, protocol.InputData{IsMovingRight: true})
	for i := 0; i < 3; i++ {
		s.Step(1.0 / 60)
	}
	tr, ok := s.Transform(id)
	require.True(t, ok)
	assert.InDelta(t, 3.0, tr.Position.X, 1e-9)

	m, _ := s.Movement(id)
	assert.True(t, m.FacingRight)
}

func TestSpace_FallsAndLands(t *testing.T) {
	s := newTestSpace()
	s.CreateBody(BodyDef{Collider: geom.Rect{Min: geom.V(-1000, 0), Max: geom.V(1000, 100)}})
	id := s.CreateBody(BodyDef{Mass: 1, Controlled: true, Collider: box(16),
		Transform: geom.Transform{Position: geom.V(0, -200)}})

	for i := 0; i < 120; i++ {
		s.Step(1.0 / 60)
	}
	tr, _ := s.Transform(id)
	assert.InDelta(t, -16.0, tr.Position.Y, 1e-9)
	m, _ := s.Movement(id)
	assert.True(t, m.OnGround)

	s.SetInput(id, protocol.InputData{IsJumping: true})
	s.Step(1.0 / 60)
	tr, _ = s.Transform(id)
	assert.Less(t, tr.Position.Y, -16.0)
	m, _ = s.Movement(id)
	assert.False(t, m.OnGround)
	assert.True(t, m.WasJumping)
}

func TestSpace_StaticBodiesIgnoreVelocity(t *testing.T) {
	s := newTestSpace()
	id := s.CreateBody(BodyDef{Collider: box(1)})
	s.SetVelocity(id, geom.Velocity{Linear: geom.V(5, 5)})
	s.Step(1)
	tr, _ := s.Transform(id)
	assert.Equal(t, geom.Vec2{}, tr.Position)
}

func TestSpace_Deterministic(t *testing.T) {
	run := func() []geom.Transform {
		s := newTestSpace()
		s.CreateBody(BodyDef{Collider: geom.Rect{Min: geom.V(-500, 0), Max: geom.V(500, 50)}})
		player := s.CreateBody(BodyDef{Mass: 1, Controlled: true, Collider: box(16)})
		crate := s.CreateBody(BodyDef{Mass: 2, Friction: 0.5, Elasticity: 0.2, AngularDamping: 1,
			Collider: box(8), Transform: geom.Transform{Position: geom.V(40, -100)},
			Velocity: geom.Velocity{Linear: geom.V(-30, 0), Angular: 2}})

		var out []geom.Transform
		for i := 0; i < 90; i++ {
			s.SetInput(player, protocol.InputData{IsMovingRight: i%20 < 10, IsJumping: i%30 == 0})
			s.Step(1.0 / 60)
			a, _ := s.Transform(player)
			b, _ := s.Transform(crate)
			out = append(out, a, b)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSpace_DefinitionClonesIntoAnotherSpace(t *testing.T) {
	a := newTestSpace()
	id := a.CreateBody(BodyDef{Mass: 1, Collider: box(4), Transform: geom.Transform{Position: geom.V(3, 4), Rotation: 1}})
	a.SetVelocity(id, geom.Velocity{Linear: geom.V(10, 0)})

	def, ok := a.Definition(id)
	require.True(t, ok)

	b := newTestSpace()
	clone := b.CreateBody(def)
	a.Step(0.5)
	b.Step(0.5)

	ta, _ := a.Transform(id)
	tb, _ := b.Transform(clone)
	assert.Equal(t, ta, tb)
}

func TestSpace_QueryRegionAndDestroy(t *testing.T) {
	s := newTestSpace()
	near := s.CreateBody(BodyDef{Collider: box(1), Transform: geom.Transform{Position: geom.V(10, 0)}})
	far := s.CreateBody(BodyDef{Collider: box(1), Transform: geom.Transform{Position: geom.V(900, 0)}})
	other := s.CreateBody(BodyDef{Collider: box(1), Transform: geom.Transform{Position: geom.V(-10, 0)}})

	var got []BodyID
	s.QueryRegion(geom.RectAround(geom.Vec2{}, 500), func(id BodyID) bool {
		got = append(got, id)
		return true
	})
	assert.Equal(t, []BodyID{near, other}, got)

	s.DestroyBody(near)
	assert.False(t, s.Has(near))
	assert.True(t, s.Has(far))
	got = got[:0]
	s.QueryRegion(geom.RectAround(geom.Vec2{}, 500), func(id BodyID) bool {
		got = append(got, id)
		return true
	})
	assert.Equal(t, []BodyID{other}, got)

	again := s.CreateBody(BodyDef{})
	assert.Greater(t, again, other)
}

func TestSpace_SensorsDoNotCollide(t *testing.T) {
	s := NewSpace(Config{Gravity: geom.V(0, 600)})
	s.CreateBody(BodyDef{Sensor: true, Collider: geom.Rect{Min: geom.V(-100, 0), Max: geom.V(100, 10)}})
	id := s.CreateBody(BodyDef{Mass: 1, Collider: box(1), Transform: geom.Transform{Position: geom.V(0, -2)}})
	for i := 0; i < 60; i++ {
		s.Step(1.0 / 60)
	}
	tr, _ := s.Transform(id)
	assert.Greater(t, tr.Position.Y, 10.0)
}
