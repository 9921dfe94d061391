package reconcile

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/client/entities"
	"ticksync.dev/internal/client/prediction"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/sim/tick"
)

type fixture struct {
	eng    *Engine
	live   *physics.Space
	table  *entities.Table
	ledger *prediction.Ledger
}

func newFixture(t *testing.T, players int) *fixture {
	t.Helper()
	cfg := physics.Config{MoveSpeed: 60}
	f := &fixture{
		live:   physics.NewSpace(cfg),
		table:  entities.NewTable(),
		ledger: prediction.NewLedger(120),
	}
	f.eng = New(Config{
		TickSeconds:       1.0 / 60,
		SnapDistance:      100,
		BlendFactor:       0.1,
		InteractionRadius: 500,
	}, f.live, f.table, f.ledger, func() physics.Simulation { return physics.NewSpace(cfg) }, players, logr.Discard())
	return f
}

func (f *fixture) add(id uint32, physical bool, pos geom.Vec2) *entities.ServerEntity {
	def := physics.BodyDef{
		Mass:       1,
		Controlled: true,
		Collider:   geom.Rect{Min: geom.V(-0.5, -0.5), Max: geom.V(0.5, 0.5)},
		Transform:  geom.Transform{Position: pos},
	}
	if !physical {
		def = physics.BodyDef{Sensor: true, Transform: geom.Transform{Position: pos}}
	}
	e := &entities.ServerEntity{ServerID: id, Body: f.live.CreateBody(def), IsPhysical: physical}
	f.table.Add(e)
	return e
}

func (f *fixture) livePos(e *entities.ServerEntity) geom.Vec2 {
	tr, _ := f.live.Transform(e.Body)
	return tr.Position
}

func moveRight(ticks ...tick.Tick) []prediction.Entry {
	var out []prediction.Entry
	for _, tk := range ticks {
		out = append(out, prediction.Entry{Tick: tk, Inputs: []prediction.PlayerInput{{Input: protocol.InputData{IsMovingRight: true}}}})
	}
	return out
}

func (f *fixture) record(entries []prediction.Entry) {
	for _, e := range entries {
		f.ledger.Record(e.Tick, e.Inputs)
	}
}

func stateAt(stateTick tick.Tick, id uint32, pos geom.Vec2) *protocol.MatchState {
	return &protocol.MatchState{
		StateTick: stateTick,
		Entities: []protocol.EntityState{{
			ID:       id,
			Position: pos,
			Physics:  &protocol.PhysicsState{},
		}},
	}
}

func TestEngine_BlendsTowardReplayedResult(t *testing.T) {
	f := newFixture(t, 1)
	player := f.add(7, true, geom.V(12, 0))
	require.True(t, f.eng.SetControlled(0, 7))

	f.record(moveRight(99, 100, 101, 102, 103))
	rep := f.eng.ApplyState(stateAt(100, 7, geom.V(10, 0)))

	assert.Equal(t, 2, rep.Confirmed)
	assert.Equal(t, 3, rep.Replayed)
	assert.Equal(t, 3, f.ledger.Len())

	slot, _ := f.eng.Slot(0)
	got, ok := slot.Scratch().ControlledTransform()
	require.True(t, ok)
	assert.InDelta(t, 13.0, got.Position.X, 1e-9)
	assert.InDelta(t, 0.0, got.Position.Y, 1e-9)

	pos := f.livePos(player)
	assert.InDelta(t, 12.1, pos.X, 1e-9)
	assert.InDelta(t, 0.0, pos.Y, 1e-9)

	require.Len(t, rep.Corrections, 1)
	assert.False(t, rep.Corrections[0].Snapped)
	assert.InDelta(t, 1.0, rep.Corrections[0].Distance, 1e-9)

	v, _ := f.live.Velocity(player.Body)
	assert.InDelta(t, 60.0, v.Linear.X, 1e-9)
}

func TestEngine_SnapsBeyondThreshold(t *testing.T) {
	f := newFixture(t, 1)
	player := f.add(7, true, geom.V(500, 0))
	f.eng.SetControlled(0, 7)
	f.record(moveRight(101))

	rep := f.eng.ApplyState(stateAt(100, 7, geom.V(10, 0)))
	require.Len(t, rep.Corrections, 1)
	assert.True(t, rep.Corrections[0].Snapped)
	assert.InDelta(t, 11.0, f.livePos(player).X, 1e-9)
}

func TestEngine_EmptyLedgerAppliesAuthoritativeState(t *testing.T) {
	f := newFixture(t, 1)
	player := f.add(7, true, geom.V(12, 0))
	f.eng.SetControlled(0, 7)
	f.record(moveRight(98, 99, 100))

	state := stateAt(100, 7, geom.V(10, 3))
	state.Entities[0].Rotation = 0.5
	state.Entities[0].Physics.LinearVelocity = geom.V(4, 0)
	rep := f.eng.ApplyState(state)

	assert.Zero(t, rep.Replayed)
	assert.Empty(t, rep.Corrections)
	tr, _ := f.live.Transform(player.Body)
	assert.Equal(t, geom.Transform{Position: geom.V(10, 3), Rotation: 0.5}, tr)
	v, _ := f.live.Velocity(player.Body)
	assert.Equal(t, geom.V(4, 0), v.Linear)
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.add(7, true, geom.V(12, 0))
	f.add(8, true, geom.V(30, 0))
	f.eng.SetControlled(0, 7)

	var entries []prediction.Entry
	for tk := tick.Tick(101); tk <= 110; tk++ {
		in := protocol.InputData{IsMovingRight: tk%3 != 0, IsMovingLeft: tk%4 == 0, IsJumping: tk%5 == 0}
		entries = append(entries, prediction.Entry{Tick: tk, Inputs: []prediction.PlayerInput{{Input: in}}})
	}
	f.record(entries)

	slot, _ := f.eng.Slot(0)
	state := stateAt(100, 7, geom.V(10, 0))

	f.eng.ApplyState(state)
	first, _ := slot.Scratch().ControlledTransform()
	f.eng.ApplyState(state)
	second, _ := slot.Scratch().ControlledTransform()
	assert.Equal(t, first, second)
}

func TestEngine_RemotePhysicalActorAccumulatesError(t *testing.T) {
	f := newFixture(t, 1)
	remote := f.add(9, true, geom.V(50, 20))

	state := stateAt(100, 9, geom.V(45, 20))
	state.Entities[0].Rotation = 0.25
	state.Entities[0].PlayerMovement = &protocol.MovementFlags{IsFacingRight: true}
	f.eng.ApplyState(state)

	assert.Equal(t, geom.V(5, 0), remote.PositionError)
	assert.InDelta(t, -0.25, remote.RotationError, 1e-12)
	assert.True(t, remote.FacingRight)
	assert.Equal(t, geom.V(45, 20), f.livePos(remote))

	f.eng.ApplyState(stateAt(101, 9, geom.V(44, 20)))
	assert.Equal(t, geom.V(6, 0), remote.PositionError)
}

func TestEngine_NonPhysicalActorsSnap(t *testing.T) {
	f := newFixture(t, 1)
	deco := f.add(3, false, geom.V(1, 1))
	ctrl := f.add(4, false, geom.V(2, 2))
	f.eng.SetControlled(0, 4)
	f.record(moveRight(101))

	state := &protocol.MatchState{StateTick: 100, Entities: []protocol.EntityState{
		{ID: 3, Position: geom.V(8, 8)},
		{ID: 4, Position: geom.V(9, 9)},
	}}
	rep := f.eng.ApplyState(state)

	assert.Equal(t, geom.V(8, 8), f.livePos(deco))
	assert.Equal(t, geom.Vec2{}, deco.PositionError)
	assert.Equal(t, geom.V(9, 9), f.livePos(ctrl))
	assert.Zero(t, rep.Replayed)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestEngine_UnknownEntitiesAreSkipped(t *testing.T) {
	f := newFixture(t, 1)
	known := f.add(2, false, geom.V(0, 0))

	state := &protocol.MatchState{StateTick: 5, Entities: []protocol.EntityState{
		{ID: 99, Position: geom.V(1, 1)},
		{ID: 2, Position: geom.V(3, 3)},
	}}
	rep := f.eng.ApplyState(state)
	assert.Equal(t, 1, rep.Unknown)
	assert.Equal(t, geom.V(3, 3), f.livePos(known))
}

func TestEngine_MirrorsNeighboursInRange(t *testing.T) {
	f := newFixture(t, 1)
	f.add(7, true, geom.V(0, 0))
	near := f.add(8, true, geom.V(100, 0))
	far := f.add(9, true, geom.V(2000, 0))
	f.eng.SetControlled(0, 7)
	f.record(moveRight(101))

	f.eng.ApplyState(stateAt(100, 7, geom.V(0, 0)))
	slot, _ := f.eng.Slot(0)
	sc := slot.Scratch()
	_, ok := sc.MirrorOf(near.Body)
	assert.True(t, ok)
	_, ok = sc.MirrorOf(far.Body)
	assert.False(t, ok)
	assert.Equal(t, 1, sc.Mirrors())

	f.live.SetTransform(near.Body, geom.Transform{Position: geom.V(3000, 0)})
	f.eng.ApplyState(stateAt(100, 7, geom.V(0, 0)))
	assert.Zero(t, sc.Mirrors())
}

func TestEngine_ControlLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	f.add(7, true, geom.V(0, 0))
	eight := f.add(8, true, geom.V(10, 0))

	slot, _ := f.eng.Slot(1)
	var changes [][2]uint32
	slot.OnControlledChanged(func(_ *PlayerSlot, prev, next uint32) {
		changes = append(changes, [2]uint32{prev, next})
	})

	assert.False(t, f.eng.SetControlled(1, 42))
	assert.Nil(t, slot.Scratch())

	require.True(t, f.eng.SetControlled(1, 7))
	require.NotNil(t, slot.Scratch())
	require.True(t, f.eng.SetControlled(1, 8))
	f.eng.Forget(eight)
	_, controlled := slot.Controlled()
	assert.False(t, controlled)
	assert.Nil(t, slot.Scratch())

	assert.Equal(t, [][2]uint32{{0, 7}, {7, 8}, {8, 0}}, changes)

	f.eng.SetControlled(0, 7)
	other, _ := f.eng.Slot(0)
	f.record(moveRight(1))
	f.eng.ApplyState(stateAt(0, 7, geom.V(0, 0)))
	_, ok := other.Scratch().MirrorOf(eight.Body)
	require.True(t, ok)
	f.eng.Forget(eight)
	_, ok = other.Scratch().MirrorOf(eight.Body)
	assert.False(t, ok)
}
