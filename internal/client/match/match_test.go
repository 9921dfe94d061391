package match

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/client/entities"
	"ticksync.dev/internal/client/prediction"
	"ticksync.dev/internal/client/reconcile"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/sim/tuning"
)

const step = 1.0 / 60

type sent struct {
	tick tick.Tick
	msg  protocol.Message
}

type outbox struct{ sent []sent }

func (o *outbox) Send(t tick.Tick, m protocol.Message) error {
	o.sent = append(o.sent, sent{t, m})
	return nil
}

func testTuning() tuning.Tuning {
	tun := tuning.Defaults()
	tun.Physics.Gravity = [2]float64{0, 0}
	tun.Physics.MoveSpeed = 60
	return tun
}

func playerCreation(id uint32, pos geom.Vec2) protocol.EntityCreation {
	return protocol.EntityCreation{
		ID:       id,
		Class:    "entity_player",
		Position: pos,
		Physics: &protocol.PhysicsProperties{
			Mass:       1,
			Controlled: true,
			Collider:   geom.Rect{Min: geom.V(-0.5, -0.5), Max: geom.V(0.5, 0.5)},
		},
	}
}

func newTestMatch(t *testing.T, input prediction.InputSource, hooks Hooks) (*LocalMatch, *outbox) {
	t.Helper()
	out := &outbox{}
	m, err := New(Config{Tuning: testTuning(), Players: 1},
		&protocol.MatchData{MatchID: "m1", TickRateHz: 60, CurrentTick: 100},
		input, out, hooks, logr.Discard())
	require.NoError(t, err)
	return m, out
}

func holdRight(uint8) protocol.InputData { return protocol.InputData{IsMovingRight: true} }

func TestLocalMatch_PredictsAndReconciles(t *testing.T) {
	var reports []reconcile.Report
	m, out := newTestMatch(t, prediction.InputFunc(holdRight), Hooks{
		OnReconciled: func(r reconcile.Report) { reports = append(reports, r) },
	})

	m.PushTickPacket(95, &protocol.CreateEntities{Entities: []protocol.EntityCreation{playerCreation(7, geom.V(0, 0))}})
	m.PushTickPacket(95, &protocol.ControlEntity{EntityID: 7, PlayerIndex: 0})

	assert.Equal(t, 3, m.Update(3*step+step/4))

	require.Len(t, out.sent, 1)
	assert.Equal(t, tick.Tick(100), out.sent[0].tick)
	inputs := out.sent[0].msg.(*protocol.PlayerInputs)
	assert.Equal(t, tick.Tick(100), inputs.EstimatedServerTick)
	assert.True(t, inputs.Inputs[0].IsMovingRight)
	assert.Equal(t, 3, m.Ledger().Len())

	tr, _, ok := m.Display(7)
	require.True(t, ok)
	assert.InDelta(t, 3.0, tr.Position.X, 1e-9)

	// Authoritative state for tick 100 agrees with the prediction.
	m.PushTickPacket(100, &protocol.MatchState{StateTick: 100, Entities: []protocol.EntityState{
		{ID: 7, Position: geom.V(1, 0), Physics: &protocol.PhysicsState{LinearVelocity: geom.V(60, 0)}},
	}})
	m.Update(step)

	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Confirmed)
	assert.Equal(t, 2, reports[0].Replayed)
	require.Len(t, reports[0].Corrections, 1)
	assert.InDelta(t, 0, reports[0].Corrections[0].Distance, 1e-9)

	tr, _, _ = m.Display(7)
	assert.InDelta(t, 4.0, tr.Position.X, 1e-9)
	assert.Equal(t, 3, m.Ledger().Len())

	// A snapshot older than one already applied changes nothing.
	m.PushTickPacket(99, &protocol.MatchState{StateTick: 99, Entities: []protocol.EntityState{
		{ID: 7, Position: geom.V(50, 0), Physics: &protocol.PhysicsState{}},
	}})
	m.Update(step)
	assert.Len(t, reports, 1)
	assert.Equal(t, uint64(1), m.SequencerStats().Late)
	tr, _, _ = m.Display(7)
	assert.InDelta(t, 5.0, tr.Position.X, 1e-9)
}

func TestLocalMatch_TickErrorShiftsEstimate(t *testing.T) {
	m, out := newTestMatch(t, prediction.InputFunc(holdRight), Hooks{})
	m.Update(step)
	require.Len(t, out.sent, 1)

	m.HandleMessage(0, &protocol.TickError{Tick: 100, Error: 2})
	assert.Equal(t, 2, m.Estimator().AverageError())
	assert.Equal(t, tick.Tick(99), m.Estimator().EstimateServerTick())

	m.HandleTickError(4242, 1)
	assert.Equal(t, uint64(1), m.Estimator().Discarded())
}

func TestLocalMatch_EntityLifecycle(t *testing.T) {
	var created, deleted []uint32
	var attacks [][2]uint32
	m, _ := newTestMatch(t, prediction.InputFunc(func(uint8) protocol.InputData { return protocol.InputData{} }), Hooks{
		OnEntityCreated: func(e *entities.ServerEntity) { created = append(created, e.ServerID) },
		OnEntityDeleted: func(e *entities.ServerEntity) { deleted = append(deleted, e.ServerID) },
		OnAttack: func(owner, weapon *entities.ServerEntity) {
			attacks = append(attacks, [2]uint32{owner.ServerID, weapon.ServerID})
		},
	})

	owner := uint32(7)
	name := "alice"
	player := playerCreation(7, geom.V(0, 0))
	player.Name = &name
	player.Health = &protocol.HealthProperties{MaxHealth: 100, CurrentHealth: 100}
	m.PushTickPacket(90, &protocol.CreateEntities{Entities: []protocol.EntityCreation{
		player,
		{ID: 8, Class: "weapon_sword", ParentID: &owner},
		{ID: 9, Class: "prop_unknown"},
		{ID: 10, Class: "weapon_orphan"},
	}})
	m.PushTickPacket(91, &protocol.ControlEntity{EntityID: 7})
	m.PushTickPacket(92, &protocol.EntitiesInputs{Entities: []protocol.EntityInputs{{ID: 7, Inputs: protocol.InputData{IsAttacking: true}}}})
	m.PushTickPacket(92, &protocol.EntitiesAnimation{Entities: []protocol.EntityAnimation{{EntityID: 8, AnimID: 3}}})
	m.PushTickPacket(93, &protocol.HealthUpdate{Entities: []protocol.EntityHealth{{ID: 7, CurrentHealth: 40}, {ID: 99, CurrentHealth: 1}}})
	m.Update(step)

	assert.Equal(t, []uint32{7, 8}, created)
	assert.Equal(t, [][2]uint32{{7, 8}}, attacks)

	p, ok := m.Entities().Get(7)
	require.True(t, ok)
	assert.Equal(t, uint32(8), p.WeaponID)
	assert.Equal(t, uint16(100), p.MaxHealth)
	require.NotNil(t, p.Health)
	assert.Equal(t, uint16(40), p.Health.Current)
	assert.Equal(t, "alice", *p.Name)
	w, _ := m.Entities().Get(8)
	assert.Equal(t, uint8(3), w.AnimationID)

	slot, ok := m.Slot(0)
	require.True(t, ok)
	id, controlled := slot.Controlled()
	assert.True(t, controlled)
	assert.Equal(t, uint32(7), id)

	m.PushTickPacket(94, &protocol.DeleteEntities{Entities: []uint32{7, 1234}})
	m.Update(step)
	assert.Equal(t, []uint32{7}, deleted)
	_, controlled = slot.Controlled()
	assert.False(t, controlled)
	assert.Nil(t, slot.Scratch())
	assert.False(t, m.World().Has(p.Body))
}

func TestLocalMatch_RemoteErrorIsSmoothedOut(t *testing.T) {
	m, _ := newTestMatch(t, prediction.InputFunc(func(uint8) protocol.InputData { return protocol.InputData{} }), Hooks{})
	m.PushTickPacket(90, &protocol.CreateEntities{Entities: []protocol.EntityCreation{playerCreation(3, geom.V(20, 0))}})
	m.Update(step)

	m.PushTickPacket(95, &protocol.MatchState{StateTick: 95, Entities: []protocol.EntityState{
		{ID: 3, Position: geom.V(10, 0), Physics: &protocol.PhysicsState{}, PlayerMovement: &protocol.MovementFlags{IsFacingRight: true}},
	}})
	m.Update(step)

	tr, facing, ok := m.Display(3)
	require.True(t, ok)
	assert.True(t, facing)
	// The jump back to 10 is hidden: display still reads close to 20.
	assert.Greater(t, tr.Position.X, 15.0)

	for i := 0; i < 60; i++ {
		m.Update(step)
	}
	tr, _, _ = m.Display(3)
	assert.Equal(t, 10.0, tr.Position.X)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tun := testTuning()
	tun.Client.BlendFactor = 0
	_, err := New(Config{Tuning: tun, Players: 1}, &protocol.MatchData{}, nil, &outbox{}, Hooks{}, logr.Discard())
	assert.ErrorIs(t, err, tuning.ErrInvalid)

	_, err = New(Config{Tuning: testTuning()}, &protocol.MatchData{}, nil, &outbox{}, Hooks{}, logr.Discard())
	assert.Error(t, err)
}
