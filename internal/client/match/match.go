// Package match runs the client side of a match: it orders server packets,
// predicts local players and reconciles them against authoritative state.
package match

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"ticksync.dev/internal/client/entities"
	"ticksync.dev/internal/client/estimator"
	"ticksync.dev/internal/client/prediction"
	"ticksync.dev/internal/client/reconcile"
	"ticksync.dev/internal/client/sequencer"
	"ticksync.dev/internal/client/smoothing"
	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/sim/tuning"
)

// Outbox carries client packets to the server.
type Outbox interface {
	Send(t tick.Tick, m protocol.Message) error
}

// Hooks let gameplay and presentation code observe the match. Every hook is
// optional and runs on the match loop.
type Hooks struct {
	OnEntityCreated func(e *entities.ServerEntity)
	OnEntityDeleted func(e *entities.ServerEntity)
	OnAnimation     func(e *entities.ServerEntity, animID uint8)
	OnAttack        func(owner, weapon *entities.ServerEntity)
	OnHealthChanged func(e *entities.ServerEntity)
	OnReconciled    func(rep reconcile.Report)
}

type Config struct {
	Tuning  tuning.Tuning
	Players int
}

type LocalMatch struct {
	log   logr.Logger
	tun   tuning.Tuning
	hooks Hooks

	matchID string
	input   prediction.InputSource
	out     Outbox

	live     *physics.Space
	table    *entities.Table
	seq      *sequencer.Sequencer[protocol.TickPacket]
	est      *estimator.Estimator
	ledger   *prediction.Ledger
	sampler  *prediction.Sampler
	engine   *reconcile.Engine
	smoother *smoothing.Smoother

	tickDuration float64
	acc          float64
	lateSeen     uint64

	haveState bool
	lastState tick.Tick
}

// New starts a match from the server's MatchData. The server tick rate
// overrides the configured one.
func New(cfg Config, data *protocol.MatchData, input prediction.InputSource, out Outbox, hooks Hooks, log logr.Logger) (*LocalMatch, error) {
	tun := cfg.Tuning
	if data.TickRateHz > 0 {
		tun.TickRateHz = data.TickRateHz
	}
	if err := tun.Validate(); err != nil {
		return nil, fmt.Errorf("match %s: %w", data.MatchID, err)
	}
	if cfg.Players < 1 {
		return nil, fmt.Errorf("match %s: need at least one local player", data.MatchID)
	}

	horizon := tun.HorizonTicks()
	physCfg := physics.FromTuning(tun.Physics)
	m := &LocalMatch{
		log:          log,
		tun:          tun,
		hooks:        hooks,
		matchID:      data.MatchID,
		input:        input,
		out:          out,
		live:         physics.NewSpace(physCfg),
		table:        entities.NewTable(),
		seq:          sequencer.New[protocol.TickPacket](log.WithName("sequencer")),
		ledger:       prediction.NewLedger(horizon),
		sampler:      prediction.NewSampler(cfg.Players, tun.Client.InputKeepaliveTicks),
		tickDuration: tun.TickSeconds(),
	}
	m.est = estimator.New(estimator.Config{
		JitterMargin: tun.Client.JitterMarginTicks,
		Window:       tun.Client.TickErrorWindow,
		Horizon:      horizon,
	}, log.WithName("estimator"))
	m.est.Reset(data.CurrentTick)

	m.engine = reconcile.New(reconcile.Config{
		TickSeconds:       tun.TickSeconds(),
		SnapDistance:      tun.Client.SnapDistance,
		BlendFactor:       tun.Client.BlendFactor,
		InteractionRadius: tun.Client.InteractionRadius,
		ShowGhosts:        tun.Client.ShowServerGhosts,
	}, m.live, m.table, m.ledger, func() physics.Simulation {
		return physics.NewSpace(physCfg)
	}, cfg.Players, log.WithName("reconcile"))

	c := tun.Client.Correction
	m.smoother = smoothing.New(smoothing.Config{
		StepsPerSecond:  c.StepsPerSecond,
		PositionFactor:  c.PositionFactor,
		RotationFactor:  c.RotationFactor,
		PositionEpsilon: c.PositionEpsilon,
		RotationEpsilon: c.RotationEpsilon,
	})
	return m, nil
}

func (m *LocalMatch) MatchID() string                 { return m.matchID }
func (m *LocalMatch) Entities() *entities.Table       { return m.table }
func (m *LocalMatch) World() physics.Simulation       { return m.live }
func (m *LocalMatch) Engine() *reconcile.Engine       { return m.engine }
func (m *LocalMatch) Estimator() *estimator.Estimator { return m.est }
func (m *LocalMatch) Ledger() *prediction.Ledger      { return m.ledger }
func (m *LocalMatch) SequencerStats() sequencer.Stats { return m.seq.Stats() }

// Slot returns the reconciliation state of local player i.
func (m *LocalMatch) Slot(i uint8) (*reconcile.PlayerSlot, bool) { return m.engine.Slot(i) }

// HandleMessage routes one decoded server message.
func (m *LocalMatch) HandleMessage(t tick.Tick, msg protocol.Message) {
	switch p := msg.(type) {
	case protocol.TickPacket:
		m.PushTickPacket(t, p)
	case *protocol.TickError:
		m.HandleTickError(p.Tick, p.Error)
	default:
		m.log.V(1).Info("ignoring message", "type", msg.Kind())
	}
}

// PushTickPacket buffers p until its tick is ready.
func (m *LocalMatch) PushTickPacket(t tick.Tick, p protocol.TickPacket) {
	m.seq.Push(t, p)
}

func (m *LocalMatch) HandleTickError(t tick.Tick, err int32) {
	if !m.est.RecordTickError(t, int(err)) {
		observability.RecordUntrackedTickError()
		return
	}
	observability.SetAverageTickError(m.est.AverageError())
}

// Update advances the match by elapsed seconds of wall time and returns the
// number of ticks simulated.
func (m *LocalMatch) Update(elapsed float64) int {
	m.acc += elapsed
	n := 0
	for m.acc >= m.tickDuration {
		m.acc -= m.tickDuration
		m.tick()
		n++
	}
	m.smoother.Update(elapsed, m.table)

	if late := m.seq.Stats().Late; late > m.lateSeen {
		observability.RecordLatePackets(late - m.lateSeen)
		m.lateSeen = late
	}
	observability.SetLedgerEntries(m.ledger.Len())
	return n
}

func (m *LocalMatch) tick() {
	for _, p := range m.seq.DrainReady(m.est.EstimateCurrentTick()) {
		m.dispatch(p.Tick, p.Content)
	}

	estimated := m.est.EstimateServerTick()
	inputs, packet := m.sampler.Sample(m.input, estimated)
	if packet != nil {
		if err := m.out.Send(estimated, packet); err != nil {
			m.log.Error(err, "send inputs", "tick", estimated)
		} else {
			m.est.TrackPrediction(estimated)
		}
	}

	entry := make([]prediction.PlayerInput, len(inputs))
	for i, slot := range m.engine.Slots() {
		slot.LastInput = inputs[i]
		entry[i].Input = inputs[i]
		id, ok := slot.Controlled()
		if !ok {
			continue
		}
		e, ok := m.table.Get(id)
		if !ok || !e.IsPhysical {
			continue
		}
		if mv, ok := m.live.Movement(e.Body); ok {
			entry[i].Movement = &mv
		}
		m.live.SetInput(e.Body, inputs[i])
	}
	m.ledger.Record(estimated, entry)

	m.live.Step(m.tickDuration)
	m.est.Advance()
}

func (m *LocalMatch) dispatch(t tick.Tick, p protocol.TickPacket) {
	switch p := p.(type) {
	case *protocol.ControlEntity:
		m.engine.SetControlled(p.PlayerIndex, p.EntityID)
	case *protocol.CreateEntities:
		for i := range p.Entities {
			m.createEntity(&p.Entities[i])
		}
	case *protocol.DeleteEntities:
		for _, id := range p.Entities {
			m.deleteEntity(id)
		}
	case *protocol.EntitiesAnimation:
		for _, a := range p.Entities {
			if e, ok := m.table.Get(a.EntityID); ok {
				e.AnimationID = a.AnimID
				if m.hooks.OnAnimation != nil {
					m.hooks.OnAnimation(e, a.AnimID)
				}
			}
		}
	case *protocol.EntitiesInputs:
		for i := range p.Entities {
			m.entityInputs(&p.Entities[i])
		}
	case *protocol.HealthUpdate:
		for _, h := range p.Entities {
			e, ok := m.table.Get(h.ID)
			if !ok {
				continue
			}
			e.Health = &entities.Health{Current: h.CurrentHealth}
			if m.hooks.OnHealthChanged != nil {
				m.hooks.OnHealthChanged(e)
			}
		}
	case *protocol.MatchState:
		m.applyState(p)
	default:
		m.log.Info("unhandled tick packet", "type", p.Kind(), "tick", t)
	}
}

const (
	entityPrefix = "entity_"
	weaponPrefix = "weapon_"
)

func (m *LocalMatch) createEntity(c *protocol.EntityCreation) {
	if _, exists := m.table.Get(c.ID); exists {
		m.log.Info("entity created twice", "entity", c.ID)
		return
	}

	var parent *entities.ServerEntity
	if c.ParentID != nil {
		p, ok := m.table.Get(*c.ParentID)
		if !ok {
			m.log.V(1).Info("entity parent missing", "entity", c.ID, "parent", *c.ParentID)
			return
		}
		parent = p
	}

	switch {
	case strings.HasPrefix(c.Class, entityPrefix):
	case strings.HasPrefix(c.Class, weaponPrefix):
		if parent == nil {
			m.log.Info("weapon without owner", "entity", c.ID, "class", c.Class)
			return
		}
		parent.WeaponID = c.ID
	default:
		m.log.Info("unknown entity class", "entity", c.ID, "class", c.Class)
		return
	}

	tr := geom.Transform{Position: c.Position, Rotation: c.Rotation}
	def := physics.BodyDef{Sensor: true, Transform: tr}
	if ph := c.Physics; ph != nil {
		def = physics.BodyDef{
			Mass:            ph.Mass,
			MomentOfInertia: ph.MomentOfInertia,
			Friction:        ph.Friction,
			Elasticity:      ph.Elasticity,
			AngularDamping:  ph.AngularDamping,
			Collider:        ph.Collider,
			Controlled:      ph.Controlled,
			Transform:       tr,
			Velocity:        geom.Velocity{Linear: ph.LinearVelocity, Angular: ph.AngularVelocity},
		}
	}

	e := &entities.ServerEntity{
		ServerID:   c.ID,
		Body:       m.live.CreateBody(def),
		Class:      c.Class,
		IsPhysical: c.Physics != nil,
		ParentID:   c.ParentID,
		Properties: c.Properties,
		WeaponID:   protocol.NoEntity,
		Name:       c.Name,
	}
	if h := c.Health; h != nil {
		e.MaxHealth = h.MaxHealth
		if h.CurrentHealth != h.MaxHealth {
			e.Health = &entities.Health{Current: h.CurrentHealth}
		}
	}
	if m.tun.Client.ShowServerGhosts {
		g := tr
		e.Ghost = &g
	}
	m.table.Add(e)
	if m.hooks.OnEntityCreated != nil {
		m.hooks.OnEntityCreated(e)
	}
}

func (m *LocalMatch) deleteEntity(id uint32) {
	e, ok := m.table.Delete(id)
	if !ok {
		return
	}
	m.engine.Forget(e)
	m.live.DestroyBody(e.Body)
	if m.hooks.OnEntityDeleted != nil {
		m.hooks.OnEntityDeleted(e)
	}
}

func (m *LocalMatch) entityInputs(in *protocol.EntityInputs) {
	e, ok := m.table.Get(in.ID)
	if !ok {
		return
	}
	inputs := in.Inputs
	e.LastInputs = &inputs
	if _, local := m.engine.ControllerOf(e.ServerID); !local {
		m.live.SetInput(e.Body, inputs)
	}
	if inputs.IsAttacking && e.WeaponID != protocol.NoEntity && m.hooks.OnAttack != nil {
		if w, ok := m.table.Get(e.WeaponID); ok {
			m.hooks.OnAttack(e, w)
		}
	}
}

func (m *LocalMatch) applyState(p *protocol.MatchState) {
	if m.haveState && !tick.IsMoreRecent(p.StateTick, m.lastState) {
		m.log.Info("ignoring stale state", "stateTick", p.StateTick, "last", m.lastState)
		return
	}
	m.haveState = true
	m.lastState = p.StateTick

	rep := m.engine.ApplyState(p)
	for _, c := range rep.Corrections {
		outcome := "blend"
		if c.Snapped {
			outcome = "snap"
		}
		observability.RecordCorrection(outcome, c.Distance)
	}
	for i := 0; i < rep.Direct; i++ {
		observability.RecordCorrection("direct", 0)
	}
	if m.hooks.OnReconciled != nil {
		m.hooks.OnReconciled(rep)
	}
}

// Display is where server entity id should be drawn this frame, with the
// display error layered on top and the entity's facing.
func (m *LocalMatch) Display(id uint32) (tr geom.Transform, facingRight bool, ok bool) {
	e, ok := m.table.Get(id)
	if !ok {
		return geom.Transform{}, false, false
	}
	tr, ok = smoothing.Display(m.live, e)
	facing := e.FacingRight
	if _, local := m.engine.ControllerOf(id); local {
		if mv, ok := m.live.Movement(e.Body); ok {
			facing = mv.FacingRight
		}
	}
	return tr, facing, ok
}
