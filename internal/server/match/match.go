// Package match runs the authoritative side of a match: it schedules client
// inputs onto server ticks, steps the world and streams each session the
// entities it can see.
package match

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/server/sessions"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/sim/tuning"
	"ticksync.dev/internal/slots"
)

const (
	maxLocalPlayers = 4

	playerClass = "entity_player"
	weaponClass = "weapon_fists"
	floorClass  = "entity_floor"

	playerHealth = 100
	attackDamage = 10
	attackRange  = 48

	// AnimAttack is played on a weapon when its owner starts attacking.
	AnimAttack uint8 = 1
)

var playerCollider = geom.Rect{Min: geom.V(-16, -32), Max: geom.V(16, 32)}

// Hooks observe the match from its loop. Every hook is optional.
type Hooks struct {
	OnTick          func(t tick.Tick, state *protocol.MatchState)
	OnSessionJoined func(s *sessions.Session)
	OnSessionLeft   func(s *sessions.Session)
}

type Config struct {
	Tuning tuning.Tuning
	// Arena holds the static colliders of the level, in world space.
	Arena []geom.Rect
	Spawn geom.Vec2

	MaxFramesPerPoll int
}

// DefaultArena is a single wide floor under the origin.
func DefaultArena() []geom.Rect {
	return []geom.Rect{{Min: geom.V(-2000, 0), Max: geom.V(2000, 64)}}
}

type actor struct {
	id     uint32
	class  string
	body   physics.BodyID
	parent *uint32
	name   *string
	owner  uint64

	maxHealth uint16
	health    uint16
}

func (a *actor) physical() bool { return a.class != weaponClass }

type player struct {
	index  uint8
	entity uint32
	weapon uint32
	name   string

	// inputs is a ring of inputs scheduled for upcoming ticks, slot
	// inputIndex being the current tick.
	inputs     []*protocol.InputData
	inputIndex int
	received   protocol.InputData
	applied    protocol.InputData
}

// Match is the authoritative match loop. It is not safe for concurrent use:
// every method runs on the goroutine driving Update or Run.
type Match struct {
	log   logr.Logger
	tun   tuning.Tuning
	cfg   Config
	hooks Hooks

	id       string
	world    *physics.Space
	registry *sessions.Registry

	actors     *slots.Map[*actor]
	byBody     *slots.Map[uint32]
	players    *slots.Map[[]*player]
	nextEntity uint32
	numPlayers int

	now          tick.Tick
	acc          float64
	tickDuration float64
}

func New(cfg Config, codec *protocol.Codec, hooks Hooks, log logr.Logger) (*Match, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("server match: %w", err)
	}
	if cfg.Tuning.Server.MaxPlayers <= 0 {
		return nil, fmt.Errorf("server match: %w: server.max_players=%d", tuning.ErrInvalid, cfg.Tuning.Server.MaxPlayers)
	}

	m := &Match{
		log:          log,
		tun:          cfg.Tuning,
		cfg:          cfg,
		hooks:        hooks,
		id:           uuid.NewString(),
		world:        physics.NewSpace(physics.FromTuning(cfg.Tuning.Physics)),
		actors:       slots.New[*actor](64),
		byBody:       slots.New[uint32](64),
		players:      slots.New[[]*player](16),
		nextEntity:   1,
		tickDuration: cfg.Tuning.TickSeconds(),
	}
	m.registry = sessions.NewRegistry(sessions.Config{MaxFramesPerPoll: cfg.MaxFramesPerPoll}, codec, m, log.WithName("sessions"))

	for _, r := range cfg.Arena {
		m.spawn(floorClass, physics.BodyDef{Collider: r}, nil, 0)
	}
	m.log.Info("match created", "match", m.id, "tickRate", m.tun.TickRateHz)
	return m, nil
}

func (m *Match) ID() string                   { return m.id }
func (m *Match) Now() tick.Tick               { return m.now }
func (m *Match) Sessions() *sessions.Registry { return m.registry }
func (m *Match) World() physics.Simulation    { return m.world }
func (m *Match) Players() int                 { return m.numPlayers }

// AddManager admits connections from mgr at the start of every tick.
func (m *Match) AddManager(mgr sessions.Manager) { m.registry.AddManager(mgr) }

// Update advances the match by elapsed seconds of wall time and returns the
// number of ticks simulated.
func (m *Match) Update(elapsed float64) int {
	m.acc += elapsed
	n := 0
	for m.acc >= m.tickDuration {
		m.acc -= m.tickDuration
		m.Advance()
		n++
	}
	return n
}

// Advance runs exactly one server tick.
func (m *Match) Advance() {
	start := time.Now()

	m.registry.Poll(m.now)
	m.players.Range(func(_ uint64, ps []*player) bool {
		for _, p := range ps {
			m.applyScheduledInput(p)
		}
		return true
	})

	m.world.Step(m.tickDuration)
	m.syncWeapons()

	state := m.snapshot()
	m.registry.ForEach(func(s *sessions.Session) bool {
		m.publish(s, state)
		return true
	})
	if m.hooks.OnTick != nil {
		m.hooks.OnTick(m.now, state)
	}

	m.now++
	observability.RecordServerTick(time.Since(start))
}

// PlayAnimation tells every client that can see id to play anim.
func (m *Match) PlayAnimation(id uint32, anim uint8) {
	if !m.actors.Has(uint64(id)) {
		return
	}
	m.broadcast([]uint32{id}, &protocol.EntitiesAnimation{
		Entities: []protocol.EntityAnimation{{EntityID: id, AnimID: anim}},
	})
}

// SetHealth changes a player's health. Reaching zero respawns the player at
// full health.
func (m *Match) SetHealth(id uint32, hp uint16) {
	a, ok := m.actors.Get(uint64(id))
	if !ok || a.maxHealth == 0 {
		return
	}
	if hp == 0 {
		m.log.V(1).Info("player died", "entity", id)
		m.world.SetTransform(a.body, geom.Transform{Position: m.cfg.Spawn})
		m.world.SetVelocity(a.body, geom.Velocity{})
		hp = a.maxHealth
	}
	a.health = min(hp, a.maxHealth)
	m.broadcast([]uint32{id}, &protocol.HealthUpdate{
		Entities: []protocol.EntityHealth{{ID: id, CurrentHealth: a.health}},
	})
}

func (m *Match) SessionOpened(s *sessions.Session) {
	m.log.V(1).Info("waiting for join", "session", s.ID)
}

func (m *Match) HandleMessage(s *sessions.Session, t tick.Tick, msg protocol.Message) {
	switch p := msg.(type) {
	case *protocol.Join:
		m.join(s, p)
	case *protocol.PlayerInputs:
		m.playerInputs(s, p)
	case *protocol.Disconnect:
		m.log.Info("client left", "session", s.ID, "reason", p.Reason)
		_ = s.Bridge().Close()
	default:
		m.log.V(1).Info("unexpected client message", "session", s.ID, "type", msg.Kind(), "tick", t)
	}
}

func (m *Match) SessionClosed(s *sessions.Session) {
	ps, ok := m.players.Get(s.ID)
	if !ok {
		return
	}
	m.players.Delete(s.ID)
	m.numPlayers -= len(ps)
	for _, p := range ps {
		m.despawn(p.weapon)
		m.despawn(p.entity)
	}
	if m.hooks.OnSessionLeft != nil {
		m.hooks.OnSessionLeft(s)
	}
}

func (m *Match) join(s *sessions.Session, j *protocol.Join) {
	if m.players.Has(s.ID) {
		m.log.Info("duplicate join", "session", s.ID)
		return
	}
	local := int(j.LocalPlayers)
	if local == 0 {
		local = 1
	}
	if local > maxLocalPlayers {
		s.Disconnect(m.now, protocol.ReasonBadRequest)
		return
	}
	if m.numPlayers+local > m.tun.Server.MaxPlayers {
		m.log.Info("match full", "session", s.ID, "players", m.numPlayers)
		s.Disconnect(m.now, protocol.ReasonMatchFull)
		return
	}

	s.Name = j.PlayerName
	if err := s.Send(m.now, &protocol.MatchData{
		MatchID:     m.id,
		SessionID:   s.ID,
		TickRateHz:  m.tun.TickRateHz,
		CurrentTick: m.now,
	}); err != nil {
		m.log.Error(err, "send match data", "session", s.ID)
		_ = s.Bridge().Close()
		return
	}

	ps := make([]*player, local)
	s.Players = make([]uint32, local)
	for i := range ps {
		name := j.PlayerName
		if i > 0 {
			name = fmt.Sprintf("%s#%d", j.PlayerName, i+1)
		}
		p := &player{
			index:  uint8(i),
			name:   name,
			inputs: make([]*protocol.InputData, m.tun.Server.InputBufferTicks),
		}
		p.entity = m.spawn(playerClass, physics.BodyDef{
			Mass:       1,
			Collider:   playerCollider,
			Controlled: true,
			Transform:  geom.Transform{Position: m.cfg.Spawn},
		}, nil, s.ID)
		pa, _ := m.actors.Get(uint64(p.entity))
		pa.name = &p.name
		pa.maxHealth, pa.health = playerHealth, playerHealth

		parent := p.entity
		p.weapon = m.spawn(weaponClass, physics.BodyDef{
			Sensor:    true,
			Transform: geom.Transform{Position: m.cfg.Spawn},
		}, &parent, s.ID)

		s.Players[i] = p.entity
		s.Visibility().Push([]uint32{p.entity}, &protocol.ControlEntity{EntityID: p.entity, PlayerIndex: p.index})
		ps[i] = p
	}
	m.players.Put(s.ID, ps)
	m.numPlayers += local

	m.log.Info("session joined", "session", s.ID, "name", j.PlayerName, "players", local)
	if m.hooks.OnSessionJoined != nil {
		m.hooks.OnSessionJoined(s)
	}
}

// playerInputs schedules the packet's inputs on the tick the client
// estimated and echoes how far that estimate was from the ideal lead.
func (m *Match) playerInputs(s *sessions.Session, in *protocol.PlayerInputs) {
	ps, ok := m.players.Get(s.ID)
	if !ok {
		m.log.V(1).Info("inputs before join", "session", s.ID)
		return
	}

	delay := tick.Diff(in.EstimatedServerTick, m.now)
	observability.RecordInputDelay(delay)
	if err := s.Send(m.now, &protocol.TickError{
		Tick:  in.EstimatedServerTick,
		Error: int32(delay - m.tun.Server.InputLeadTicks),
	}); err != nil {
		m.log.V(1).Info("tick error not sent", "session", s.ID, "err", err)
	}

	size := m.tun.Server.InputBufferTicks
	slot := min(max(delay, 0), size-1)
	for i, p := range ps {
		if i >= len(in.Inputs) {
			break
		}
		if in.Inputs[i] != nil {
			p.received = *in.Inputs[i]
		}
		scheduled := p.received
		p.inputs[(p.inputIndex+slot)%size] = &scheduled
	}
}

func (m *Match) applyScheduledInput(p *player) {
	in := p.inputs[p.inputIndex]
	p.inputs[p.inputIndex] = nil
	p.inputIndex = (p.inputIndex + 1) % len(p.inputs)
	if in == nil || *in == p.applied {
		return
	}

	startsAttack := in.IsAttacking && !p.applied.IsAttacking
	p.applied = *in
	a, ok := m.actors.Get(uint64(p.entity))
	if !ok {
		return
	}
	m.world.SetInput(a.body, *in)
	m.broadcast([]uint32{p.entity}, &protocol.EntitiesInputs{
		Entities: []protocol.EntityInputs{{ID: p.entity, Inputs: *in}},
	})
	if startsAttack {
		m.attack(a, p.weapon)
	}
}

func (m *Match) attack(a *actor, weapon uint32) {
	m.PlayAnimation(weapon, AnimAttack)

	tr, _ := m.world.Transform(a.body)
	var hit []uint32
	m.world.QueryRegion(geom.RectAround(tr.Position, attackRange), func(b physics.BodyID) bool {
		id, ok := m.byBody.Get(uint64(b))
		if !ok || id == a.id {
			return true
		}
		if target, ok := m.actors.Get(uint64(id)); ok && target.maxHealth > 0 && target.owner != a.owner {
			hit = append(hit, id)
		}
		return true
	})
	for _, id := range hit {
		target, _ := m.actors.Get(uint64(id))
		hp := uint16(0)
		if target.health > attackDamage {
			hp = target.health - attackDamage
		}
		m.SetHealth(id, hp)
	}
}

// syncWeapons keeps weapons on their owner.
func (m *Match) syncWeapons() {
	m.actors.Range(func(_ uint64, a *actor) bool {
		if a.parent == nil {
			return true
		}
		if owner, ok := m.actors.Get(uint64(*a.parent)); ok {
			if tr, ok := m.world.Transform(owner.body); ok {
				m.world.SetTransform(a.body, tr)
			}
		}
		return true
	})
}

func (m *Match) spawn(class string, def physics.BodyDef, parent *uint32, owner uint64) uint32 {
	id := m.nextEntity
	m.nextEntity++
	a := &actor{id: id, class: class, body: m.world.CreateBody(def), parent: parent, owner: owner}
	m.actors.Put(uint64(id), a)
	m.byBody.Put(uint64(a.body), id)
	return id
}

func (m *Match) despawn(id uint32) {
	a, ok := m.actors.Get(uint64(id))
	if !ok {
		return
	}
	m.actors.Delete(uint64(id))
	m.byBody.Delete(uint64(a.body))
	m.world.DestroyBody(a.body)
}

func (m *Match) broadcast(ids []uint32, msg protocol.Message) {
	m.registry.ForEach(func(s *sessions.Session) bool {
		s.Visibility().Push(ids, msg)
		return true
	})
}

// snapshot returns the state of every moving entity, ascending by id.
func (m *Match) snapshot() *protocol.MatchState {
	state := &protocol.MatchState{StateTick: m.now}
	m.actors.Range(func(_ uint64, a *actor) bool {
		def, ok := m.world.Definition(a.body)
		if !ok || (def.Static() && !def.Sensor) {
			return true
		}
		es := protocol.EntityState{
			ID:       a.id,
			Position: def.Transform.Position,
			Rotation: def.Transform.Rotation,
		}
		if a.physical() {
			es.Physics = &protocol.PhysicsState{
				LinearVelocity:  def.Velocity.Linear,
				AngularVelocity: def.Velocity.Angular,
			}
		}
		if def.Controlled {
			mv, _ := m.world.Movement(a.body)
			es.PlayerMovement = &protocol.MovementFlags{IsFacingRight: mv.FacingRight}
		}
		state.Entities = append(state.Entities, es)
		return true
	})
	slices.SortFunc(state.Entities, func(a, b protocol.EntityState) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return state
}

// visibleTo lists the entities s can see, ascending. A zero visibility
// radius shows everything.
func (m *Match) visibleTo(s *sessions.Session) []uint32 {
	var ids []uint32
	radius := m.tun.Server.VisibilityRadius
	if radius <= 0 {
		m.actors.Range(func(key uint64, _ *actor) bool {
			ids = append(ids, uint32(key))
			return true
		})
		slices.Sort(ids)
		return ids
	}

	for _, e := range s.Players {
		a, ok := m.actors.Get(uint64(e))
		if !ok {
			continue
		}
		tr, _ := m.world.Transform(a.body)
		m.world.QueryRegion(geom.RectAround(tr.Position, radius), func(b physics.BodyID) bool {
			if id, ok := m.byBody.Get(uint64(b)); ok {
				ids = append(ids, id)
			}
			return true
		})
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (m *Match) creation(a *actor) protocol.EntityCreation {
	def, _ := m.world.Definition(a.body)
	c := protocol.EntityCreation{
		ID:       a.id,
		Class:    a.class,
		Position: def.Transform.Position,
		Rotation: def.Transform.Rotation,
		ParentID: a.parent,
		Name:     a.name,
	}
	if a.physical() {
		c.Physics = &protocol.PhysicsProperties{
			Mass:            def.Mass,
			Friction:        def.Friction,
			Elasticity:      def.Elasticity,
			AngularDamping:  def.AngularDamping,
			MomentOfInertia: def.MomentOfInertia,
			Collider:        def.Collider,
			LinearVelocity:  def.Velocity.Linear,
			AngularVelocity: def.Velocity.Angular,
			Controlled:      def.Controlled,
		}
	}
	if a.maxHealth > 0 {
		c.Health = &protocol.HealthProperties{MaxHealth: a.maxHealth, CurrentHealth: a.health}
	}
	return c
}

// publish sends s what changed in its view this tick: creations, deletions,
// queued entity packets, then the state of everything it knows.
func (m *Match) publish(s *sessions.Session, state *protocol.MatchState) {
	if !m.players.Has(s.ID) {
		return
	}
	vis := s.Visibility()
	appeared, vanished := vis.Update(m.visibleTo(s))

	var out []protocol.Message
	if len(appeared) > 0 {
		create := &protocol.CreateEntities{Entities: make([]protocol.EntityCreation, 0, len(appeared))}
		for _, id := range appeared {
			if a, ok := m.actors.Get(uint64(id)); ok {
				create.Entities = append(create.Entities, m.creation(a))
			}
		}
		out = append(out, create)
	}
	if len(vanished) > 0 {
		out = append(out, &protocol.DeleteEntities{Entities: vanished})
	}
	out = append(out, vis.Flush()...)

	view := &protocol.MatchState{StateTick: state.StateTick}
	for _, es := range state.Entities {
		if vis.Knows(es.ID) {
			view.Entities = append(view.Entities, es)
		}
	}
	out = append(out, view)

	for _, msg := range out {
		if err := s.Send(m.now, msg); err != nil {
			m.log.V(1).Info("dropping session packet", "session", s.ID, "type", msg.Kind(), "err", err)
			return
		}
	}
}
