package protocol

import (
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tick"
)

// InputData is one player's control state for a tick. It is comparable so
// samplers can detect changes with ==.
type InputData struct {
	IsAttacking    bool      `json:"is_attacking,omitempty"`
	IsCrouching    bool      `json:"is_crouching,omitempty"`
	IsJumping      bool      `json:"is_jumping,omitempty"`
	IsLookingRight bool      `json:"is_looking_right,omitempty"`
	IsMovingLeft   bool      `json:"is_moving_left,omitempty"`
	IsMovingRight  bool      `json:"is_moving_right,omitempty"`
	AimDirection   geom.Vec2 `json:"aim_direction"`
}

// JOIN (client -> server)
type Join struct {
	PlayerName   string `json:"player_name"`
	LocalPlayers uint8  `json:"local_players"`
}

// MATCH_DATA (server -> client)
type MatchData struct {
	MatchID     string    `json:"match_id"`
	SessionID   uint64    `json:"session_id"`
	TickRateHz  int       `json:"tick_rate_hz"`
	CurrentTick tick.Tick `json:"current_tick"`
}

// DISCONNECT (server -> client)
type Disconnect struct {
	Reason string `json:"reason"`
}

// PLAYER_INPUTS (client -> server). A nil entry means "unchanged since the
// last packet" for that local player.
type PlayerInputs struct {
	EstimatedServerTick tick.Tick    `json:"estimated_server_tick"`
	Inputs              []*InputData `json:"inputs"`
}

// TICK_ERROR (server -> client): how far ahead (positive) or behind the
// client's estimate for Tick was when the server received it.
type TickError struct {
	Tick  tick.Tick `json:"tick"`
	Error int32     `json:"error"`
}

// CONTROL_ENTITY
type ControlEntity struct {
	EntityID    uint32 `json:"entity_id"`
	PlayerIndex uint8  `json:"player_index"`
}

// NoEntity in ControlEntity releases control.
const NoEntity uint32 = 0

// CREATE_ENTITIES
type CreateEntities struct {
	Entities []EntityCreation `json:"entities"`
}

type EntityCreation struct {
	ID         uint32             `json:"id"`
	Class      string             `json:"class"`
	Position   geom.Vec2          `json:"position"`
	Rotation   float64            `json:"rotation"`
	Properties []Property         `json:"properties,omitempty"`
	ParentID   *uint32            `json:"parent_id,omitempty"`
	Physics    *PhysicsProperties `json:"physics,omitempty"`
	Health     *HealthProperties  `json:"health,omitempty"`
	Name       *string            `json:"name,omitempty"`
}

type PhysicsProperties struct {
	Mass            float64   `json:"mass"`
	Friction        float64   `json:"friction"`
	Elasticity      float64   `json:"elasticity"`
	AngularDamping  float64   `json:"angular_damping"`
	MomentOfInertia float64   `json:"moment_of_inertia"`
	Collider        geom.Rect `json:"collider"`
	LinearVelocity  geom.Vec2 `json:"linear_velocity"`
	AngularVelocity float64   `json:"angular_velocity"`
	Controlled      bool      `json:"controlled,omitempty"`
}

type HealthProperties struct {
	MaxHealth     uint16 `json:"max_health"`
	CurrentHealth uint16 `json:"current_health"`
}

// DELETE_ENTITIES
type DeleteEntities struct {
	Entities []uint32 `json:"entities"`
}

// ENTITIES_ANIMATION
type EntitiesAnimation struct {
	Entities []EntityAnimation `json:"entities"`
}

type EntityAnimation struct {
	EntityID uint32 `json:"entity_id"`
	AnimID   uint8  `json:"anim_id"`
}

// ENTITIES_INPUTS
type EntitiesInputs struct {
	Entities []EntityInputs `json:"entities"`
}

type EntityInputs struct {
	ID     uint32    `json:"id"`
	Inputs InputData `json:"inputs"`
}

// HEALTH_UPDATE
type HealthUpdate struct {
	Entities []EntityHealth `json:"entities"`
}

type EntityHealth struct {
	ID            uint32 `json:"id"`
	CurrentHealth uint16 `json:"current_health"`
}

// MATCH_STATE: authoritative transforms for StateTick.
type MatchState struct {
	StateTick tick.Tick     `json:"state_tick"`
	Entities  []EntityState `json:"entities"`
}

type EntityState struct {
	ID             uint32         `json:"id"`
	Position       geom.Vec2      `json:"position"`
	Rotation       float64        `json:"rotation"`
	Physics        *PhysicsState  `json:"physics,omitempty"`
	PlayerMovement *MovementFlags `json:"player_movement,omitempty"`
}

type PhysicsState struct {
	LinearVelocity  geom.Vec2 `json:"linear_velocity"`
	AngularVelocity float64   `json:"angular_velocity"`
}

type MovementFlags struct {
	IsFacingRight bool `json:"is_facing_right"`
}

func (*Join) Kind() Kind              { return KindJoin }
func (*MatchData) Kind() Kind         { return KindMatchData }
func (*Disconnect) Kind() Kind        { return KindDisconnect }
func (*PlayerInputs) Kind() Kind      { return KindPlayerInputs }
func (*TickError) Kind() Kind         { return KindTickError }
func (*ControlEntity) Kind() Kind     { return KindControlEntity }
func (*CreateEntities) Kind() Kind    { return KindCreateEntities }
func (*DeleteEntities) Kind() Kind    { return KindDeleteEntities }
func (*EntitiesAnimation) Kind() Kind { return KindEntitiesAnimation }
func (*EntitiesInputs) Kind() Kind    { return KindEntitiesInputs }
func (*HealthUpdate) Kind() Kind      { return KindHealthUpdate }
func (*MatchState) Kind() Kind        { return KindMatchState }

func (*ControlEntity) tickPacket()     {}
func (*CreateEntities) tickPacket()    {}
func (*DeleteEntities) tickPacket()    {}
func (*EntitiesAnimation) tickPacket() {}
func (*EntitiesInputs) tickPacket()    {}
func (*HealthUpdate) tickPacket()      {}
func (*MatchState) tickPacket()        {}
