// Package entities holds the client-side mirrors of server actors.
package entities

import (
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/physics"
	"ticksync.dev/internal/slots"
)

// Health is present once an entity has taken damage.
type Health struct {
	Current uint16
}

// ServerEntity mirrors one authoritative actor. Body is its handle in the
// live world.
type ServerEntity struct {
	ServerID   uint32
	Body       physics.BodyID
	Class      string
	IsPhysical bool
	ParentID   *uint32
	Properties []protocol.Property

	// Residual display error, decayed by the smoother.
	PositionError geom.Vec2
	RotationError float64

	FacingRight bool
	AnimationID uint8
	LastInputs  *protocol.InputData
	// WeaponID is the entity's weapon, protocol.NoEntity when unarmed.
	WeaponID uint32

	MaxHealth uint16
	Health    *Health
	Name      *string
	// Ghost is the last authoritative transform, kept when server ghosts
	// are shown.
	Ghost *geom.Transform
}

// Table maps server ids to entities.
type Table struct {
	m *slots.Map[*ServerEntity]
}

func NewTable() *Table {
	return &Table{m: slots.New[*ServerEntity](64)}
}

func (t *Table) Len() int { return t.m.Len() }

func (t *Table) Get(id uint32) (*ServerEntity, bool) {
	return t.m.Get(uint64(id))
}

// Add stores e under e.ServerID, replacing any previous entity.
func (t *Table) Add(e *ServerEntity) {
	t.m.Put(uint64(e.ServerID), e)
}

func (t *Table) Delete(id uint32) (*ServerEntity, bool) {
	e, ok := t.m.Get(uint64(id))
	if !ok {
		return nil, false
	}
	t.m.Delete(uint64(id))
	return e, true
}

// Range visits entities until fn returns false. Order is unspecified.
func (t *Table) Range(fn func(*ServerEntity) bool) {
	t.m.Range(func(_ uint64, e *ServerEntity) bool { return fn(e) })
}

// FindByBody returns the entity whose live body is b.
func (t *Table) FindByBody(b physics.BodyID) (*ServerEntity, bool) {
	var found *ServerEntity
	t.Range(func(e *ServerEntity) bool {
		if e.Body == b {
			found = e
			return false
		}
		return true
	})
	return found, found != nil
}

func (t *Table) Clear() { t.m.Clear() }
