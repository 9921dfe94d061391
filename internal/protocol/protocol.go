// Package protocol defines the wire packets exchanged between the
// authoritative match server and predicting clients.
package protocol

import (
	"encoding/json"

	"ticksync.dev/internal/sim/tick"
)

const Version = "1.0"

// Kind routes a decoded envelope to its payload type.
type Kind string

const (
	KindJoin         Kind = "JOIN"
	KindMatchData    Kind = "MATCH_DATA"
	KindDisconnect   Kind = "DISCONNECT"
	KindPlayerInputs Kind = "PLAYER_INPUTS"
	KindTickError    Kind = "TICK_ERROR"

	KindControlEntity     Kind = "CONTROL_ENTITY"
	KindCreateEntities    Kind = "CREATE_ENTITIES"
	KindDeleteEntities    Kind = "DELETE_ENTITIES"
	KindEntitiesAnimation Kind = "ENTITIES_ANIMATION"
	KindEntitiesInputs    Kind = "ENTITIES_INPUTS"
	KindHealthUpdate      Kind = "HEALTH_UPDATE"
	KindMatchState        Kind = "MATCH_STATE"
)

// Envelope is the JSON body of every frame. Tick is the server tick the
// payload describes (or, for client packets, the tick the client believes
// the server is at).
type Envelope struct {
	Type            Kind            `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            tick.Tick       `json:"tick"`
	Payload         json.RawMessage `json:"payload"`
}

// Message is implemented by every payload type.
type Message interface {
	Kind() Kind
}

// TickPacket is the closed set of server packets that go through the client
// jitter buffer and are applied in tick order.
type TickPacket interface {
	Message
	tickPacket()
}

func newMessage(k Kind) (Message, bool) {
	switch k {
	case KindJoin:
		return &Join{}, true
	case KindMatchData:
		return &MatchData{}, true
	case KindDisconnect:
		return &Disconnect{}, true
	case KindPlayerInputs:
		return &PlayerInputs{}, true
	case KindTickError:
		return &TickError{}, true
	case KindControlEntity:
		return &ControlEntity{}, true
	case KindCreateEntities:
		return &CreateEntities{}, true
	case KindDeleteEntities:
		return &DeleteEntities{}, true
	case KindEntitiesAnimation:
		return &EntitiesAnimation{}, true
	case KindEntitiesInputs:
		return &EntitiesInputs{}, true
	case KindHealthUpdate:
		return &HealthUpdate{}, true
	case KindMatchState:
		return &MatchState{}, true
	}
	return nil, false
}
