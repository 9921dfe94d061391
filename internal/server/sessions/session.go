package sessions

import (
	"fmt"

	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/tick"
)

// Bridge is one client connection as seen by the tick loop. Receive never
// blocks: it returns false when no frame is waiting.
type Bridge interface {
	Receive() ([]byte, bool)
	Send(frame []byte) error
	Connected() bool
	Close() error
	RemoteAddr() string
}

// Manager hands newly connected bridges to the registry. Accept never
// blocks.
type Manager interface {
	Accept() (Bridge, bool)
}

// Handler receives session lifecycle events and decoded client messages from
// Poll. It must not delete sessions; Session.Disconnect closes the bridge and
// the registry drops the session at the end of the pass.
type Handler interface {
	SessionOpened(s *Session)
	HandleMessage(s *Session, t tick.Tick, msg protocol.Message)
	SessionClosed(s *Session)
}

type Session struct {
	ID   uint64
	Name string
	// Players holds the entity controlled by each local player, NoEntity
	// when the player has none.
	Players []uint32

	bridge     Bridge
	codec      *protocol.Codec
	visibility *Visibility
}

func (s *Session) Bridge() Bridge { return s.bridge }

func (s *Session) Visibility() *Visibility { return s.visibility }

// Send frames msg tagged with t and writes it to the bridge.
func (s *Session) Send(t tick.Tick, msg protocol.Message) error {
	frame, err := s.codec.Encode(t, msg)
	if err != nil {
		return err
	}
	if err := s.bridge.Send(frame); err != nil {
		observability.RecordFrameDropped("send")
		return fmt.Errorf("session %d: %w", s.ID, err)
	}
	observability.RecordFrame("out", string(msg.Kind()))
	return nil
}

// Disconnect tells the client why it is being dropped and closes the bridge.
func (s *Session) Disconnect(t tick.Tick, reason string) {
	_ = s.Send(t, &protocol.Disconnect{Reason: reason})
	_ = s.bridge.Close()
}
