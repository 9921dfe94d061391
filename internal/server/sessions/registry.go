// Package sessions owns the server's connected clients: it admits bridges
// from transport managers, assigns session ids, decodes inbound frames and
// keeps each client's visibility state.
package sessions

import (
	"errors"

	"github.com/go-logr/logr"

	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/tick"
	"ticksync.dev/internal/slots"
)

const defaultMaxFramesPerPoll = 32

type Config struct {
	// MaxFramesPerPoll bounds how many frames one session may deliver per
	// Poll. Zero means 32.
	MaxFramesPerPoll int
}

// Registry is owned by the server tick loop and is not safe for concurrent
// use. Session ids start at 1 and are never reused.
type Registry struct {
	log     logr.Logger
	codec   *protocol.Codec
	handler Handler
	cfg     Config

	managers []Manager
	sessions *slots.Map[*Session]
	nextID   uint64
	closing  []uint64
}

func NewRegistry(cfg Config, codec *protocol.Codec, handler Handler, log logr.Logger) *Registry {
	if cfg.MaxFramesPerPoll <= 0 {
		cfg.MaxFramesPerPoll = defaultMaxFramesPerPoll
	}
	return &Registry{
		log:      log,
		codec:    codec,
		handler:  handler,
		cfg:      cfg,
		sessions: slots.New[*Session](16),
		nextID:   1,
	}
}

// AddManager registers a source of new connections, polled first by Poll.
func (r *Registry) AddManager(m Manager) {
	r.managers = append(r.managers, m)
}

func (r *Registry) Len() int { return r.sessions.Len() }

func (r *Registry) Get(id uint64) (*Session, bool) {
	return r.sessions.Get(id)
}

// ForEach visits live sessions until fn returns false. The order is not
// stable across CreateSession / DeleteSession.
func (r *Registry) ForEach(fn func(s *Session) bool) {
	r.sessions.Range(func(_ uint64, s *Session) bool {
		return fn(s)
	})
}

// CreateSession wraps b in a session with the next id.
func (r *Registry) CreateSession(b Bridge) *Session {
	s := &Session{
		ID:         r.nextID,
		bridge:     b,
		codec:      r.codec,
		visibility: NewVisibility(),
	}
	r.nextID++
	r.sessions.Put(s.ID, s)

	observability.RecordSessionCreated()
	observability.SetSessions(r.sessions.Len())
	r.log.Info("session opened", "session", s.ID, "remote", b.RemoteAddr())

	if r.handler != nil {
		r.handler.SessionOpened(s)
	}
	return s
}

// DeleteSession closes the session's bridge, releases its visibility state
// and forgets it. It reports false for unknown ids.
func (r *Registry) DeleteSession(id uint64) bool {
	s, ok := r.sessions.Get(id)
	if !ok {
		return false
	}
	r.sessions.Delete(id)
	if r.handler != nil {
		r.handler.SessionClosed(s)
	}
	s.visibility.Release()
	_ = s.bridge.Close()

	observability.SetSessions(r.sessions.Len())
	r.log.Info("session closed", "session", id)
	return true
}

// Poll admits pending connections, then hands every waiting frame to the
// handler. Sessions whose bridge disconnected are deleted once every session
// has been polled.
func (r *Registry) Poll(now tick.Tick) {
	for _, m := range r.managers {
		for {
			b, ok := m.Accept()
			if !ok {
				break
			}
			r.CreateSession(b)
		}
	}

	r.sessions.Range(func(id uint64, s *Session) bool {
		r.drain(now, s)
		if !s.bridge.Connected() {
			r.closing = append(r.closing, id)
		}
		return true
	})

	for _, id := range r.closing {
		r.DeleteSession(id)
	}
	r.closing = r.closing[:0]
}

// Clear deletes every session.
func (r *Registry) Clear() {
	r.sessions.Range(func(id uint64, _ *Session) bool {
		r.closing = append(r.closing, id)
		return true
	})
	for _, id := range r.closing {
		r.DeleteSession(id)
	}
	r.closing = r.closing[:0]
}

func (r *Registry) drain(now tick.Tick, s *Session) {
	for n := 0; n < r.cfg.MaxFramesPerPoll; n++ {
		frame, ok := s.bridge.Receive()
		if !ok {
			return
		}
		t, msg, err := r.codec.Decode(frame)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrVersion):
			observability.RecordFrameDropped("version")
			r.log.Info("protocol version mismatch", "session", s.ID, "err", err)
			s.Disconnect(now, protocol.ReasonBadRequest)
			return
		case errors.Is(err, protocol.ErrUnknownPacket):
			observability.RecordFrameDropped("unknown")
			r.log.V(1).Info("unknown packet", "session", s.ID, "err", err)
			continue
		default:
			observability.RecordFrameDropped("malformed")
			r.log.V(1).Info("malformed frame", "session", s.ID, "err", err)
			continue
		}
		observability.RecordFrame("in", string(msg.Kind()))
		if r.handler != nil {
			r.handler.HandleMessage(s, t, msg)
		}
		if !s.bridge.Connected() {
			return
		}
	}
}
