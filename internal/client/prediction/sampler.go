package prediction

import (
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/tick"
)

// InputSource is polled once per tick for every local player.
type InputSource interface {
	Input(player uint8) protocol.InputData
}

// InputFunc adapts a function to InputSource.
type InputFunc func(player uint8) protocol.InputData

func (f InputFunc) Input(player uint8) protocol.InputData { return f(player) }

// Sampler deduplicates local input against what was last sent.
type Sampler struct {
	keepalive int
	last      []protocol.InputData
	sent      bool
	sinceSend int
}

// NewSampler creates a sampler for players local players that forces a full
// send at least every keepalive ticks.
func NewSampler(players, keepalive int) *Sampler {
	if keepalive < 1 {
		keepalive = 1
	}
	return &Sampler{keepalive: keepalive, last: make([]protocol.InputData, players)}
}

func (s *Sampler) Players() int { return len(s.last) }

// Last returns the input most recently sampled for player.
func (s *Sampler) Last(player uint8) protocol.InputData {
	if int(player) >= len(s.last) {
		return protocol.InputData{}
	}
	return s.last[player]
}

// Sample polls src for every player. It always returns the sampled inputs;
// packet is nil when nothing changed and no keepalive is due. Unchanged
// players are nil in a change-driven packet and filled in a keepalive.
func (s *Sampler) Sample(src InputSource, estimated tick.Tick) (inputs []protocol.InputData, packet *protocol.PlayerInputs) {
	inputs = make([]protocol.InputData, len(s.last))
	changed := make([]*protocol.InputData, len(s.last))
	dirty := false
	for i := range s.last {
		in := src.Input(uint8(i))
		inputs[i] = in
		if in != s.last[i] {
			v := in
			changed[i] = &v
			dirty = true
		}
	}
	copy(s.last, inputs)

	s.sinceSend++
	keepalive := !s.sent || s.sinceSend >= s.keepalive
	if !dirty && !keepalive {
		return inputs, nil
	}
	if keepalive {
		for i := range changed {
			if changed[i] == nil {
				v := inputs[i]
				changed[i] = &v
			}
		}
	}
	s.sent = true
	s.sinceSend = 0
	return inputs, &protocol.PlayerInputs{EstimatedServerTick: estimated, Inputs: changed}
}
