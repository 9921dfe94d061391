package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"ticksync.dev/internal/sim/tick"
)

const flagZstd byte = 1 << 0

// maxFrameBody caps the decompressed size of one frame.
const maxFrameBody = 4 << 20

// Codec turns messages into websocket frames: one flag byte followed by a
// JSON envelope, zstd-compressed when it exceeds the threshold. A Codec is
// safe for concurrent use.
type Codec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewCodec returns a codec compressing bodies larger than threshold bytes.
// A threshold <= 0 disables compression on encode; compressed frames are
// still accepted on decode.
func NewCodec(threshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameBody))
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Codec{threshold: threshold, enc: enc, dec: dec}, nil
}

func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// Encode frames m tagged with t.
func (c *Codec) Encode(t tick.Tick, m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	body, err := json.Marshal(Envelope{
		Type:            m.Kind(),
		ProtocolVersion: Version,
		Tick:            t,
		Payload:         payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	if c.threshold > 0 && len(body) > c.threshold {
		out := make([]byte, 1, 1+len(body)/2)
		out[0] = flagZstd
		return c.enc.EncodeAll(body, out), nil
	}
	out := make([]byte, 1+len(body))
	copy(out[1:], body)
	return out, nil
}

// DecodeEnvelope unwraps the frame and parses the envelope without decoding
// the payload.
func (c *Codec) DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if len(frame) < 2 {
		return env, ErrBadFrame
	}
	body := frame[1:]
	if frame[0]&flagZstd != 0 {
		raw, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return env, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		body = raw
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if env.ProtocolVersion != Version {
		return env, fmt.Errorf("%w: %q", ErrVersion, env.ProtocolVersion)
	}
	return env, nil
}

// Decode returns the tick and the typed payload of frame.
func (c *Codec) Decode(frame []byte) (tick.Tick, Message, error) {
	env, err := c.DecodeEnvelope(frame)
	if err != nil {
		return 0, nil, err
	}
	m, err := DecodePayload(env)
	return env.Tick, m, err
}

func DecodePayload(env Envelope) (Message, error) {
	m, ok := newMessage(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, env.Type)
	}
	if err := json.Unmarshal(env.Payload, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFrame, env.Type, err)
	}
	return m, nil
}
