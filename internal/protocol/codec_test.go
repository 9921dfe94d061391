package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tick"
)

func TestCodec_SmallFrameIsPlain(t *testing.T) {
	c, err := NewCodec(512)
	require.NoError(t, err)
	defer c.Close()

	frame, err := c.Encode(12, &ControlEntity{EntityID: 7, PlayerIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[0])

	tk, m, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(12), tk)
	assert.Equal(t, &ControlEntity{EntityID: 7}, m)
}

func TestCodec_LargeFrameIsCompressed(t *testing.T) {
	c, err := NewCodec(64)
	require.NoError(t, err)
	defer c.Close()

	state := &MatchState{StateTick: 65535}
	for i := 1; i <= 50; i++ {
		state.Entities = append(state.Entities, EntityState{ID: uint32(i), Position: geom.V(float64(i), 0)})
	}
	frame, err := c.Encode(65535, state)
	require.NoError(t, err)
	assert.Equal(t, flagZstd, frame[0])

	tk, m, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(65535), tk)
	assert.Equal(t, state, m)

	_, ok := m.(TickPacket)
	assert.True(t, ok)
}

func TestCodec_Errors(t *testing.T) {
	c, err := NewCodec(0)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.Decode([]byte{0})
	assert.True(t, errors.Is(err, ErrBadFrame))

	_, _, err = c.Decode([]byte{flagZstd, 1, 2, 3})
	assert.True(t, errors.Is(err, ErrBadFrame))

	body := `{"type":"NOPE","protocol_version":"1.0","tick":1,"payload":{}}`
	_, _, err = c.Decode(append([]byte{0}, body...))
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	body = strings.Replace(body, `"1.0"`, `"0.9"`, 1)
	_, _, err = c.Decode(append([]byte{0}, body...))
	assert.True(t, errors.Is(err, ErrVersion))
}

func TestPlayerInputs_NilMeansUnchanged(t *testing.T) {
	c, err := NewCodec(0)
	require.NoError(t, err)
	defer c.Close()

	in := &PlayerInputs{EstimatedServerTick: 3, Inputs: []*InputData{nil, {IsJumping: true}}}
	frame, err := c.Encode(3, in)
	require.NoError(t, err)
	_, m, err := c.Decode(frame)
	require.NoError(t, err)

	got := m.(*PlayerInputs)
	require.Len(t, got.Inputs, 2)
	assert.Nil(t, got.Inputs[0])
	assert.True(t, got.Inputs[1].IsJumping)
}

func TestProperty_JSON(t *testing.T) {
	props := []Property{
		ScalarProperty("solid", Bools{true}),
		ArrayProperty("path", Vec2s{geom.V(1, 2), geom.V(3, 4)}),
		ScalarProperty("ammo", Ints{30}),
	}
	b, err := json.Marshal(props)
	require.NoError(t, err)

	var got []Property
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, props, got)

	_, err = json.Marshal(ScalarProperty("bad", Floats{1, 2}))
	assert.Error(t, err)

	var p Property
	assert.Error(t, json.Unmarshal([]byte(`{"name":"x","kind":"quaternion","values":[]}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"name":"x","kind":"int","values":[]}`), &p))
}
