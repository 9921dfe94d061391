package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ticksync.dev/internal/protocol"
)

func TestScript_DeterministicPerSeed(t *testing.T) {
	a, b := newScript(2, 7), newScript(2, 7)
	for n := 0; n < 500; n++ {
		for p := uint8(0); p < 2; p++ {
			assert.Equal(t, a.Input(p), b.Input(p))
		}
	}
}

func TestScript_InputsAreConsistent(t *testing.T) {
	s := newScript(1, 1)
	turns, jumps := 0, 0
	prev := s.Input(0)
	for n := 0; n < 2000; n++ {
		in := s.Input(0)
		assert.NotEqual(t, in.IsMovingLeft, in.IsMovingRight)
		assert.Equal(t, in.IsMovingRight, in.IsLookingRight)
		if in.IsMovingRight != prev.IsMovingRight {
			turns++
		}
		if in.IsJumping && !prev.IsJumping {
			jumps++
		}
		prev = in
	}
	assert.Greater(t, turns, 5)
	assert.Greater(t, jumps, 0)
	assert.Equal(t, protocol.InputData{}, s.Input(3))
}
