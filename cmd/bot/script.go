package main

import (
	"math/rand"

	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
)

// script plays a wandering fighter: it walks one way for a random stretch,
// turns around, and now and then jumps or swings.
type script struct {
	rng *rand.Rand

	// per local player
	right   []bool
	left    []int
	jumping []int
	attack  []int
}

func newScript(players int, seed int64) *script {
	s := &script{
		rng:     rand.New(rand.NewSource(seed)),
		right:   make([]bool, players),
		left:    make([]int, players),
		jumping: make([]int, players),
		attack:  make([]int, players),
	}
	for i := range s.left {
		s.right[i] = s.rng.Intn(2) == 0
		s.left[i] = 30 + s.rng.Intn(120)
	}
	return s
}

// Input is called once per player per tick.
func (s *script) Input(player uint8) protocol.InputData {
	i := int(player)
	if i >= len(s.left) {
		return protocol.InputData{}
	}

	s.left[i]--
	if s.left[i] <= 0 {
		s.right[i] = !s.right[i]
		s.left[i] = 30 + s.rng.Intn(120)
	}
	if s.jumping[i] > 0 {
		s.jumping[i]--
	} else if s.rng.Intn(90) == 0 {
		s.jumping[i] = 10
	}
	if s.attack[i] > 0 {
		s.attack[i]--
	} else if s.rng.Intn(45) == 0 {
		s.attack[i] = 2
	}

	aim := geom.V(-1, 0)
	if s.right[i] {
		aim = geom.V(1, 0)
	}
	return protocol.InputData{
		IsAttacking:    s.attack[i] > 0,
		IsJumping:      s.jumping[i] > 0,
		IsLookingRight: s.right[i],
		IsMovingLeft:   !s.right[i],
		IsMovingRight:  s.right[i],
		AimDirection:   aim,
	}
}
