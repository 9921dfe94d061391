package sequencer

import (
	"math/rand"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/sim/tick"
)

type item struct {
	tick tick.Tick
	n    int
}

func TestSequencer_DrainsInTickOrderAcrossWrap(t *testing.T) {
	s := New[string](logr.Discard())
	s.Push(2, "c")
	s.Push(65534, "a")
	s.Push(0, "b")
	s.Push(5, "later")

	got := s.DrainReady(3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Content, got[1].Content, got[2].Content})
	assert.Equal(t, 1, s.Len())
}

func TestSequencer_PreservesArrivalWithinTick(t *testing.T) {
	s := New[int](logr.Discard())
	s.Push(10, 1)
	s.Push(9, 0)
	s.Push(10, 2)
	s.Push(10, 3)

	got := s.DrainReady(10)
	var order []int
	for _, p := range got {
		order = append(order, p.Content)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestSequencer_RandomArrivalNeverDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		s := New[item](logr.Discard())
		base := tick.Tick(rng.Intn(65536))

		var items []item
		for i := 0; i < 200; i++ {
			items = append(items, item{tick: base.Add(rng.Intn(100)), n: i})
		}
		rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		for _, it := range items {
			s.Push(it.tick, it)
		}

		seen := map[int]bool{}
		var last tick.Tick
		first := true
		for upto := 0; upto < 100; upto += 7 {
			for _, p := range s.DrainReady(base.Add(upto)) {
				if !first {
					assert.False(t, tick.IsMoreRecent(last, p.Tick), "tick %d after %d", p.Tick, last)
				}
				first = false
				last = p.Tick
				assert.False(t, seen[p.Content.n], "packet %d drained twice", p.Content.n)
				seen[p.Content.n] = true
			}
		}
		for _, p := range s.DrainReady(base.Add(99)) {
			assert.False(t, seen[p.Content.n])
			seen[p.Content.n] = true
		}
		assert.Len(t, seen, len(items))
		assert.Zero(t, s.Len())
	}
}

func TestSequencer_LatePacketsGoOutNextDrain(t *testing.T) {
	s := New[string](logr.Discard())
	s.Push(5, "x")
	require.Len(t, s.DrainReady(5), 1)

	s.Push(7, "new")
	s.Push(5, "late")
	s.Push(3, "older")
	assert.Equal(t, uint64(2), s.Stats().Late)

	got := s.DrainReady(6)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].Content)
	assert.Equal(t, "late", got[1].Content)

	got = s.DrainReady(7)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Content)
	assert.Equal(t, uint64(4), s.Stats().Drained)
}

func TestSequencer_RegressedBoundIsNoop(t *testing.T) {
	s := New[string](logr.Discard())
	s.Push(10, "a")
	s.Push(20, "b")
	require.Len(t, s.DrainReady(10), 1)

	assert.Empty(t, s.DrainReady(4))
	assert.Equal(t, 1, s.Len())

	got := s.DrainReady(20)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Content)
}
