package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMoreRecent_Wraparound(t *testing.T) {
	assert.True(t, IsMoreRecent(3, 65535))
	assert.False(t, IsMoreRecent(65535, 3))
	assert.True(t, IsMoreRecent(101, 100))
	assert.False(t, IsMoreRecent(100, 100))
}

func TestDiff(t *testing.T) {
	assert.Equal(t, 4, Diff(3, 65535))
	assert.Equal(t, -4, Diff(65535, 3))
	assert.Equal(t, 0, Diff(7, 7))
	assert.Equal(t, -100, Diff(0, 100))
}

func TestAtOrBefore(t *testing.T) {
	assert.True(t, AtOrBefore(100, 100))
	assert.True(t, AtOrBefore(65530, 2))
	assert.False(t, AtOrBefore(2, 65530))
}

func TestAdd(t *testing.T) {
	assert.Equal(t, Tick(2), Tick(65534).Add(4))
	assert.Equal(t, Tick(65533), Tick(0).Add(-3))
	assert.Equal(t, Tick(10), Tick(10).Add(0))
}
