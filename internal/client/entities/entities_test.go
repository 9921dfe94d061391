package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_AddGetDelete(t *testing.T) {
	tbl := NewTable()
	for id := uint32(1); id <= 200; id++ {
		tbl.Add(&ServerEntity{ServerID: id, Body: 0})
	}
	require.Equal(t, 200, tbl.Len())

	e, ok := tbl.Get(150)
	require.True(t, ok)
	assert.Equal(t, uint32(150), e.ServerID)

	_, ok = tbl.Delete(150)
	assert.True(t, ok)
	_, ok = tbl.Delete(150)
	assert.False(t, ok)
	_, ok = tbl.Get(150)
	assert.False(t, ok)
	assert.Equal(t, 199, tbl.Len())
}

func TestTable_FindByBody(t *testing.T) {
	tbl := NewTable()
	tbl.Add(&ServerEntity{ServerID: 1, Body: 10})
	tbl.Add(&ServerEntity{ServerID: 2, Body: 20})

	e, ok := tbl.FindByBody(20)
	require.True(t, ok)
	assert.Equal(t, uint32(2), e.ServerID)

	_, ok = tbl.FindByBody(30)
	assert.False(t, ok)
}
