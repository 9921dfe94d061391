package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync.dev/internal/client/reconcile"
	plog "ticksync.dev/internal/persistence/log"
	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/sim/geom"
	"ticksync.dev/internal/sim/tick"
)

func TestTicks_SummaryAcrossWrap(t *testing.T) {
	dir := t.TempDir()
	l := plog.NewTickLogger(dir)
	for _, tk := range []tick.Tick{65534, 65535, 1, 2} {
		require.NoError(t, l.WriteTick(plog.TickEntry{
			Tick:     tk,
			Entities: []protocol.EntityState{{ID: 3, Position: geom.V(float64(tk%10), 0)}},
		}))
	}
	require.NoError(t, l.Close())

	var sum tickSummary
	var out bytes.Buffer
	require.NoError(t, scan(filepath.Join(dir, plog.TicksPrefix), plog.TicksPrefix, func(e plog.TickEntry) error {
		sum.add(e)
		writeTrajectory(&out, e, 3)
		return nil
	}))
	assert.Equal(t, 4, sum.Entries)
	assert.EqualValues(t, 65534, sum.First)
	assert.EqualValues(t, 2, sum.Last)
	assert.Equal(t, 1, sum.Gaps)
	assert.Equal(t, 1, sum.MaxEntities)
	assert.Equal(t, "65534\t4.00\t0.00\n65535\t5.00\t0.00\n1\t1.00\t0.00\n2\t2.00\t0.00\n", out.String())
}

func TestCorrections_Summary(t *testing.T) {
	var sum correctionSummary
	sum.add(plog.NewCorrectionEntry("m", reconcile.Report{Replayed: 4, Corrections: []reconcile.Correction{
		{EntityID: 1, Distance: 2},
		{EntityID: 2, Distance: 200, Snapped: true},
	}}))
	sum.add(plog.NewCorrectionEntry("m", reconcile.Report{Replayed: 1}))

	assert.Equal(t, 2, sum.Reports)
	assert.Equal(t, 5, sum.Replayed)
	assert.Equal(t, 2, sum.Corrections)
	assert.Equal(t, 1, sum.Snaps)
	assert.Equal(t, 101.0, sum.MeanDistance())
	assert.Equal(t, 200.0, sum.MaxDistance)
}
