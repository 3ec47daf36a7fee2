// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"testing"

	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFor(t *testing.T, update func(cfg *tiling.Config)) (*tiling.Params, *Schedule) {
	cfg := tiling.DefaultConfig()
	if update != nil {
		update(&cfg)
	}
	p, err := tiling.Derive(cfg)
	require.NoError(t, err)
	sched := Build(p, dataflow.Build(p))
	require.NoError(t, sched.Verify())
	return p, sched
}

func TestBuild_Default(t *testing.T) {
	p, sched := buildFor(t, nil)
	require.Equal(t, 2, p.RowGroups)

	// One block with a single (ping) half: one C transfer per column.
	assert.Len(t, sched.C, 4)
	assert.Len(t, sched.A, 4*2)
	assert.Len(t, sched.B, 4*2)
	assert.Equal(t, 1, sched.NumWaits())
	assert.Equal(t, []State{Idle, PingEmitted, AwaitingCompletion, Drained}, sched.States)

	// Per column: C (id 0), then A, B for each row of the half.
	transfers := sched.Ops[:5]
	want := []struct {
		channel string
		id      int
		operand Operand
	}{
		{"C_L2L3_0", 0, OperandC},
		{"A_L3L2_0", 1, OperandA},
		{"B_L3L2_0", 2, OperandB},
		{"A_L3L2_0", 3, OperandA},
		{"B_L3L2_0", 4, OperandB},
	}
	for ii, op := range transfers {
		transfer := op.(*Transfer)
		assert.Equal(t, want[ii].channel, transfer.Channel)
		assert.Equal(t, want[ii].id, transfer.ID)
		assert.Equal(t, want[ii].operand, transfer.Operand)
		assert.Equal(t, dataflow.Shim(0), transfer.Shim)
	}
	assert.Equal(t, dataflow.Shim(3), sched.Ops[15].(*Transfer).Shim)
	wait := sched.Ops[len(sched.Ops)-1].(*Wait)
	assert.Equal(t, []string{"C_L2L3_0", "C_L2L3_1", "C_L2L3_2", "C_L2L3_3"}, wait.Channels)

	assert.Equal(t, "in A: (Int16)[262144]", sched.Args[0].String())
	assert.Equal(t, "out C: (Int16)[262144]", sched.Args[2].String())
}

func TestBuild_NumberOfTransfers(t *testing.T) {
	for _, cols := range tiling.ValidCols {
		for _, m := range []int{256, 512, 768, 1024, 2048, 2304} {
			_, sched := buildFor(t, func(cfg *tiling.Config) {
				cfg.Cols = cols
				cfg.M = m
			})
			rowGroups := m / 64 / 4
			numHalves := (rowGroups + HalfBlockRows - 1) / HalfBlockRows
			assert.Len(t, sched.C, numHalves*cols, "cols=%d, M=%d", cols, m)
			assert.Len(t, sched.A, rowGroups*cols, "cols=%d, M=%d", cols, m)
			assert.Len(t, sched.B, rowGroups*cols, "cols=%d, M=%d", cols, m)
			assert.Equal(t, max(numHalves-1, 0)+1, sched.NumWaits(), "cols=%d, M=%d", cols, m)
			assert.Equal(t, Drained, sched.States[len(sched.States)-1])
		}
	}
}

func TestBuild_DescriptorIDs(t *testing.T) {
	_, sched := buildFor(t, func(cfg *tiling.Config) { cfg.M = 2048 })
	ids := make(map[int]bool)
	for _, transfer := range sched.Transfers(OperandA) {
		ids[transfer.ID] = true
	}
	assert.Equal(t, map[int]bool{1: true, 3: true, 9: true, 11: true}, ids)
	clear(ids)
	for _, transfer := range sched.Transfers(OperandC) {
		ids[transfer.ID] = true
	}
	assert.Equal(t, map[int]bool{0: true, 8: true}, ids)

	// Waits after every half but the first, plus the final one.
	var kinds []string
	for _, op := range sched.Ops {
		if _, ok := op.(*Wait); ok {
			kinds = append(kinds, "wait")
		} else if transfer := op.(*Transfer); transfer.Operand == OperandC && transfer.Shim.Col == 0 {
			kinds = append(kinds, "half")
		}
	}
	assert.Equal(t, []string{"half", "half", "wait", "half", "wait", "half", "wait", "wait"}, kinds)
	assert.Equal(t, []State{Idle, PingEmitted, PongEmitted, AwaitingCompletion, PingEmitted, AwaitingCompletion,
		PongEmitted, AwaitingCompletion, AwaitingCompletion, Drained}, sched.States)
}

func TestBuild_OddRowGroups(t *testing.T) {
	p, sched := buildFor(t, func(cfg *tiling.Config) { cfg.M = 768 })
	require.Equal(t, 3, p.RowGroups)
	require.Len(t, sched.C, 2*4)
	// The pong half has a single row group: the last C tiles are clipped.
	assert.Equal(t, 2, sched.C[0].Dims[0].Count)
	assert.Equal(t, 1, sched.C[4].Dims[0].Count)
	_, count := sched.C.AccessMaps()
	for offset, c := range count {
		require.Equal(t, 1, c, "C element %d", offset)
	}
}

func TestBuild_Coverage(t *testing.T) {
	for _, colMajor := range []bool{false, true} {
		for _, cols := range tiling.ValidCols {
			p, sched := buildFor(t, func(cfg *tiling.Config) {
				cfg.Cols = cols
				cfg.BColMajor = colMajor
				cfg.M, cfg.K, cfg.N = 1024, 256, 256
			})
			_, countA := sched.A.AccessMaps()
			for offset, c := range countA {
				require.Equal(t, p.ColTilesPerShim, c, "A element %d, cols=%d", offset, cols)
			}
			_, countB := sched.B.AccessMaps()
			for offset, c := range countB {
				require.Equal(t, p.RowGroups, c, "B element %d, cols=%d, col-major=%v", offset, cols, colMajor)
			}
			_, countC := sched.C.AccessMaps()
			for offset, c := range countC {
				require.Equal(t, 1, c, "C element %d, cols=%d", offset, cols)
			}
		}
	}
}

// The A tile index wraps around the A sequence modulo its length. For every valid configuration
// the index stays within bounds: each A tile is transferred exactly once, and the wrap never
// triggers. This test flags any change to that.
func TestBuild_ATileIndexNeverWraps(t *testing.T) {
	for _, cols := range tiling.ValidCols {
		for _, m := range []int{256, 768, 2048} {
			p, sched := buildFor(t, func(cfg *tiling.Config) {
				cfg.Cols = cols
				cfg.M = m
			})
			aTiles := ATiles(p)
			require.Len(t, aTiles, p.RowGroups*cols)
			seen := make(map[string]int)
			for _, tile := range sched.A {
				seen[tile.String()]++
			}
			require.Len(t, seen, len(aTiles), "cols=%d, M=%d", cols, m)
			for _, tile := range aTiles {
				assert.Equal(t, 1, seen[tile.String()], "cols=%d, M=%d, tile %s", cols, m, tile)
			}
		}
	}
}

func TestBTiles_ColumnMajor(t *testing.T) {
	p, _ := buildFor(t, nil)
	rowMajor := BTiles(p)
	require.Len(t, rowMajor, 4)
	assert.Equal(t, tensortile.Tile{
		TensorDims: [2]int{512, 512},
		Offset:     32,
		Dims:       []tensortile.Dim{{Count: 4, Stride: 128}, {Count: 8, Stride: 64 * 512}, {Count: 64, Stride: 512}, {Count: 32, Stride: 1}},
	}, rowMajor[1])

	pColMajor, _ := buildFor(t, func(cfg *tiling.Config) { cfg.BColMajor = true })
	colMajor := BTiles(pColMajor)
	require.Len(t, colMajor, 4)
	assert.Equal(t, tensortile.Tile{
		TensorDims: [2]int{512, 512},
		Offset:     64 * 512,
		Dims:       []tensortile.Dim{{Count: 2, Stride: 4 * 64 * 512}, {Count: 16, Stride: 32}, {Count: 64, Stride: 512}, {Count: 32, Stride: 1}},
	}, colMajor[1])
}

func TestVerify(t *testing.T) {
	transfer := func(id int) *Transfer {
		return &Transfer{Channel: "A_L3L2_0", ID: id, Shim: dataflow.Shim(0), Operand: OperandA}
	}
	wait := &Wait{Channels: []string{"C_L2L3_0"}, Shims: []dataflow.Tile{dataflow.Shim(0)}}

	ok := &Schedule{Ops: []Op{transfer(1), transfer(3), wait, transfer(1), wait}}
	assert.NoError(t, ok.Verify())

	reused := &Schedule{Ops: []Op{transfer(1), transfer(1), wait}}
	err := reused.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reused without a wait")

	outOfPool := &Schedule{Ops: []Op{transfer(NumDescriptors), wait}}
	assert.ErrorContains(t, outOfPool.Verify(), "outside of the pool")

	noFinalWait := &Schedule{Ops: []Op{transfer(0)}}
	assert.ErrorContains(t, noFinalWait.Verify(), "doesn't end with a wait")

	// Same id on different shims is fine.
	other := transfer(1)
	other.Shim = dataflow.Shim(1)
	assert.NoError(t, (&Schedule{Ops: []Op{transfer(1), other, wait}}).Verify())

	// A wait on the output of shim 0 doesn't free the descriptors of shim 1.
	err = (&Schedule{Ops: []Op{other, wait, other, wait}}).Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reused without a wait")

	// Without explicit shims, waited channels are resolved from the transfers issued on them.
	drain := func(col int) *Transfer {
		return &Transfer{Channel: dataflow.CL2L3Name(col), ID: 0, Shim: dataflow.Shim(col), Operand: OperandC}
	}
	waitOn := func(col int) *Wait { return &Wait{Channels: []string{dataflow.CL2L3Name(col)}} }
	assert.NoError(t, (&Schedule{Ops: []Op{drain(1), other, waitOn(1), other, waitOn(1)}}).Verify())
	err = (&Schedule{Ops: []Op{drain(0), drain(1), other, waitOn(0), other, waitOn(1)}}).Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reused without a wait")
}

func TestBuild_WaitShims(t *testing.T) {
	_, sched := buildFor(t, func(cfg *tiling.Config) { cfg.Cols = 2 })
	wait := sched.Ops[len(sched.Ops)-1].(*Wait)
	assert.Equal(t, []string{"C_L2L3_0", "C_L2L3_1"}, wait.Channels)
	assert.Equal(t, []dataflow.Tile{dataflow.Shim(0), dataflow.Shim(1)}, wait.Shims)
}
