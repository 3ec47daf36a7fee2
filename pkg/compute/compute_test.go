// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"strings"
	"testing"

	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFor(t *testing.T, update func(cfg *tiling.Config)) (*tiling.Params, *dataflow.Graph) {
	cfg := tiling.DefaultConfig()
	if update != nil {
		update(&cfg)
	}
	p, err := tiling.Derive(cfg)
	require.NoError(t, err)
	return p, dataflow.Build(p)
}

func TestGenerate(t *testing.T) {
	p, g := buildFor(t, nil)
	tasks := Generate(p, g)
	require.Len(t, tasks, 16)
	for ii, task := range tasks {
		assert.Equal(t, ii/4, task.Row)
		assert.Equal(t, ii%4, task.Col)
		assert.Equal(t, dataflow.Core(task.Row, task.Col), task.Tile)
		assert.Equal(t, "mm_64x64x32.o", task.ObjectFile)
	}

	task := tasks[6] // row 1, col 2
	require.Len(t, task.Body, 1)
	forever := task.Body[0].(*Loop)
	assert.Equal(t, Forever, forever.Kind)
	assert.Equal(t, -1, forever.Iterations())
	tiles := forever.Body[0].(*Loop)
	assert.Equal(t, Counted, tiles.Kind)
	assert.Equal(t, 8, tiles.Count)
	require.Len(t, tiles.Body, 4)
	assert.Equal(t, &Acquire{Channel: "C_L1L2_2_1", Port: Produce, Count: 1}, tiles.Body[0])
	assert.Equal(t, &Call{Kernel: "zero_i16", Args: []string{"C_L1L2_2_1"}}, tiles.Body[1])
	kLoop := tiles.Body[2].(*Loop)
	assert.Equal(t, 8, kLoop.Iterations())
	assert.Equal(t, &Call{Kernel: "matmul_i16_i16", Args: []string{"A_L2L1_1", "B_L2L1_2", "C_L1L2_2_1"}}, kLoop.Body[2])
	assert.Equal(t, &Release{Channel: "C_L1L2_2_1", Port: Produce, Count: 1}, tiles.Body[3])

	// Every acquisition is matched by a release.
	want := map[string]int{"A_L2L1_1": 64, "B_L2L1_2": 64, "C_L1L2_2_1": 8}
	assert.Equal(t, want, task.AcquireCounts())
	assert.Equal(t, want, task.ReleaseCounts())
}

func TestGenerate_SingleTilePerCore(t *testing.T) {
	p, g := buildFor(t, func(cfg *tiling.Config) {
		cfg.M, cfg.K, cfg.N = 256, 64, 128
	})
	require.Equal(t, 1, p.TilesPerCore)
	tasks := Generate(p, g)
	tiles := tasks[0].Body[0].(*Loop).Body[0].(*Loop)
	assert.Equal(t, Once, tiles.Kind)
	assert.Equal(t, 1, tiles.Iterations())
	assert.Equal(t, map[string]int{"A_L2L1_0": 1, "B_L2L1_0": 1, "C_L1L2_0_0": 1}, tasks[0].AcquireCounts())
	assert.Contains(t, tasks[0].String(), "loop once")
}

func TestGenerate_MissingChannel(t *testing.T) {
	p, _ := buildFor(t, nil)
	assert.Panics(t, func() { Generate(p, dataflow.New(p.Grid)) })
}

func TestKernels(t *testing.T) {
	p, _ := buildFor(t, func(cfg *tiling.Config) {
		cfg.InType, cfg.OutType = "bf16", "f32"
		cfg.BColMajor = true
	})
	kernels := Kernels(p)
	require.Len(t, kernels, 2)
	assert.Equal(t, "zero_f32", kernels[0].Name)
	assert.Equal(t, "(Float32)[64 32]", kernels[0].Args[0].String())
	assert.Equal(t, "matmul_bf16_f32_b_col_maj", kernels[1].Name)
	require.Len(t, kernels[1].Args, 3)
	assert.Equal(t, []int{64, 64}, kernels[1].Args[0].Dimensions)
	assert.Equal(t, []int{64, 32}, kernels[1].Args[1].Dimensions)
}

func TestTask_String(t *testing.T) {
	p, g := buildFor(t, nil)
	listing := Generate(p, g)[0].String()
	lines := strings.Split(strings.TrimSpace(listing), "\n")
	assert.Equal(t, "task core(0,2) (row=0, col=0, link_with=mm_64x64x32.o)", lines[0])
	assert.Equal(t, "  loop forever", lines[1])
	assert.Equal(t, "    loop 8 times", lines[2])
	assert.Equal(t, "      acquire(C_L1L2_0_0, produce, 1)", lines[3])
	assert.Contains(t, listing, "        call matmul_i16_i16(A_L2L1_0, B_L2L1_0, C_L1L2_0_0)")
}
