// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling validates a matrix multiplication problem against the array and the
// microkernel constraints, and derives the tile counts used by every other stage of the
// generator.
//
// The global problem is C[M, N] = A[M, K] x B[K, N], computed by a grid of NumRows x Cols
// cores, each one working on (m, k) x (k, n) -> (m, n) tiles:
//
//   - A is split in (m * NumRows, k) blocks: broadcast across the columns, distributed across the rows.
//   - B is split in (k, n * Cols) blocks: broadcast across the rows, distributed across the columns.
//   - C is joined per column, (m * NumRows, n) at a time.
//
// Derive is a pure function: it returns an immutable Params or a *ConfigurationError naming the
// first violated constraint.
package tiling

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// Granularity is the microkernel granularity (r, s, t): m, k and n must be multiples of R, S and T
// respectively. It depends on the input element type.
type Granularity struct {
	R, S, T int
}

// granularities of the microkernel MAC instructions, per input element type.
var granularities = map[string]Granularity{
	"bf16": {R: 4, S: 8, T: 4},
	"i8":   {R: 4, S: 8, T: 8},
	"i16":  {R: 4, S: 4, T: 4},
}

// ColumnMajorAlignment is the alignment required from m, k and n when B is column-major.
const ColumnMajorAlignment = 32

// ProblemShape holds the global (M, K, N) and per-tile (m, k, n) dimensions.
type ProblemShape struct {
	M, K, N             int
	TileM, TileK, TileN int
}

// String implements fmt.Stringer.
func (ps ProblemShape) String() string {
	return fmt.Sprintf("%dx%dx%d (tiles %dx%dx%d)", ps.M, ps.K, ps.N, ps.TileM, ps.TileK, ps.TileN)
}

// GridTopology of the array: Rows x Cols cores, plus one shared memory ("mem") tile and one
// external memory endpoint ("shim") per column.
type GridTopology struct {
	Rows, Cols int
}

// NumCores returns Rows * Cols.
func (g GridTopology) NumCores() int { return g.Rows * g.Cols }

// Device returns the name of the device variant for the number of columns used.
func (g GridTopology) Device() string {
	return fmt.Sprintf("npu1_%dcol", g.Cols)
}

// String implements fmt.Stringer.
func (g GridTopology) String() string {
	return fmt.Sprintf("%dx%d", g.Rows, g.Cols)
}

// Params is the validated and derived configuration consumed by the rest of the generator.
// It must not be modified after Derive returns it.
type Params struct {
	Problem     ProblemShape
	Grid        GridTopology
	Granularity Granularity

	// InType, OutType are the element types, and InName, OutName their configuration names.
	InType, OutType dtypes.DType
	InName, OutName string

	BColMajor bool
	Depth     int
	TraceSize int

	// GenerateTiles is passed through from the Config.
	GenerateTiles bool

	// TilesPerCore is the number of (m, n) output tiles computed by each core.
	TilesPerCore int

	// ATilesPerShim is the number of rows of cores fed by each shim column with A data.
	ATilesPerShim int

	// RowGroups is the number of (m * Rows)-high row blocks of A and C: M / m / Rows.
	RowGroups int

	// ColTilesPerShim is the number of n-wide columns of B and C handled by each column: N / n / Cols.
	ColTilesPerShim int

	// KTiles is the number of k-deep steps to compute one output tile: K / k.
	KTiles int
}

// ZeroKernelName returns the name of the external kernel that zero-fills an output tile.
func (p *Params) ZeroKernelName() string {
	return "zero_" + p.OutName
}

// MatMulKernelName returns the name of the external multiply-accumulate kernel.
func (p *Params) MatMulKernelName() string {
	name := fmt.Sprintf("matmul_%s_%s", p.InName, p.OutName)
	if p.BColMajor {
		name += "_b_col_maj"
	}
	return name
}

// ObjectFileName returns the name of the object file holding the kernels for the cores.
func (p *Params) ObjectFileName() string {
	ps := p.Problem
	return fmt.Sprintf("mm_%dx%dx%d.o", ps.TileM, ps.TileK, ps.TileN)
}

// Derive validates cfg and derives the tiling parameters.
//
// It returns a *ConfigurationError describing the first violated constraint.
func Derive(cfg Config) (*Params, error) {
	if !isValidCols(cfg.Cols) {
		return nil, Errorf("number of columns (%d) must be one of %v", cfg.Cols, ValidCols)
	}
	for _, dim := range []struct {
		name  string
		value int
	}{{"M", cfg.M}, {"K", cfg.K}, {"N", cfg.N}, {"m", cfg.TileM}, {"k", cfg.TileK}, {"n", cfg.TileN}} {
		if dim.value <= 0 {
			return nil, Errorf("dimension %s (%d) must be > 0", dim.name, dim.value)
		}
	}
	if cfg.Depth != 1 && cfg.Depth != 2 {
		return nil, Errorf("channel depth (%d) must be 1 or 2", cfg.Depth)
	}

	// Element types.
	gran, found := granularities[cfg.InType]
	if !found {
		return nil, Errorf("input element type %q must be one of %v", cfg.InType, InputElementTypes)
	}
	inType := ElementTypes[cfg.InType]
	outType, found := ElementTypes[cfg.OutType]
	if !found {
		return nil, Errorf("unknown output element type %q", cfg.OutType)
	}
	if inType.IsFloat() != outType.IsFloat() {
		return nil, Errorf("input element type (%s) and output element type (%s) must either both be integral or both be float",
			cfg.InType, cfg.OutType)
	}
	if outType.Size() < inType.Size() {
		return nil, Errorf("output element type (%s) must be equal or larger than input element type (%s)",
			cfg.OutType, cfg.InType)
	}

	// Divisibility.
	rows, cols := NumRows, cfg.Cols
	if cfg.M%(cfg.TileM*rows) != 0 {
		return nil, Errorf("A must be tileable into (m * n_aie_rows, k)-sized blocks: M=%d %% (%d * %d) != 0",
			cfg.M, cfg.TileM, rows)
	}
	if cfg.K%cfg.TileK != 0 {
		return nil, Errorf("K (%d) must be divisible by k (%d)", cfg.K, cfg.TileK)
	}
	if cfg.N%(cfg.TileN*cols) != 0 {
		return nil, Errorf("B must be tileable into (k, n * n_aie_cols)-sized blocks: N=%d %% (%d * %d) != 0",
			cfg.N, cfg.TileN, cols)
	}
	if cfg.TileM%gran.R != 0 {
		return nil, Errorf("m (%d) must be a multiple of the %s microkernel granularity r=%d", cfg.TileM, cfg.InType, gran.R)
	}
	if cfg.TileK%gran.S != 0 {
		return nil, Errorf("k (%d) must be a multiple of the %s microkernel granularity s=%d", cfg.TileK, cfg.InType, gran.S)
	}
	if cfg.TileN%gran.T != 0 {
		return nil, Errorf("n (%d) must be a multiple of the %s microkernel granularity t=%d", cfg.TileN, cfg.InType, gran.T)
	}
	if cfg.BColMajor {
		for _, dim := range []struct {
			name  string
			value int
		}{{"m", cfg.TileM}, {"k", cfg.TileK}, {"n", cfg.TileN}} {
			if dim.value%ColumnMajorAlignment != 0 {
				return nil, Errorf("column-major B requires %s (%d) to be a multiple of %d",
					dim.name, dim.value, ColumnMajorAlignment)
			}
		}
		if (cfg.K/cfg.TileK)%cols != 0 {
			return nil, Errorf("column-major B requires K/k (%d) to be a multiple of the number of columns (%d)",
				cfg.K/cfg.TileK, cols)
		}
	}

	grid := GridTopology{Rows: rows, Cols: cols}
	numTiles := (cfg.M / cfg.TileM) * (cfg.N / cfg.TileN)
	if numTiles%grid.NumCores() != 0 || numTiles == 0 {
		return nil, Errorf("number of output tiles (%d) must be a positive multiple of the number of cores (%d)",
			numTiles, grid.NumCores())
	}
	if rows%cols != 0 {
		return nil, Errorf("number of rows (%d) must be a multiple of the number of columns (%d)", rows, cols)
	}

	p := &Params{
		Problem: ProblemShape{
			M: cfg.M, K: cfg.K, N: cfg.N,
			TileM: cfg.TileM, TileK: cfg.TileK, TileN: cfg.TileN,
		},
		Grid:            grid,
		Granularity:     gran,
		InType:          inType,
		OutType:         outType,
		InName:          cfg.InType,
		OutName:         cfg.OutType,
		BColMajor:       cfg.BColMajor,
		Depth:           cfg.Depth,
		TraceSize:       cfg.TraceSize,
		GenerateTiles:   cfg.GenerateTiles,
		TilesPerCore:    numTiles / grid.NumCores(),
		ATilesPerShim:   rows / cols,
		RowGroups:       cfg.M / cfg.TileM / rows,
		ColTilesPerShim: cfg.N / cfg.TileN / cols,
		KTiles:          cfg.K / cfg.TileK,
	}
	klog.V(1).Infof("tiling: problem %s on %s grid (%s): %d tiles per core, %d A tiles per shim, %d row groups",
		p.Problem, p.Grid, p.Grid.Device(), p.TilesPerCore, p.ATilesPerShim, p.RowGroups)
	return p, nil
}
