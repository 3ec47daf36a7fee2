// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataflow

import (
	"fmt"
	"slices"

	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"k8s.io/klog/v2"
)

// AL3L2Name is the name of the channel moving A from the shim to the mem tile of column col.
func AL3L2Name(col int) string { return fmt.Sprintf("A_L3L2_%d", col) }

// AL2L1Name is the name of the channel broadcasting A to all cores of the compute row.
func AL2L1Name(row int) string { return fmt.Sprintf("A_L2L1_%d", row) }

// BL3L2Name is the name of the channel moving B from the shim to the mem tile of column col.
func BL3L2Name(col int) string { return fmt.Sprintf("B_L3L2_%d", col) }

// BL2L1Name is the name of the channel broadcasting B to all cores of column col.
func BL2L1Name(col int) string { return fmt.Sprintf("B_L2L1_%d", col) }

// CL1L2Name is the name of the channel moving C from the core at (row, col) to the mem tile.
func CL1L2Name(col, row int) string { return fmt.Sprintf("C_L1L2_%d_%d", col, row) }

// CL2L3Name is the name of the channel draining C from the mem tile of column col to its shim.
func CL2L3Name(col int) string { return fmt.Sprintf("C_L2L3_%d", col) }

// BufferShapes holds the shapes of the buffers of the matrix multiplication channels.
type BufferShapes struct {
	AL2, BL2, CL2 shapes.Shape
	AL1, BL1, CL1 shapes.Shape
}

// MatmulBufferShapes returns the shapes of the buffers for the tiling parameters: flat in the
// shared memory tier, 2D in the local memories.
func MatmulBufferShapes(p *tiling.Params) BufferShapes {
	ps := p.Problem
	m, k, n := ps.TileM, ps.TileK, ps.TileN
	return BufferShapes{
		AL2: shapes.Make(p.InType, m*k*p.ATilesPerShim),
		BL2: shapes.Make(p.InType, k*n),
		CL2: shapes.Make(p.OutType, m*n*p.Grid.Rows),
		AL1: shapes.Make(p.InType, m, k),
		BL1: shapes.Make(p.InType, k, n),
		CL1: shapes.Make(p.OutType, m, n),
	}
}

// APattern re-expresses a contiguous (m, k) tile of A in the (r, s) sub-tile order the microkernel expects.
func APattern(p *tiling.Params) []tensortile.Dim {
	m, k := p.Problem.TileM, p.Problem.TileK
	r, s := p.Granularity.R, p.Granularity.S
	return []tensortile.Dim{{Count: m / r, Stride: r * k}, {Count: k / s, Stride: s}, {Count: r, Stride: k}, {Count: s, Stride: 1}}
}

// BPattern re-expresses a (k, n) tile of B in the (s, t) sub-tile order the microkernel expects,
// for row-major or column-major B.
func BPattern(p *tiling.Params) []tensortile.Dim {
	k, n := p.Problem.TileK, p.Problem.TileN
	s, t := p.Granularity.S, p.Granularity.T
	if p.BColMajor {
		return []tensortile.Dim{{Count: n / t, Stride: t * k}, {Count: k / s, Stride: s}, {Count: t, Stride: k}, {Count: s, Stride: 1}}
	}
	return []tensortile.Dim{{Count: k / s, Stride: s * n}, {Count: n / t, Stride: t}, {Count: s, Stride: n}, {Count: t, Stride: 1}}
}

// CPattern converts the (r, t) sub-tile layout of the microkernel output back to a row-major (m, n) tile.
func CPattern(p *tiling.Params) []tensortile.Dim {
	m, n := p.Problem.TileM, p.Problem.TileN
	r, t := p.Granularity.R, p.Granularity.T
	return []tensortile.Dim{{Count: m / r, Stride: r * n}, {Count: r, Stride: t}, {Count: n / t, Stride: r * t}, {Count: t, Stride: 1}}
}

// Build constructs the data-movement graph of the matrix multiplication:
//
//   - A: one shim->mem channel per column, distributed over ATilesPerShim rows; each row's
//     channel broadcasts (m, k) tiles to all the cores of the row.
//   - B: one shim->mem channel per column, forwarded to a channel broadcasting (k, n) tiles to
//     all the cores of the column.
//   - C: each core's (m, n) output joins, per column, into one mem->shim channel.
//
// It panics with a *tiling.ConfigurationError if the resulting graph doesn't match the grid.
func Build(p *tiling.Params) *Graph {
	g := New(p.Grid)
	rows, cols := p.Grid.Rows, p.Grid.Cols
	depth := p.Depth
	buffers := MatmulBufferShapes(p)
	m, k, n := p.Problem.TileM, p.Problem.TileK, p.Problem.TileN

	// Input A.
	aL2L1 := make([]*Channel, rows)
	for row := range rows {
		aL2L1[row] = g.AddChannel(&Channel{
			Name:      AL2L1Name(row),
			Producer:  Mem(row / p.ATilesPerShim),
			Consumers: rowOfCores(row, cols),
			Depth:     depth,
			Shape:     buffers.AL1,
			Pattern:   APattern(p),
		})
	}
	for col := range cols {
		aL3L2 := g.AddChannel(&Channel{
			Name:      AL3L2Name(col),
			Producer:  Shim(col),
			Consumers: []Tile{Mem(col)},
			Depth:     depth,
			Shape:     buffers.AL2,
		})
		// With as many columns as rows this is a direct forward (col == row). Otherwise, each
		// column feeds ATilesPerShim rows, each receiving its slice of the mem tile buffer.
		startRow := col * p.ATilesPerShim
		endRow := startRow + p.ATilesPerShim
		var offsets []int
		if p.ATilesPerShim > 1 {
			offsets = make([]int, p.ATilesPerShim)
			for ii := range offsets {
				offsets[ii] = m * k * ii
			}
		}
		g.Link([]*Channel{aL3L2}, aL2L1[startRow:endRow], nil, offsets)
	}

	// Input B.
	for col := range cols {
		bL3L2 := g.AddChannel(&Channel{
			Name:      BL3L2Name(col),
			Producer:  Shim(col),
			Consumers: []Tile{Mem(col)},
			Depth:     depth,
			Shape:     buffers.BL2,
		})
		bL2L1 := g.AddChannel(&Channel{
			Name:      BL2L1Name(col),
			Producer:  Mem(col),
			Consumers: columnOfCores(col, rows),
			Depth:     depth,
			Shape:     buffers.BL1,
			Pattern:   BPattern(p),
		})
		g.Link([]*Channel{bL3L2}, []*Channel{bL2L1}, nil, nil)
	}

	// Output C.
	for col := range cols {
		cL1L2 := make([]*Channel, rows)
		for row := range rows {
			cL1L2[row] = g.AddChannel(&Channel{
				Name:      CL1L2Name(col, row),
				Producer:  Core(row, col),
				Consumers: []Tile{Mem(col)},
				Depth:     depth,
				Shape:     buffers.CL1,
			})
		}
		cL2L3 := g.AddChannel(&Channel{
			Name:      CL2L3Name(col),
			Producer:  Mem(col),
			Consumers: []Tile{Shim(col)},
			Depth:     depth,
			Shape:     buffers.CL2,
			Pattern:   CPattern(p),
		})
		var offsets []int
		if rows > 1 {
			offsets = make([]int, rows)
			for ii := range offsets {
				offsets[ii] = m * n * ii
			}
		}
		g.Link(cL1L2, []*Channel{cL2L3}, offsets, nil)
	}

	ValidateMatmul(g, p)
	klog.V(1).Infof("dataflow: built graph with %d channels and %d links for %s grid",
		len(g.Channels()), len(g.Links()), p.Grid)
	return g
}

func rowOfCores(row, cols int) []Tile {
	tiles := make([]Tile, cols)
	for col := range cols {
		tiles[col] = Core(row, col)
	}
	return tiles
}

func columnOfCores(col, rows int) []Tile {
	tiles := make([]Tile, rows)
	for row := range rows {
		tiles[row] = Core(row, col)
	}
	return tiles
}

// ValidateMatmul checks the broadcast, distribute and join arities of a matrix multiplication
// graph against the grid, and panics with a *tiling.ConfigurationError on the first mismatch.
func ValidateMatmul(g *Graph, p *tiling.Params) {
	rows, cols := p.Grid.Rows, p.Grid.Cols
	if g.Grid != p.Grid {
		panic(tiling.Errorf("graph grid %s doesn't match the configured grid %s", g.Grid, p.Grid))
	}
	mustChannel := func(name string) *Channel {
		c := g.Channel(name)
		if c == nil {
			panic(tiling.Errorf("graph is missing channel %q", name))
		}
		return c
	}

	for row := range rows {
		c := mustChannel(AL2L1Name(row))
		if len(c.Consumers) != cols {
			panic(tiling.Errorf("%s must broadcast to the %d columns, got %d consumers", c.Name, cols, len(c.Consumers)))
		}
		for _, tile := range c.Consumers {
			if tile.Kind != CoreTile || tile.ComputeRow() != row {
				panic(tiling.Errorf("%s must broadcast along compute row %d, got consumer %s", c.Name, row, tile))
			}
		}
	}
	for col := range cols {
		c := mustChannel(BL2L1Name(col))
		if len(c.Consumers) != rows {
			panic(tiling.Errorf("%s must broadcast to the %d rows, got %d consumers", c.Name, rows, len(c.Consumers)))
		}
		for _, tile := range c.Consumers {
			if tile.Kind != CoreTile || tile.Col != col {
				panic(tiling.Errorf("%s must broadcast along column %d, got consumer %s", c.Name, col, tile))
			}
		}
	}

	for _, link := range g.Links() {
		switch {
		case slices.Contains(link.Destinations, CL2L3Name(link.Via.Col)):
			if len(link.Sources) != rows {
				panic(tiling.Errorf("join into %s must have %d sources, got %d", link.Destinations[0], rows, len(link.Sources)))
			}
		case slices.Contains(link.Sources, AL3L2Name(link.Via.Col)):
			if len(link.Destinations) != p.ATilesPerShim {
				panic(tiling.Errorf("%s must feed %d rows, got %d", link.Sources[0], p.ATilesPerShim, len(link.Destinations)))
			}
		}
	}
	for col := range cols {
		mustChannel(AL3L2Name(col))
		mustChannel(BL3L2Name(col))
		mustChannel(CL2L3Name(col))
		for row := range rows {
			mustChannel(CL1L2Name(col, row))
		}
	}
}
