// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataflow

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGrid = tiling.GridTopology{Rows: 4, Cols: 2}

func TestTile(t *testing.T) {
	assert.Equal(t, "shim(1,0)", Shim(1).String())
	assert.Equal(t, "mem(1,1)", Mem(1).String())
	core := Core(3, 1)
	assert.Equal(t, "core(1,5)", core.String())
	assert.Equal(t, 3, core.ComputeRow())
	assert.True(t, core.inGrid(testGrid))
	assert.False(t, Core(4, 0).inGrid(testGrid))
	assert.False(t, Shim(2).inGrid(testGrid))
}

func TestGraph_AddChannel(t *testing.T) {
	g := New(testGrid)
	c := g.AddChannel(&Channel{
		Name: "in", Producer: Shim(0), Consumers: []Tile{Mem(0)},
		Depth: 2, Shape: shapes.Make(dtypes.Int8, 128),
	})
	assert.Same(t, c, g.Channel("in"))
	assert.Same(t, c, g.MustChannel("in"))
	assert.Nil(t, g.Channel("out"))
	assert.False(t, c.IsBroadcast())
	assert.Panics(t, func() { g.MustChannel("out") })

	// Duplicate name.
	assert.Panics(t, func() {
		g.AddChannel(&Channel{Name: "in", Producer: Shim(1), Consumers: []Tile{Mem(1)}, Depth: 1, Shape: shapes.Make(dtypes.Int8, 8)})
	})
	// Tile outside the grid.
	assert.Panics(t, func() {
		g.AddChannel(&Channel{Name: "far", Producer: Shim(5), Consumers: []Tile{Mem(0)}, Depth: 1, Shape: shapes.Make(dtypes.Int8, 8)})
	})
	// Invalid depth.
	assert.Panics(t, func() {
		g.AddChannel(&Channel{Name: "shallow", Producer: Shim(0), Consumers: []Tile{Mem(0)}, Shape: shapes.Make(dtypes.Int8, 8)})
	})
	// No consumers.
	assert.Panics(t, func() {
		g.AddChannel(&Channel{Name: "lonely", Producer: Shim(0), Depth: 1, Shape: shapes.Make(dtypes.Int8, 8)})
	})
	// Pattern doesn't divide the buffer.
	assert.Panics(t, func() {
		g.AddChannel(&Channel{
			Name: "odd", Producer: Mem(0), Consumers: []Tile{Core(0, 0)}, Depth: 1,
			Shape:   shapes.Make(dtypes.Int8, 4, 4),
			Pattern: []tensortile.Dim{{Count: 3, Stride: 1}},
		})
	})
	// Pattern that repeats over the buffer is fine.
	g.AddChannel(&Channel{
		Name: "repeat", Producer: Mem(0), Consumers: []Tile{Core(0, 0), Core(0, 1)}, Depth: 1,
		Shape:   shapes.Make(dtypes.Int8, 4, 4),
		Pattern: []tensortile.Dim{{Count: 2, Stride: 4}, {Count: 4, Stride: 1}},
	})
	assert.True(t, g.MustChannel("repeat").IsBroadcast())
	assert.Len(t, g.Channels(), 2)
}

func TestGraph_Link(t *testing.T) {
	g := New(testGrid)
	shape := shapes.Make(dtypes.Int8, 16)
	in := g.AddChannel(&Channel{Name: "in", Producer: Shim(0), Consumers: []Tile{Mem(0)}, Depth: 2, Shape: shape})
	out0 := g.AddChannel(&Channel{Name: "out0", Producer: Mem(0), Consumers: []Tile{Core(0, 0)}, Depth: 2, Shape: shape})
	out1 := g.AddChannel(&Channel{Name: "out1", Producer: Mem(0), Consumers: []Tile{Core(1, 0)}, Depth: 2, Shape: shape})
	other := g.AddChannel(&Channel{Name: "other", Producer: Mem(1), Consumers: []Tile{Core(0, 1)}, Depth: 2, Shape: shape})

	link := g.Link([]*Channel{in}, []*Channel{out0, out1}, nil, []int{0, 8})
	assert.Equal(t, Distribute, link.Kind)
	assert.Equal(t, Mem(0), link.Via)
	assert.Equal(t, []string{"out0", "out1"}, link.Destinations)
	assert.Equal(t, []int{0, 8}, link.DestinationOffsets)
	assert.Equal(t, "distribute@mem(0,1): [in] -> [out0, out1], destination offsets=[0 8]", link.String())

	forward := g.Link([]*Channel{in}, []*Channel{out0}, nil, nil)
	assert.Equal(t, Forward, forward.Kind)
	require.Len(t, g.Links(), 2)

	// Wrong number of offsets.
	assert.Panics(t, func() { g.Link([]*Channel{in}, []*Channel{out0, out1}, nil, []int{0}) })
	// Offsets on the wrong side.
	assert.Panics(t, func() { g.Link([]*Channel{in}, []*Channel{out0, out1}, []int{0}, nil) })
	// Destinations at different tiles.
	assert.Panics(t, func() { g.Link([]*Channel{in}, []*Channel{out0, other}, nil, nil) })
	// Source not consumed at the link tile.
	assert.Panics(t, func() { g.Link([]*Channel{out0}, []*Channel{other}, nil, nil) })
	// Many to many.
	assert.Panics(t, func() { g.Link([]*Channel{in, in}, []*Channel{out0, out1}, nil, nil) })
	// Channel not in the graph.
	stray := &Channel{Name: "stray", Producer: Mem(0), Consumers: []Tile{Core(2, 0)}, Depth: 2, Shape: shape}
	assert.Panics(t, func() { g.Link([]*Channel{in}, []*Channel{stray}, nil, nil) })

	assert.Equal(t, []*Channel{in, out0, out1}, g.ChannelsAt(Mem(0)))
	assert.Equal(t, []*Channel{out0}, g.ChannelsAt(Core(0, 0)))
	assert.Contains(t, g.String(), "link distribute@mem(0,1)")
}
