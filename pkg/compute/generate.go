// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/tiling"
	"k8s.io/klog/v2"
)

// Kernel is the declaration of an external kernel, implemented in the object file linked with
// the tasks.
type Kernel struct {
	Name string

	// Args are the shapes of the buffers passed to the kernel.
	Args []shapes.Shape
}

// Kernels returns the declarations of the two external kernels: the one that zero-fills an
// output tile and the multiply-accumulate one.
func Kernels(p *tiling.Params) []Kernel {
	buffers := dataflow.MatmulBufferShapes(p)
	return []Kernel{
		{Name: p.ZeroKernelName(), Args: []shapes.Shape{buffers.CL1}},
		{Name: p.MatMulKernelName(), Args: []shapes.Shape{buffers.AL1, buffers.BL1, buffers.CL1}},
	}
}

// Generate returns the task of every core of the grid, ordered by row and then column.
//
// The channels referenced by the tasks must exist in the graph g, and be consumed (or produced)
// by the task's core: otherwise it panics.
func Generate(p *tiling.Params, g *dataflow.Graph) []*Task {
	rows, cols := p.Grid.Rows, p.Grid.Cols
	tasks := make([]*Task, 0, p.Grid.NumCores())
	for row := range rows {
		for col := range cols {
			tile := dataflow.Core(row, col)
			aName := dataflow.AL2L1Name(row)
			bName := dataflow.BL2L1Name(col)
			cName := dataflow.CL1L2Name(col, row)
			checkPort(g, tile, aName, Consume)
			checkPort(g, tile, bName, Consume)
			checkPort(g, tile, cName, Produce)
			tasks = append(tasks, &Task{
				Tile:       tile,
				Row:        row,
				Col:        col,
				ObjectFile: p.ObjectFileName(),
				Body:       []Statement{&Loop{Kind: Forever, Body: []Statement{tilesLoop(p, aName, bName, cName)}}},
			})
		}
	}
	klog.V(1).Infof("compute: generated %d tasks, %d output tiles per core, %d k-steps per tile",
		len(tasks), p.TilesPerCore, p.KTiles)
	return tasks
}

// tilesLoop computes TilesPerCore output tiles, each accumulating KTiles products.
func tilesLoop(p *tiling.Params, aName, bName, cName string) *Loop {
	kLoop := &Loop{
		Kind:  Counted,
		Count: p.KTiles,
		Body: []Statement{
			&Acquire{Channel: aName, Port: Consume, Count: 1},
			&Acquire{Channel: bName, Port: Consume, Count: 1},
			&Call{Kernel: p.MatMulKernelName(), Args: []string{aName, bName, cName}},
			&Release{Channel: aName, Port: Consume, Count: 1},
			&Release{Channel: bName, Port: Consume, Count: 1},
		},
	}
	loop := &Loop{Kind: Counted, Count: p.TilesPerCore}
	if p.TilesPerCore == 1 {
		loop = &Loop{Kind: Once}
	}
	loop.Body = []Statement{
		&Acquire{Channel: cName, Port: Produce, Count: 1},
		&Call{Kernel: p.ZeroKernelName(), Args: []string{cName}},
		kLoop,
		&Release{Channel: cName, Port: Produce, Count: 1},
	}
	return loop
}

func checkPort(g *dataflow.Graph, tile dataflow.Tile, name string, port Port) {
	c := g.MustChannel(name)
	switch port {
	case Consume:
		if !slices.Contains(c.Consumers, tile) {
			exceptions.Panicf("compute: %s is not a consumer of channel %s", tile, c)
		}
	case Produce:
		if c.Producer != tile {
			exceptions.Panicf("compute: %s is not the producer of channel %s", tile, c)
		}
	}
}
