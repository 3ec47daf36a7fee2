// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensortile

import (
	"github.com/gomlx/exceptions"
)

// StepOptions configures StepTiler. The zero value is the plain per-tile enumeration.
type StepOptions struct {
	// GroupRepeats is the number of tiles, in (height, width), transferred together in one Tile.
	// Zero values are taken as 1.
	GroupRepeats [2]int

	// GroupSteps is the distance, in tiles, between consecutive tiles of a group, in (height, width).
	// A step of c in the width makes a group take every c-th tile, so c groups interleave.
	// Zero values are taken as 1.
	GroupSteps [2]int

	// GroupColMajor enumerates the tiles of a group column by column: a whole column of tiles is
	// accessed before moving to the next column.
	GroupColMajor bool

	// IterColMajor enumerates the groups column by column.
	IterColMajor bool

	// AllowPartial accepts tensors whose number of tiles isn't a multiple of a group span: the
	// last groups of a dimension are clipped.
	AllowPartial bool

	// PatternRepeat re-sends the data of each group this many times. Zero is taken as 1.
	PatternRepeat int
}

// SimpleTiler enumerates the tileDims tiles of the tensor, in row-major order, one Tile per tile.
func SimpleTiler(tensorDims, tileDims [2]int) Sequence {
	return StepTiler(tensorDims, tileDims, StepOptions{})
}

// GroupTiler enumerates groups of groupDims contiguous tiles (each tile of tileDims elements),
// in row-major order. Each group is one Tile, whose data is repeated `repeat` times: it models
// re-sending the same operand data to be consumed again.
func GroupTiler(tensorDims, tileDims, groupDims [2]int, repeat int) Sequence {
	return StepTiler(tensorDims, tileDims, StepOptions{GroupRepeats: groupDims, PatternRepeat: repeat})
}

// axisGroup is the first tile index and number of tiles of a group along one axis.
type axisGroup struct {
	first, count int
}

// planAxis splits numTiles tiles along one axis into groups of `repeat` tiles, `step` tiles apart.
//
// Groups are enumerated span by span (a span covers repeat*step tiles), and within a span by
// their first tile: so group g of a span starts at tile g, and `step` groups interleave.
func planAxis(axisName string, numTiles, repeat, step int, allowPartial bool) []axisGroup {
	span := repeat * step
	if !allowPartial && numTiles%span != 0 {
		exceptions.Panicf("tensor %s has %d tiles, which can't be split in groups of %d tiles with step %d without partial groups",
			axisName, numTiles, repeat, step)
	}
	numSpans := (numTiles + span - 1) / span
	groups := make([]axisGroup, 0, numSpans*step)
	for spanIdx := range numSpans {
		for lane := range step {
			first := spanIdx*span + lane
			if first >= numTiles {
				break
			}
			count := min(repeat, (numTiles-first+step-1)/step)
			groups = append(groups, axisGroup{first: first, count: count})
		}
	}
	return groups
}

// StepTiler enumerates groups of tiles of a row-major tensor, where the tiles of a group are
// not necessarily contiguous: see StepOptions.
//
// Each group becomes one Tile with the dimensions (outer-to-inner):
// [group height, group width, tile height, tile width], the first two swapped if GroupColMajor,
// plus an outer stride-0 dimension if PatternRepeat > 1 (merged with the outermost dimension if
// that one has a count of 1).
//
// It panics if the tensor isn't divisible in tiles, or (without AllowPartial) in groups.
func StepTiler(tensorDims, tileDims [2]int, opts StepOptions) Sequence {
	repeats := normalizePair(opts.GroupRepeats)
	steps := normalizePair(opts.GroupSteps)
	patternRepeat := max(opts.PatternRepeat, 1)
	for axis, name := range []string{"height", "width"} {
		if tensorDims[axis] <= 0 || tileDims[axis] <= 0 {
			exceptions.Panicf("StepTiler: tensor dims %v and tile dims %v must be positive", tensorDims, tileDims)
		}
		if tensorDims[axis]%tileDims[axis] != 0 {
			exceptions.Panicf("StepTiler: tensor %s (%d) is not divisible by the tile %s (%d)",
				name, tensorDims[axis], name, tileDims[axis])
		}
		if repeats[axis] < 0 || steps[axis] < 0 || opts.PatternRepeat < 0 {
			exceptions.Panicf("StepTiler: group repeats %v, steps %v and pattern repeat %d must not be negative",
				opts.GroupRepeats, opts.GroupSteps, opts.PatternRepeat)
		}
	}

	tensorWidth := tensorDims[1]
	tileHeight, tileWidth := tileDims[0], tileDims[1]
	heightGroups := planAxis("height", tensorDims[0]/tileHeight, repeats[0], steps[0], opts.AllowPartial)
	widthGroups := planAxis("width", tensorDims[1]/tileWidth, repeats[1], steps[1], opts.AllowPartial)

	makeTile := func(hg, wg axisGroup) Tile {
		heightDim := Dim{Count: hg.count, Stride: steps[0] * tileHeight * tensorWidth}
		widthDim := Dim{Count: wg.count, Stride: steps[1] * tileWidth}
		dims := make([]Dim, 0, 5)
		if opts.GroupColMajor {
			dims = append(dims, widthDim, heightDim)
		} else {
			dims = append(dims, heightDim, widthDim)
		}
		dims = append(dims, Dim{Count: tileHeight, Stride: tensorWidth}, Dim{Count: tileWidth, Stride: 1})
		if patternRepeat > 1 {
			if dims[0].Count == 1 {
				dims[0] = Dim{Count: patternRepeat, Stride: 0}
			} else {
				dims = append([]Dim{{Count: patternRepeat, Stride: 0}}, dims...)
			}
		}
		return Tile{
			TensorDims: tensorDims,
			Offset:     hg.first*tileHeight*tensorWidth + wg.first*tileWidth,
			Dims:       dims,
		}
	}

	seq := make(Sequence, 0, len(heightGroups)*len(widthGroups))
	if opts.IterColMajor {
		for _, wg := range widthGroups {
			for _, hg := range heightGroups {
				seq = append(seq, makeTile(hg, wg))
			}
		}
	} else {
		for _, hg := range heightGroups {
			for _, wg := range widthGroups {
				seq = append(seq, makeTile(hg, wg))
			}
		}
	}
	return seq
}

func normalizePair(pair [2]int) [2]int {
	for ii, v := range pair {
		if v == 0 {
			pair[ii] = 1
		}
	}
	return pair
}
