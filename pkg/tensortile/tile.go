// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensortile describes rectangular regions of a row-major matrix as data-movement
// access patterns, and generates the ordered sequences of such patterns used to feed the array.
//
// A Tile is a base offset plus a list of (count, stride) dimensions, outer-to-inner, all in
// elements. It is exactly what a transfer descriptor needs: the element size is implicit
// (it comes from the buffer being transferred).
//
// The generators (SimpleTiler, GroupTiler and StepTiler) are pure functions of their inputs:
// two calls with the same arguments return equal sequences, in the same order.
package tensortile

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Dim is one dimension of an access pattern: Count steps separated by Stride elements.
type Dim struct {
	Count  int `json:"count"`
	Stride int `json:"stride"`
}

// Tile is an access pattern over a matrix of shape TensorDims (rows, cols), stored in row-major order.
//
// The elements accessed are, in order, Offset + sum(i_d * Dims[d].Stride) for every combination of
// 0 <= i_d < Dims[d].Count, with the last dimension changing fastest.
type Tile struct {
	TensorDims [2]int `json:"tensor_dims"`
	Offset     int    `json:"offset"`
	Dims       []Dim  `json:"dims"`
}

// Sizes returns the counts of each dimension, outer-to-inner.
func (t Tile) Sizes() []int {
	sizes := make([]int, len(t.Dims))
	for ii, dim := range t.Dims {
		sizes[ii] = dim.Count
	}
	return sizes
}

// Strides returns the strides of each dimension, outer-to-inner.
func (t Tile) Strides() []int {
	strides := make([]int, len(t.Dims))
	for ii, dim := range t.Dims {
		strides[ii] = dim.Stride
	}
	return strides
}

// Volume is the number of elements accessed, counting repeated accesses.
func (t Tile) Volume() int {
	if len(t.Dims) == 0 {
		return 0
	}
	volume := 1
	for _, dim := range t.Dims {
		volume *= dim.Count
	}
	return volume
}

// Equal returns whether both tiles describe the same access pattern over the same tensor.
func (t Tile) Equal(other Tile) bool {
	return t.TensorDims == other.TensorDims && t.Offset == other.Offset && slices.Equal(t.Dims, other.Dims)
}

// String implements fmt.Stringer.
func (t Tile) String() string {
	return fmt.Sprintf("Tile(offset=%d, sizes=%v, strides=%v)", t.Offset, t.Sizes(), t.Strides())
}

// Offsets iterates over the element offsets accessed by the tile, in access order.
// It yields the access counter and the element offset.
func (t Tile) Offsets() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		rank := len(t.Dims)
		if t.Volume() == 0 {
			return
		}
		indices := make([]int, rank)
		offset := t.Offset
		counter := 0
	yielder:
		for {
			if !yield(counter, offset) {
				return
			}
			counter++

			// Increment the indices like an N-dimensional counter, last axis first.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				offset += t.Dims[axis].Stride
				if indices[axis] < t.Dims[axis].Count {
					continue yielder
				}
				// Carry over to the next outer axis.
				offset -= indices[axis] * t.Dims[axis].Stride
				indices[axis] = 0
			}
			return
		}
	}
}

// Sequence is an ordered list of tiles, typically the transfers of one operand.
type Sequence []Tile

// Equal returns whether both sequences have equal tiles, in the same order.
func (s Sequence) Equal(other Sequence) bool {
	return slices.EqualFunc(s, other, Tile.Equal)
}

// Volume returns the total number of element accesses of the sequence.
func (s Sequence) Volume() (volume int) {
	for _, t := range s {
		volume += t.Volume()
	}
	return
}

// String implements fmt.Stringer, one tile per line.
func (s Sequence) String() string {
	var sb strings.Builder
	for ii, t := range s {
		_, _ = fmt.Fprintf(&sb, "#%d: %s\n", ii, t)
	}
	return sb.String()
}

// AccessMaps returns, for every element of the tensor (row-major), the order of its last access
// (-1 if it is never accessed) and the number of times it is accessed by the whole sequence.
//
// The sequence must not be empty, and all tiles must address the same tensor.
func (s Sequence) AccessMaps() (order, count []int) {
	if len(s) == 0 {
		return nil, nil
	}
	dims := s[0].TensorDims
	size := dims[0] * dims[1]
	order = make([]int, size)
	for ii := range order {
		order[ii] = -1
	}
	count = make([]int, size)
	var accessIdx int
	for _, t := range s {
		if t.TensorDims != dims {
			exceptions.Panicf("AccessMaps: tile %s addresses tensor %v, expected %v", t, t.TensorDims, dims)
		}
		for _, offset := range t.Offsets() {
			order[offset] = accessIdx
			count[offset]++
			accessIdx++
		}
	}
	return
}
