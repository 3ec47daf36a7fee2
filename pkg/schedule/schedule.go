// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package schedule generates the runtime sequence of the design: the ordered transfers between
// external memory and the array, programmed on the shim tiles' buffer descriptors, and the waits
// that free the descriptors for reuse.
//
// Only 16 descriptors are available per shim tile, so the output is transferred in blocks of
// BlockRows row groups, split in two halves (ping and pong) using disjoint descriptor ids. After
// each half but the first, the scheduler waits for the output transfers in flight, so the
// descriptors of the other half can be reused.
package schedule

import (
	"fmt"
	"strings"

	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// BlockRows is the number of row groups transferred between two waits.
	BlockRows = 4

	// HalfBlockRows is the number of row groups of each (ping or pong) half of a block.
	HalfBlockRows = BlockRows / 2

	// DescriptorsPerHalf is the number of descriptor ids reserved for each half of a block.
	DescriptorsPerHalf = 8

	// NumDescriptors is the size of the descriptor id pool of a shim tile.
	NumDescriptors = 2 * DescriptorsPerHalf
)

// State of the scheduler.
type State int

const (
	// Idle is the state before any transfer is issued.
	Idle State = iota

	// PingEmitted follows the issuing of the transfers of the first half of a block.
	PingEmitted

	// PongEmitted follows the issuing of the transfers of the second half of a block.
	PongEmitted

	// AwaitingCompletion follows a wait on the output transfers.
	AwaitingCompletion

	// Drained follows the final wait: all transfers completed.
	Drained
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case PingEmitted:
		return "PingEmitted"
	case PongEmitted:
		return "PongEmitted"
	case AwaitingCompletion:
		return "AwaitingCompletion"
	case Drained:
		return "Drained"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Schedule is the runtime sequence of the design.
type Schedule struct {
	// Args of the runtime sequence: A and B in, C out, flattened.
	Args []Argument

	// Ops in program order.
	Ops []Op

	// A, B, C are the tiles transferred for each operand, in the order they are issued.
	A, B, C tensortile.Sequence

	// States visited by the scheduler, starting with Idle and ending with Drained.
	States []State
}

// scheduler holds the state of Build.
type scheduler struct {
	p     *tiling.Params
	g     *dataflow.Graph
	sched *Schedule
	state State

	aTiles, bTiles, cTiles tensortile.Sequence
	waitChannels           []string
	waitShims              []dataflow.Tile
}

// ATiles returns the sequence of A tiles that transfers index into: one group of
// (m * ATilesPerShim, k) tiles spanning K, re-sent once per output tile column handled by a shim.
func ATiles(p *tiling.Params) tensortile.Sequence {
	ps := p.Problem
	return tensortile.GroupTiler(
		[2]int{ps.M, ps.K},
		[2]int{ps.TileM * p.ATilesPerShim, ps.TileK},
		[2]int{1, p.KTiles},
		p.ColTilesPerShim)
}

// BTiles returns the sequence of B tiles, one per shim column: every Cols-th n-wide column
// of B, with row-major B sent column by column.
func BTiles(p *tiling.Params) tensortile.Sequence {
	ps := p.Problem
	cols := p.Grid.Cols
	if p.BColMajor {
		return tensortile.StepTiler([2]int{ps.K, ps.N}, [2]int{ps.TileK, ps.TileN}, tensortile.StepOptions{
			GroupRepeats: [2]int{p.KTiles / cols, ps.N / ps.TileN},
			GroupSteps:   [2]int{cols, 1},
		})
	}
	return tensortile.StepTiler([2]int{ps.K, ps.N}, [2]int{ps.TileK, ps.TileN}, tensortile.StepOptions{
		GroupRepeats:  [2]int{p.KTiles, p.ColTilesPerShim},
		GroupSteps:    [2]int{1, cols},
		GroupColMajor: true,
	})
}

// CTiles returns the sequence of C tiles: blocks of HalfBlockRows (m * Rows)-high row groups,
// of every Cols-th n-wide column. The last block is clipped if the number of row groups is odd.
func CTiles(p *tiling.Params) tensortile.Sequence {
	ps := p.Problem
	return tensortile.StepTiler([2]int{ps.M, ps.N}, [2]int{ps.TileM * p.Grid.Rows, ps.TileN}, tensortile.StepOptions{
		GroupRepeats: [2]int{HalfBlockRows, p.ColTilesPerShim},
		GroupSteps:   [2]int{1, p.Grid.Cols},
		AllowPartial: true,
	})
}

// Build generates the runtime sequence for the tiling parameters, on the channels of the graph g.
//
// It panics if g is missing any of the shim channels.
func Build(p *tiling.Params, g *dataflow.Graph) *Schedule {
	ps := p.Problem
	s := &scheduler{
		p: p,
		g: g,
		sched: &Schedule{
			Args: []Argument{
				{Name: "A", Shape: shapes.Make(p.InType, ps.M*ps.K), Direction: In},
				{Name: "B", Shape: shapes.Make(p.InType, ps.K*ps.N), Direction: In},
				{Name: "C", Shape: shapes.Make(p.OutType, ps.M*ps.N), Direction: Out},
			},
		},
		aTiles: ATiles(p),
		bTiles: BTiles(p),
		cTiles: CTiles(p),
	}
	for col := range p.Grid.Cols {
		c := g.MustChannel(dataflow.CL2L3Name(col))
		s.waitChannels = append(s.waitChannels, c.Name)
		s.waitShims = append(s.waitShims, c.Consumers[0])
	}
	s.transition(Idle)
	s.run()
	klog.V(1).Infof("schedule: %d ops (%d A, %d B, %d C transfers)",
		len(s.sched.Ops), len(s.sched.A), len(s.sched.B), len(s.sched.C))
	return s.sched
}

func (s *scheduler) transition(state State) {
	if len(s.sched.States) > 0 {
		klog.V(2).Infof("schedule: %s -> %s", s.state, state)
	}
	s.state = state
	s.sched.States = append(s.sched.States, state)
}

func (s *scheduler) run() {
	rowGroups := s.p.RowGroups
	numBlocks := (rowGroups + BlockRows - 1) / BlockRows
	cIndex := 0
	for block := range numBlocks {
		for half := range 2 {
			if cIndex >= len(s.cTiles) {
				// The last block may have no pong half.
				break
			}
			rowBase := block*BlockRows + half*HalfBlockRows
			numRows := min(HalfBlockRows, rowGroups-rowBase)
			s.emitHalf(half, rowBase, numRows, &cIndex)
			if half == 0 {
				s.transition(PingEmitted)
			} else {
				s.transition(PongEmitted)
			}
			if block > 0 || half > 0 {
				s.wait()
			}
		}
	}
	s.wait()
	s.transition(Drained)
}

// emitHalf issues the transfers of one half of a block: for each column, the C tile drained
// by its shim, then for each row group the A and B tiles it consumes.
func (s *scheduler) emitHalf(half, rowBase, numRows int, cIndex *int) {
	p := s.p
	cols := p.Grid.Cols
	idBase := DescriptorsPerHalf * half
	for col := range cols {
		s.transfer(dataflow.CL2L3Name(col), idBase, OperandC, s.cTiles[*cIndex])
		*cIndex++
		for row := range numRows {
			// Indices past the end wrap around and re-send the first A tiles.
			aIndex := ((rowBase+row)*cols + col) % len(s.aTiles)
			s.transfer(dataflow.AL3L2Name(col), idBase+2*row+1, OperandA, s.aTiles[aIndex])
			s.transfer(dataflow.BL3L2Name(col), idBase+2*row+2, OperandB, s.bTiles[col])
		}
	}
}

func (s *scheduler) transfer(channelName string, id int, operand Operand, tile tensortile.Tile) {
	c := s.g.MustChannel(channelName)
	shim := c.Producer
	if operand == OperandC {
		shim = c.Consumers[0]
	}
	s.sched.Ops = append(s.sched.Ops, &Transfer{Channel: c.Name, ID: id, Shim: shim, Operand: operand, Tile: tile})
	switch operand {
	case OperandA:
		s.sched.A = append(s.sched.A, tile)
	case OperandB:
		s.sched.B = append(s.sched.B, tile)
	case OperandC:
		s.sched.C = append(s.sched.C, tile)
	}
}

func (s *scheduler) wait() {
	s.sched.Ops = append(s.sched.Ops, &Wait{Channels: s.waitChannels, Shims: s.waitShims})
	s.transition(AwaitingCompletion)
}

// Transfers returns the transfers of the operand, in program order.
func (sched *Schedule) Transfers(operand Operand) []*Transfer {
	var transfers []*Transfer
	for _, op := range sched.Ops {
		if t, ok := op.(*Transfer); ok && t.Operand == operand {
			transfers = append(transfers, t)
		}
	}
	return transfers
}

// NumWaits returns the number of waits in the schedule.
func (sched *Schedule) NumWaits() int {
	var count int
	for _, op := range sched.Ops {
		if _, ok := op.(*Wait); ok {
			count++
		}
	}
	return count
}

// Verify checks the descriptor discipline of the schedule: ids are within the pool of each shim
// tile, and an id is only reused on a shim tile after a wait on an output channel drained by that
// shim. It also checks that the schedule ends with a wait.
func (sched *Schedule) Verify() error {
	type descriptor struct {
		shim dataflow.Tile
		id   int
	}
	inUse := make(map[descriptor]*Transfer)
	channelShims := make(map[string]dataflow.Tile)
	for ii, op := range sched.Ops {
		switch op := op.(type) {
		case *Transfer:
			if op.ID < 0 || op.ID >= NumDescriptors {
				return errors.Errorf("op #%d (%s): descriptor id outside of the pool [0, %d)", ii, op, NumDescriptors)
			}
			key := descriptor{shim: op.Shim, id: op.ID}
			if previous, found := inUse[key]; found {
				return errors.Errorf("op #%d (%s): descriptor id %d of %s reused without a wait since %s",
					ii, op, op.ID, op.Shim, previous)
			}
			inUse[key] = op
			channelShims[op.Channel] = op.Shim
		case *Wait:
			// Only the shims draining the waited channels have completed their transfers.
			for idx, name := range op.Channels {
				shim, found := channelShims[name]
				if idx < len(op.Shims) {
					shim, found = op.Shims[idx], true
				}
				if !found {
					continue
				}
				for key := range inUse {
					if key.shim == shim {
						delete(inUse, key)
					}
				}
			}
		}
	}
	if len(sched.Ops) == 0 {
		return nil
	}
	if _, ok := sched.Ops[len(sched.Ops)-1].(*Wait); !ok {
		return errors.New("schedule doesn't end with a wait")
	}
	return nil
}

// String returns the schedule as a listing of its ops.
func (sched *Schedule) String() string {
	var sb strings.Builder
	args := make([]string, len(sched.Args))
	for ii, arg := range sched.Args {
		args[ii] = arg.String()
	}
	_, _ = fmt.Fprintf(&sb, "sequence(%s)\n", strings.Join(args, ", "))
	for _, op := range sched.Ops {
		_, _ = fmt.Fprintf(&sb, "  %s\n", op)
	}
	return sb.String()
}
