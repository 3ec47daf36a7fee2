// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"strings"

	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/tensortile"
)

// Operand identifies the matrix of a transfer.
type Operand int

const (
	// OperandA is the left-hand side input, [M, K].
	OperandA Operand = iota

	// OperandB is the right-hand side input, [K, N].
	OperandB

	// OperandC is the output, [M, N].
	OperandC
)

// String implements fmt.Stringer.
func (o Operand) String() string {
	switch o {
	case OperandA:
		return "A"
	case OperandB:
		return "B"
	case OperandC:
		return "C"
	default:
		return fmt.Sprintf("Operand(%d)", int(o))
	}
}

// Op is either a *Transfer or a *Wait.
type Op interface {
	fmt.Stringer
	isOp()
}

// Transfer programs a buffer descriptor of a shim tile to move the Tile of the operand between
// external memory and the channel.
type Transfer struct {
	Channel string
	ID      int
	Shim    dataflow.Tile
	Operand Operand
	Tile    tensortile.Tile
}

// Wait blocks until all the transfers issued on the channels have completed, which frees their
// descriptors for reuse.
type Wait struct {
	Channels []string

	// Shims draining the Channels, in the same order.
	Shims []dataflow.Tile
}

func (*Transfer) isOp() {}
func (*Wait) isOp()     {}

func (t *Transfer) String() string {
	return fmt.Sprintf("transfer %s %s id=%d via %s: %s", t.Operand, t.Channel, t.ID, t.Shim, t.Tile)
}

func (w *Wait) String() string {
	return fmt.Sprintf("wait [%s]", strings.Join(w.Channels, ", "))
}

// Direction of a runtime argument.
type Direction int

const (
	// In arguments are read by the array.
	In Direction = iota

	// Out arguments are written by the array.
	Out
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Argument is a flat tensor argument of the runtime sequence.
type Argument struct {
	Name      string
	Shape     shapes.Shape
	Direction Direction
}

// String implements fmt.Stringer.
func (a Argument) String() string {
	return fmt.Sprintf("%s %s: %s", a.Direction, a.Name, a.Shape)
}
