// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compute generates the program run by each core tile of the array: a loop nest that
// acquires buffers from the dataflow channels, calls the external kernels on them and releases
// them.
//
// The cores run forever, since the runtime has no way to signal termination: the outermost loop
// of every task is a Forever loop. Loops with a single iteration are modeled explicitly with
// the Once kind, which the emitter must render as a single-iteration loop rather than fold
// away, since that changes the task structure observed by the toolchain.
package compute

import (
	"fmt"
	"strings"

	"github.com/gomlx/wholearray/pkg/dataflow"
)

// LoopKind enumerates the kinds of loops in a task.
type LoopKind int

const (
	// Forever loops never terminate.
	Forever LoopKind = iota

	// Counted loops run Count iterations.
	Counted

	// Once loops run exactly one iteration.
	Once
)

// String implements fmt.Stringer.
func (k LoopKind) String() string {
	switch k {
	case Forever:
		return "forever"
	case Counted:
		return "counted"
	case Once:
		return "once"
	default:
		return fmt.Sprintf("LoopKind(%d)", int(k))
	}
}

// Port is the side of a channel a task uses.
type Port int

const (
	// Consume is the side of the channel's consumers.
	Consume Port = iota

	// Produce is the side of the channel's producer.
	Produce
)

// String implements fmt.Stringer.
func (p Port) String() string {
	if p == Produce {
		return "produce"
	}
	return "consume"
}

// Statement is one of *Acquire, *Release, *Call or *Loop.
type Statement interface {
	fmt.Stringer
	isStatement()
}

// Acquire blocks until Count buffers of the channel are available on the port.
type Acquire struct {
	Channel string
	Port    Port
	Count   int
}

// Release returns Count buffers of the channel to the port.
type Release struct {
	Channel string
	Port    Port
	Count   int
}

// Call invokes an external kernel on the buffers last acquired from the Args channels.
type Call struct {
	Kernel string
	Args   []string
}

// Loop repeats Body according to its Kind. Count is only used by Counted loops.
type Loop struct {
	Kind  LoopKind
	Count int
	Body  []Statement
}

func (*Acquire) isStatement() {}
func (*Release) isStatement() {}
func (*Call) isStatement()    {}
func (*Loop) isStatement()    {}

func (s *Acquire) String() string {
	return fmt.Sprintf("acquire(%s, %s, %d)", s.Channel, s.Port, s.Count)
}

func (s *Release) String() string {
	return fmt.Sprintf("release(%s, %s, %d)", s.Channel, s.Port, s.Count)
}

func (s *Call) String() string {
	return fmt.Sprintf("call %s(%s)", s.Kernel, strings.Join(s.Args, ", "))
}

func (s *Loop) String() string {
	if s.Kind == Counted {
		return fmt.Sprintf("loop %d times", s.Count)
	}
	return "loop " + s.Kind.String()
}

// Iterations returns the number of iterations of the loop, or -1 for Forever loops.
func (s *Loop) Iterations() int {
	switch s.Kind {
	case Forever:
		return -1
	case Once:
		return 1
	default:
		return s.Count
	}
}

// Task is the program of one core tile.
type Task struct {
	Tile     dataflow.Tile
	Row, Col int

	// ObjectFile holds the kernels called by the task.
	ObjectFile string

	Body []Statement
}

// Walk calls fn for every statement of the task in program order, depth first.
//
// The multiplier passed to fn is the number of times the statement runs per iteration of the
// enclosing Forever loops.
func (t *Task) Walk(fn func(stmt Statement, multiplier int)) {
	walkStatements(t.Body, 1, fn)
}

func walkStatements(stmts []Statement, multiplier int, fn func(Statement, int)) {
	for _, stmt := range stmts {
		fn(stmt, multiplier)
		if loop, ok := stmt.(*Loop); ok {
			inner := multiplier
			if n := loop.Iterations(); n >= 0 {
				inner *= n
			}
			walkStatements(loop.Body, inner, fn)
		}
	}
}

// AcquireCounts returns the number of buffers acquired from each channel per iteration of the
// outermost Forever loop.
func (t *Task) AcquireCounts() map[string]int {
	counts := make(map[string]int)
	t.Walk(func(stmt Statement, multiplier int) {
		if acquire, ok := stmt.(*Acquire); ok {
			counts[acquire.Channel] += acquire.Count * multiplier
		}
	})
	return counts
}

// ReleaseCounts is like AcquireCounts for releases.
func (t *Task) ReleaseCounts() map[string]int {
	counts := make(map[string]int)
	t.Walk(func(stmt Statement, multiplier int) {
		if release, ok := stmt.(*Release); ok {
			counts[release.Channel] += release.Count * multiplier
		}
	})
	return counts
}

// String returns the task as an indented listing.
func (t *Task) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "task %s (row=%d, col=%d, link_with=%s)\n", t.Tile, t.Row, t.Col, t.ObjectFile)
	writeStatements(&sb, t.Body, 1)
	return sb.String()
}

func writeStatements(sb *strings.Builder, stmts []Statement, indent int) {
	for _, stmt := range stmts {
		_, _ = fmt.Fprintf(sb, "%s%s\n", strings.Repeat("  ", indent), stmt)
		if loop, ok := stmt.(*Loop); ok {
			writeStatements(sb, loop.Body, indent+1)
		}
	}
}
