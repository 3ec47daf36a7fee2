// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/design"
	"github.com/gomlx/wholearray/pkg/schedule"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			s = s.Align(alignment)
			return
		})
}

func itoa(v int) string { return humanize.Comma(int64(v)) }

func reportSummary(d *design.Design) {
	p := d.Params
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("device", p.Grid.Device())
	table.Row("problem", p.Problem.String())
	table.Row("element types", fmt.Sprintf("%s -> %s", p.InName, p.OutName))
	table.Row("microkernel", fmt.Sprintf("%s (r=%d, s=%d, t=%d)", p.MatMulKernelName(),
		p.Granularity.R, p.Granularity.S, p.Granularity.T))
	table.Row("B layout", map[bool]string{false: "row-major", true: "column-major"}[p.BColMajor])
	table.Row("cores", fmt.Sprintf("%d (%s)", p.Grid.NumCores(), p.Grid))
	table.Row("tiles per core", itoa(p.TilesPerCore))
	table.Row("A tiles per shim", itoa(p.ATilesPerShim))
	table.Row("row groups", itoa(p.RowGroups))
	table.Row("k steps per tile", itoa(p.KTiles))
	table.Row("channel depth", itoa(p.Depth))
	if p.TraceSize > 0 {
		table.Row("trace size", humanize.Bytes(uint64(p.TraceSize)))
	}
	table.Row("runtime ops", fmt.Sprintf("%s transfers, %s waits",
		itoa(len(d.Schedule.Ops)-d.Schedule.NumWaits()), itoa(d.Schedule.NumWaits())))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Memory"))
	table = newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Tile", "Buffers", "Bytes")
	memTile := dataflow.Mem(0)
	coreTile := dataflow.Core(0, 0)
	for _, tile := range []dataflow.Tile{memTile, coreTile} {
		var names []string
		for _, c := range d.Graph.ChannelsAt(tile) {
			names = append(names, c.Name)
		}
		table.Row(tile.String(), strings.Join(names, ", "), humanize.Bytes(uint64(d.Graph.BufferBytes(tile))))
	}
	fmt.Println(table.Render())
}

func reportChannels(d *design.Design) {
	fmt.Println(titleStyle.Render("Channels"))
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Name", "Producer", "Consumers", "Depth", "Buffer")
	for _, c := range d.Graph.Channels() {
		consumers := make([]string, len(c.Consumers))
		for ii, tile := range c.Consumers {
			consumers[ii] = tile.String()
		}
		table.Row(c.Name, c.Producer.String(), strings.Join(consumers, " "), strconv.Itoa(c.Depth), c.Shape.String())
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Links"))
	table = newPlainTable()
	table.Headers("Kind", "Via", "Sources", "Destinations", "Offsets")
	for _, l := range d.Graph.Links() {
		offsets := l.DestinationOffsets
		if l.Kind == dataflow.Join {
			offsets = l.SourceOffsets
		}
		var offsetsStr string
		if len(offsets) > 0 {
			offsetsStr = fmt.Sprint(offsets)
		}
		table.Row(l.Kind.String(), l.Via.String(), strings.Join(l.Sources, " "), strings.Join(l.Destinations, " "), offsetsStr)
	}
	fmt.Println(table.Render())
}

func reportSchedule(d *design.Design) {
	fmt.Println(titleStyle.Render("Runtime sequence"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Headers("#", "Op", "Channel", "Id", "Offset", "Sizes", "Strides")
	for ii, op := range d.Schedule.Ops {
		switch op := op.(type) {
		case *schedule.Transfer:
			table.Row(strconv.Itoa(ii), "transfer "+op.Operand.String(), op.Channel, strconv.Itoa(op.ID),
				itoa(op.Tile.Offset), fmt.Sprint(op.Tile.Sizes()), fmt.Sprint(op.Tile.Strides()))
		case *schedule.Wait:
			table.Row(strconv.Itoa(ii), "wait", strings.Join(op.Channels, " "), "", "", "", "")
		}
	}
	fmt.Println(table.Render())
}
