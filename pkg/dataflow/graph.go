// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataflow models the static data-movement graph of the array: named channels between
// tiles (nodes) and the links binding channels across a shared memory tile (edges).
//
// A channel has one producer tile and one or more consumer tiles: more than one consumer is a
// broadcast. A link binds upstream channel(s) to downstream channel(s) through the shared memory
// tile they have in common: one upstream and many downstream channels distribute slices of the
// upstream buffer (at the given offsets), many upstream and one downstream channels join slices
// into the downstream buffer.
//
// # Error Handling
//
// Like graph building in GoMLX, building a Graph panics on errors (with exceptions.Panicf or
// with a *tiling.ConfigurationError), since they are only possible due to invalid configurations
// or bugs. The design package converts those panics to errors at the API boundary.
package dataflow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/wholearray/pkg/core/shapes"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
)

// TileKind enumerates the kinds of tiles of the array.
type TileKind int

const (
	// ShimTile is the external memory (L3) endpoint of a column.
	ShimTile TileKind = iota

	// MemTile is the shared memory (L2) tile of a column.
	MemTile

	// CoreTile is a compute tile with its local memory (L1).
	CoreTile
)

// String implements fmt.Stringer.
func (k TileKind) String() string {
	switch k {
	case ShimTile:
		return "shim"
	case MemTile:
		return "mem"
	case CoreTile:
		return "core"
	default:
		return fmt.Sprintf("TileKind(%d)", int(k))
	}
}

// FirstCoreRow is the physical row of the first row of compute tiles: row 0 holds the
// shim tiles and row 1 the mem tiles.
const FirstCoreRow = 2

// Tile is an addressable tile of the array, in physical (Col, Row) coordinates.
type Tile struct {
	Kind     TileKind
	Col, Row int
}

// Shim returns the external memory endpoint of the column.
func Shim(col int) Tile { return Tile{Kind: ShimTile, Col: col, Row: 0} }

// Mem returns the shared memory tile of the column.
func Mem(col int) Tile { return Tile{Kind: MemTile, Col: col, Row: 1} }

// Core returns the compute tile at the given compute row (0-based, not the physical row) and column.
func Core(row, col int) Tile { return Tile{Kind: CoreTile, Col: col, Row: FirstCoreRow + row} }

// ComputeRow returns the 0-based compute row of a core tile.
func (t Tile) ComputeRow() int { return t.Row - FirstCoreRow }

// String implements fmt.Stringer.
func (t Tile) String() string {
	return fmt.Sprintf("%s(%d,%d)", t.Kind, t.Col, t.Row)
}

// inGrid returns whether the tile exists in the grid.
func (t Tile) inGrid(grid tiling.GridTopology) bool {
	if t.Col < 0 || t.Col >= grid.Cols {
		return false
	}
	switch t.Kind {
	case ShimTile:
		return t.Row == 0
	case MemTile:
		return t.Row == 1
	case CoreTile:
		return t.Row >= FirstCoreRow && t.Row < FirstCoreRow+grid.Rows
	}
	return false
}

// Channel is a depth-bounded, typed data-movement path from a producer tile to one or more
// consumer tiles. It is never changed after being added to a Graph.
type Channel struct {
	Name      string
	Producer  Tile
	Consumers []Tile

	// Depth is the number of buffers of the channel: 2 for double-buffering.
	Depth int

	// Shape of each buffer.
	Shape shapes.Shape

	// Pattern overrides the access pattern (outer-to-inner) used to read the producer's buffer
	// into the consumers' buffers. Nil means a contiguous copy. The pattern is repeated if its
	// volume is a fraction of the buffer.
	Pattern []tensortile.Dim
}

// IsBroadcast returns whether the channel has more than one consumer.
func (c *Channel) IsBroadcast() bool { return len(c.Consumers) > 1 }

// String implements fmt.Stringer.
func (c *Channel) String() string {
	consumers := make([]string, len(c.Consumers))
	for ii, tile := range c.Consumers {
		consumers[ii] = tile.String()
	}
	s := fmt.Sprintf("%s: %s -> [%s], depth=%d, buffer=%s", c.Name, c.Producer, strings.Join(consumers, ", "),
		c.Depth, c.Shape)
	if c.Pattern != nil {
		s += fmt.Sprintf(", pattern=%v", c.Pattern)
	}
	return s
}

// LinkKind enumerates the link semantics.
type LinkKind int

const (
	// Forward links one upstream channel to one downstream channel.
	Forward LinkKind = iota

	// Distribute links one upstream channel to many downstream channels, each receiving a slice.
	Distribute

	// Join links many upstream channels to one downstream channel, each contributing a slice.
	Join
)

// String implements fmt.Stringer.
func (k LinkKind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Distribute:
		return "distribute"
	case Join:
		return "join"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// Link binds upstream channels to downstream channels through their common shared memory tile.
//
// Offsets are in elements of the shared buffer: SourceOffsets for a Join (one per source),
// DestinationOffsets for a Distribute (one per destination). They may be empty when there
// is nothing to slice.
type Link struct {
	Kind               LinkKind
	Via                Tile
	Sources            []string
	Destinations       []string
	SourceOffsets      []int
	DestinationOffsets []int
}

// String implements fmt.Stringer.
func (l *Link) String() string {
	s := fmt.Sprintf("%s@%s: [%s] -> [%s]", l.Kind, l.Via, strings.Join(l.Sources, ", "), strings.Join(l.Destinations, ", "))
	if len(l.SourceOffsets) > 0 {
		s += fmt.Sprintf(", source offsets=%v", l.SourceOffsets)
	}
	if len(l.DestinationOffsets) > 0 {
		s += fmt.Sprintf(", destination offsets=%v", l.DestinationOffsets)
	}
	return s
}

// Graph of channels (nodes) and links (edges) over a grid of tiles.
type Graph struct {
	Grid tiling.GridTopology

	channels []*Channel
	byName   map[string]*Channel
	links    []*Link
}

// New returns an empty Graph for the grid.
func New(grid tiling.GridTopology) *Graph {
	return &Graph{Grid: grid, byName: make(map[string]*Channel)}
}

// AddChannel adds a new channel to the graph and returns it.
//
// It panics if the name is already used, if any of its tiles is outside the grid, or if its
// depth or shape are invalid.
func (g *Graph) AddChannel(c *Channel) *Channel {
	if c.Name == "" {
		exceptions.Panicf("dataflow: channel must have a name")
	}
	if _, found := g.byName[c.Name]; found {
		exceptions.Panicf("dataflow: channel %q already defined", c.Name)
	}
	if c.Depth < 1 {
		exceptions.Panicf("dataflow: channel %q has invalid depth %d", c.Name, c.Depth)
	}
	if !c.Shape.Ok() {
		exceptions.Panicf("dataflow: channel %q has invalid buffer shape %s", c.Name, c.Shape)
	}
	if len(c.Consumers) == 0 {
		exceptions.Panicf("dataflow: channel %q has no consumers", c.Name)
	}
	for _, tile := range append([]Tile{c.Producer}, c.Consumers...) {
		if !tile.inGrid(g.Grid) {
			exceptions.Panicf("dataflow: channel %q uses tile %s outside of the %s grid", c.Name, tile, g.Grid)
		}
	}
	if c.Pattern != nil {
		// The pattern is re-applied until the buffer is exhausted.
		volume := tensortile.Tile{Dims: c.Pattern}.Volume()
		if volume == 0 || c.Shape.Size()%volume != 0 {
			exceptions.Panicf("dataflow: channel %q access pattern %v covers %d elements, which doesn't divide its buffer %s",
				c.Name, c.Pattern, volume, c.Shape)
		}
	}
	g.channels = append(g.channels, c)
	g.byName[c.Name] = c
	return c
}

// Channel returns the channel with the given name, or nil if there is none.
func (g *Graph) Channel(name string) *Channel {
	return g.byName[name]
}

// MustChannel returns the channel with the given name, and panics if there is none.
func (g *Graph) MustChannel(name string) *Channel {
	c := g.byName[name]
	if c == nil {
		exceptions.Panicf("dataflow: unknown channel %q", name)
	}
	return c
}

// Channels returns the channels in the order they were added. The returned slice must not be changed.
func (g *Graph) Channels() []*Channel { return g.channels }

// Links returns the links in the order they were added. The returned slice must not be changed.
func (g *Graph) Links() []*Link { return g.links }

// Link binds the sources channels to the destinations channels, through the tile that consumes
// the sources and produces the destinations.
//
// Either sources or destinations must have exactly one channel. Offsets are optional (nil), but if
// given there must be one per channel of the "many" side.
func (g *Graph) Link(sources, destinations []*Channel, sourceOffsets, destinationOffsets []int) *Link {
	if len(sources) == 0 || len(destinations) == 0 {
		exceptions.Panicf("dataflow: link requires at least one source and one destination")
	}
	if len(sources) > 1 && len(destinations) > 1 {
		exceptions.Panicf("dataflow: link can't have multiple sources (%d) and destinations (%d)",
			len(sources), len(destinations))
	}
	link := &Link{Kind: Forward}
	switch {
	case len(sources) > 1:
		link.Kind = Join
	case len(destinations) > 1:
		link.Kind = Distribute
	}
	if len(sourceOffsets) > 0 && (link.Kind != Join || len(sourceOffsets) != len(sources)) {
		exceptions.Panicf("dataflow: %s link with %d sources given %d source offsets", link.Kind, len(sources), len(sourceOffsets))
	}
	if len(destinationOffsets) > 0 && (link.Kind != Distribute || len(destinationOffsets) != len(destinations)) {
		exceptions.Panicf("dataflow: %s link with %d destinations given %d destination offsets",
			link.Kind, len(destinations), len(destinationOffsets))
	}

	// All channels must meet at the same tile.
	link.Via = destinations[0].Producer
	for _, c := range destinations {
		if g.byName[c.Name] != c {
			exceptions.Panicf("dataflow: link destination %q is not part of the graph", c.Name)
		}
		if c.Producer != link.Via {
			exceptions.Panicf("dataflow: link destinations are produced by different tiles (%s and %s)", link.Via, c.Producer)
		}
		link.Destinations = append(link.Destinations, c.Name)
	}
	for _, c := range sources {
		if g.byName[c.Name] != c {
			exceptions.Panicf("dataflow: link source %q is not part of the graph", c.Name)
		}
		if len(c.Consumers) != 1 || c.Consumers[0] != link.Via {
			exceptions.Panicf("dataflow: link source %q must be consumed only by %s, got %v", c.Name, link.Via, c.Consumers)
		}
		link.Sources = append(link.Sources, c.Name)
	}
	link.SourceOffsets = slices.Clone(sourceOffsets)
	link.DestinationOffsets = slices.Clone(destinationOffsets)
	g.links = append(g.links, link)
	return link
}

// ChannelsAt returns the channels that have the tile as producer or as one of its consumers,
// in the order they were added.
func (g *Graph) ChannelsAt(tile Tile) []*Channel {
	var channels []*Channel
	for _, c := range g.channels {
		if c.Producer == tile || slices.Contains(c.Consumers, tile) {
			channels = append(channels, c)
		}
	}
	return channels
}

// BufferBytes returns the memory allocated on the tile for the channel buffers.
//
// Core tiles hold Depth buffers of every channel they produce or consume. The channels linked at a
// mem tile share their buffers there, so only the ones coming from or going to a shim tile are
// counted. Shim tiles hold no buffers.
func (g *Graph) BufferBytes(tile Tile) int {
	var total int
	for _, c := range g.ChannelsAt(tile) {
		switch tile.Kind {
		case CoreTile:
			total += c.Depth * c.Shape.Memory()
		case MemTile:
			if c.Producer.Kind == ShimTile || slices.ContainsFunc(c.Consumers, func(t Tile) bool { return t.Kind == ShimTile }) {
				total += c.Depth * c.Shape.Memory()
			}
		}
	}
	return total
}

// String implements fmt.Stringer: a listing of channels and links.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %s: %d channels, %d links\n", g.Grid, len(g.channels), len(g.links))
	for _, c := range g.channels {
		_, _ = fmt.Fprintf(&sb, "  channel %s\n", c)
	}
	for _, l := range g.links {
		_, _ = fmt.Fprintf(&sb, "  link %s\n", l)
	}
	return sb.String()
}
