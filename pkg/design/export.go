// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package design

import (
	"bytes"
	"io"

	"github.com/goccy/go-json"
	"github.com/gomlx/wholearray/pkg/compute"
	"github.com/gomlx/wholearray/pkg/schedule"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/pkg/errors"
)

// The exported JSON uses structs (not maps) everywhere, so the field order is fixed and the
// same design always serializes to the same bytes.

type jsonDesign struct {
	Device    string          `json:"device"`
	Config    tiling.Config   `json:"config"`
	Params    jsonParams      `json:"params"`
	Channels  []jsonChannel   `json:"channels"`
	Links     []jsonLink      `json:"links"`
	Kernels   []jsonKernel    `json:"kernels"`
	Tasks     []jsonTask      `json:"tasks"`
	Arguments []jsonArgument  `json:"arguments"`
	Sequence  []jsonOp        `json:"sequence"`
	Tiles     *jsonTileGroups `json:"tiles,omitempty"`
}

type jsonParams struct {
	TilesPerCore    int    `json:"tiles_per_core"`
	ATilesPerShim   int    `json:"a_tiles_per_shim"`
	RowGroups       int    `json:"row_groups"`
	ColTilesPerShim int    `json:"col_tiles_per_shim"`
	KTiles          int    `json:"k_tiles"`
	Granularity     [3]int `json:"granularity"`
	TraceSize       int    `json:"trace_size"`
	ObjectFile      string `json:"object_file"`
}

type jsonBuffer struct {
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dimensions"`
}

type jsonChannel struct {
	Name      string           `json:"name"`
	Producer  string           `json:"producer"`
	Consumers []string         `json:"consumers"`
	Depth     int              `json:"depth"`
	Buffer    jsonBuffer       `json:"buffer"`
	Pattern   []tensortile.Dim `json:"pattern,omitempty"`
}

type jsonLink struct {
	Kind               string   `json:"kind"`
	Via                string   `json:"via"`
	Sources            []string `json:"sources"`
	Destinations       []string `json:"destinations"`
	SourceOffsets      []int    `json:"source_offsets,omitempty"`
	DestinationOffsets []int    `json:"destination_offsets,omitempty"`
}

type jsonKernel struct {
	Name string       `json:"name"`
	Args []jsonBuffer `json:"args"`
}

type jsonTask struct {
	Tile       string          `json:"tile"`
	Row        int             `json:"row"`
	Col        int             `json:"col"`
	ObjectFile string          `json:"link_with"`
	Body       []jsonStatement `json:"body"`
}

type jsonStatement struct {
	Op      string          `json:"op"`
	Channel string          `json:"channel,omitempty"`
	Port    string          `json:"port,omitempty"`
	Count   int             `json:"count,omitempty"`
	Kernel  string          `json:"kernel,omitempty"`
	Args    []string        `json:"args,omitempty"`
	Loop    string          `json:"loop,omitempty"`
	Body    []jsonStatement `json:"body,omitempty"`
}

type jsonArgument struct {
	Name      string     `json:"name"`
	Direction string     `json:"direction"`
	Buffer    jsonBuffer `json:"buffer"`
}

type jsonOp struct {
	Op       string           `json:"op"`
	Channel  string           `json:"channel,omitempty"`
	ID       *int             `json:"id,omitempty"`
	Shim     string           `json:"shim,omitempty"`
	Operand  string           `json:"operand,omitempty"`
	Tile     *tensortile.Tile `json:"tile,omitempty"`
	Channels []string         `json:"channels,omitempty"`
}

type jsonTileGroups struct {
	A tensortile.Sequence `json:"A"`
	B tensortile.Sequence `json:"B"`
	C tensortile.Sequence `json:"C"`
}

// WriteJSON writes the design as indented JSON to w.
//
// The tensor tiles of the transfers are only included if the configuration asked for them
// (GenerateTiles), since they are redundant with the sequence.
func (d *Design) WriteJSON(w io.Writer) error {
	raw, err := json.Marshal(d.toJSON())
	if err != nil {
		return errors.Wrap(err, "failed to encode design to JSON")
	}
	var buf bytes.Buffer
	if err = json.Indent(&buf, raw, "", "  "); err != nil {
		return errors.Wrap(err, "failed to indent design JSON")
	}
	buf.WriteByte('\n')
	if _, err = buf.WriteTo(w); err != nil {
		return errors.Wrap(err, "failed to write design JSON")
	}
	return nil
}

func (d *Design) toJSON() *jsonDesign {
	p := d.Params
	jd := &jsonDesign{
		Device: p.Grid.Device(),
		Config: d.Config,
		Params: jsonParams{
			TilesPerCore:    p.TilesPerCore,
			ATilesPerShim:   p.ATilesPerShim,
			RowGroups:       p.RowGroups,
			ColTilesPerShim: p.ColTilesPerShim,
			KTiles:          p.KTiles,
			Granularity:     [3]int{p.Granularity.R, p.Granularity.S, p.Granularity.T},
			TraceSize:       p.TraceSize,
			ObjectFile:      p.ObjectFileName(),
		},
	}
	for _, c := range d.Graph.Channels() {
		jc := jsonChannel{
			Name:     c.Name,
			Producer: c.Producer.String(),
			Depth:    c.Depth,
			Buffer:   jsonBuffer{DType: tiling.ElementTypeName(c.Shape.DType), Dimensions: c.Shape.Dimensions},
			Pattern:  c.Pattern,
		}
		for _, tile := range c.Consumers {
			jc.Consumers = append(jc.Consumers, tile.String())
		}
		jd.Channels = append(jd.Channels, jc)
	}
	for _, l := range d.Graph.Links() {
		jd.Links = append(jd.Links, jsonLink{
			Kind:               l.Kind.String(),
			Via:                l.Via.String(),
			Sources:            l.Sources,
			Destinations:       l.Destinations,
			SourceOffsets:      l.SourceOffsets,
			DestinationOffsets: l.DestinationOffsets,
		})
	}
	for _, kernel := range d.Kernels {
		jk := jsonKernel{Name: kernel.Name}
		for _, arg := range kernel.Args {
			jk.Args = append(jk.Args, jsonBuffer{DType: tiling.ElementTypeName(arg.DType), Dimensions: arg.Dimensions})
		}
		jd.Kernels = append(jd.Kernels, jk)
	}
	for _, task := range d.Tasks {
		jd.Tasks = append(jd.Tasks, jsonTask{
			Tile:       task.Tile.String(),
			Row:        task.Row,
			Col:        task.Col,
			ObjectFile: task.ObjectFile,
			Body:       statementsToJSON(task.Body),
		})
	}
	for _, arg := range d.Schedule.Args {
		jd.Arguments = append(jd.Arguments, jsonArgument{
			Name:      arg.Name,
			Direction: arg.Direction.String(),
			Buffer:    jsonBuffer{DType: tiling.ElementTypeName(arg.Shape.DType), Dimensions: arg.Shape.Dimensions},
		})
	}
	for _, op := range d.Schedule.Ops {
		switch op := op.(type) {
		case *schedule.Transfer:
			tile, id := op.Tile, op.ID
			jd.Sequence = append(jd.Sequence, jsonOp{
				Op:      "transfer",
				Channel: op.Channel,
				ID:      &id,
				Shim:    op.Shim.String(),
				Operand: op.Operand.String(),
				Tile:    &tile,
			})
		case *schedule.Wait:
			jd.Sequence = append(jd.Sequence, jsonOp{Op: "wait", Channels: op.Channels})
		}
	}
	if p.GenerateTiles {
		a, b, c := d.Tiles()
		jd.Tiles = &jsonTileGroups{A: a, B: b, C: c}
	}
	return jd
}

func statementsToJSON(stmts []compute.Statement) []jsonStatement {
	js := make([]jsonStatement, 0, len(stmts))
	for _, stmt := range stmts {
		switch stmt := stmt.(type) {
		case *compute.Acquire:
			js = append(js, jsonStatement{Op: "acquire", Channel: stmt.Channel, Port: stmt.Port.String(), Count: stmt.Count})
		case *compute.Release:
			js = append(js, jsonStatement{Op: "release", Channel: stmt.Channel, Port: stmt.Port.String(), Count: stmt.Count})
		case *compute.Call:
			js = append(js, jsonStatement{Op: "call", Kernel: stmt.Kernel, Args: stmt.Args})
		case *compute.Loop:
			js = append(js, jsonStatement{Op: "loop", Loop: stmt.Kind.String(), Count: stmt.Count, Body: statementsToJSON(stmt.Body)})
		}
	}
	return js
}
