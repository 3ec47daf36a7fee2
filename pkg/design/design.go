// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package design generates the complete whole-array matrix multiplication design from a
// configuration: the tiling parameters, the data-movement graph, the compute tasks of the
// cores and the runtime transfer schedule.
//
// Example:
//
//	cfg := tiling.DefaultConfig()
//	cfg.Cols = 2
//	d, err := design.Generate(cfg)
//	if err != nil {
//		klog.Fatalf("Invalid configuration: %+v", err)
//	}
//	fmt.Println(d)
package design

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/wholearray/pkg/compute"
	"github.com/gomlx/wholearray/pkg/dataflow"
	"github.com/gomlx/wholearray/pkg/schedule"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Design holds all the generated artifacts. It must not be modified.
type Design struct {
	Config tiling.Config
	Params *tiling.Params
	Graph  *dataflow.Graph

	// Kernels are the external kernels called by the Tasks.
	Kernels []compute.Kernel

	// Tasks of the cores, ordered by row then column.
	Tasks []*compute.Task

	Schedule *schedule.Schedule
}

// Generate validates the configuration and generates the design.
//
// Any failure is returned as a *tiling.ConfigurationError, and no partial design is returned.
// Generation is deterministic: the same configuration always yields the same design.
func Generate(cfg tiling.Config) (*Design, error) {
	p, err := tiling.Derive(cfg)
	if err != nil {
		return nil, err
	}
	d := &Design{Config: cfg, Params: p}
	err = exceptions.TryCatch[error](func() {
		d.Graph = dataflow.Build(p)
		d.Kernels = compute.Kernels(p)
		d.Tasks = compute.Generate(p, d.Graph)
		d.Schedule = schedule.Build(p, d.Graph)
	})
	if err == nil {
		err = d.Schedule.Verify()
	}
	if err != nil {
		return nil, tiling.AsConfigurationError(errors.WithMessagef(err, "generating design for %s", p.Problem))
	}
	klog.V(1).Infof("design: generated %s on %s: %d channels, %d tasks, %d runtime ops",
		p.Problem, p.Grid.Device(), len(d.Graph.Channels()), len(d.Tasks), len(d.Schedule.Ops))
	return d, nil
}

// Tiles returns the tensor tiles of the A, B and C transfers of the runtime schedule, in the
// order they are issued.
func (d *Design) Tiles() (a, b, c tensortile.Sequence) {
	return d.Schedule.A, d.Schedule.B, d.Schedule.C
}

// String returns a human-readable listing of the whole design.
func (d *Design) String() string {
	var sb strings.Builder
	p := d.Params
	_, _ = fmt.Fprintf(&sb, "device %s: %s, %s -> %s", p.Grid.Device(), p.Problem, p.InName, p.OutName)
	if p.BColMajor {
		sb.WriteString(", B column-major")
	}
	if p.TraceSize > 0 {
		_, _ = fmt.Fprintf(&sb, ", trace size %d", p.TraceSize)
	}
	sb.WriteString("\n\n")
	sb.WriteString(d.Graph.String())
	sb.WriteString("\n")
	for _, kernel := range d.Kernels {
		_, _ = fmt.Fprintf(&sb, "kernel %s%v\n", kernel.Name, kernel.Args)
	}
	sb.WriteString("\n")
	for _, task := range d.Tasks {
		sb.WriteString(task.String())
	}
	sb.WriteString("\n")
	sb.WriteString(d.Schedule.String())
	return sb.String()
}
