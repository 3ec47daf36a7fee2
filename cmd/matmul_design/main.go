// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// matmul_design generates the whole-array matrix multiplication design for the given
// problem and array configuration, and reports it.
//
// Configuration is read from the YAML file given by -config (if any), and then overridden by
// the flags explicitly set. Example:
//
//	matmul_design -M=1024 -K=512 -N=1024 -n_aie_cols=2 -summary -channels -json=design.json
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/wholearray/pkg/design"
	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/gomlx/wholearray/pkg/visualize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	defaults = tiling.DefaultConfig()

	flagConfig = flag.String("config", "", "YAML file with the configuration. Flags explicitly set override its values.")

	flagM         = flag.Int("M", defaults.M, "Rows of A and C.")
	flagK         = flag.Int("K", defaults.K, "Columns of A and rows of B.")
	flagN         = flag.Int("N", defaults.N, "Columns of B and C.")
	flagTileM     = flag.Int("m", defaults.TileM, "Rows of the A and C tiles of each core.")
	flagTileK     = flag.Int("k", defaults.TileK, "Columns of the A tiles and rows of the B tiles of each core.")
	flagTileN     = flag.Int("n", defaults.TileN, "Columns of the B and C tiles of each core.")
	flagCols      = flag.Int("n_aie_cols", defaults.Cols, fmt.Sprintf("Number of array columns used, one of %v.", tiling.ValidCols))
	flagBColMajor = flag.Bool("b_col_maj", defaults.BColMajor, "Matrix B is stored column-major.")
	flagInType    = flag.String("dtype_in", defaults.InType, fmt.Sprintf("Input element type, one of %v.", tiling.InputElementTypes))
	flagOutType   = flag.String("dtype_out", defaults.OutType, "Output element type, at least as wide as the input.")
	flagDepth     = flag.Int("fifo_depth", defaults.Depth, "Depth of the data-movement channels: 2 for double buffering, or 1.")
	flagTraceSize = flag.Int("trace_size", defaults.TraceSize, "Size of the trace buffer, passed through to the design.")
	flagTiles     = flag.Bool("generate_tiles", defaults.GenerateTiles, "Include the tensor tiles of the transfers in the JSON output.")

	flagSummary  = flag.Bool("summary", true, "Display a summary of the tiling parameters and memory use.")
	flagChannels = flag.Bool("channels", false, "List the channels and links of the data-movement graph.")
	flagSchedule = flag.Bool("schedule", false, "List the runtime transfer schedule.")
	flagListing  = flag.Bool("listing", false, "Print the full design listing, including the core tasks.")
	flagJSON     = flag.String("json", "", "If set, write the design as JSON to this file (\"-\" for stdout).")
	flagPlots    = flag.String("plots", "", "If set, directory where to save the access heatmaps of A, B and C.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %v. See 'matmul_design -help'.", flag.Args())
		os.Exit(1)
	}

	cfg := defaults
	if *flagConfig != "" {
		cfg = must.M1(tiling.LoadConfig(*flagConfig))
	}
	overrideFromFlags(&cfg)

	d, err := design.Generate(cfg)
	if err != nil {
		klog.Errorf("Failed to generate design: %v", err)
		klog.V(1).Infof("Error details: %+v", err)
		os.Exit(1)
	}

	if *flagSummary {
		reportSummary(d)
	}
	if *flagChannels {
		reportChannels(d)
	}
	if *flagSchedule {
		reportSchedule(d)
	}
	if *flagListing {
		fmt.Println(d)
	}
	if *flagJSON != "" {
		writeJSON(d, *flagJSON)
	}
	if *flagPlots != "" {
		savePlots(d, *flagPlots)
	}
}

// overrideFromFlags sets the configuration fields whose flags were explicitly set.
func overrideFromFlags(cfg *tiling.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "M":
			cfg.M = *flagM
		case "K":
			cfg.K = *flagK
		case "N":
			cfg.N = *flagN
		case "m":
			cfg.TileM = *flagTileM
		case "k":
			cfg.TileK = *flagTileK
		case "n":
			cfg.TileN = *flagTileN
		case "n_aie_cols":
			cfg.Cols = *flagCols
		case "b_col_maj":
			cfg.BColMajor = *flagBColMajor
		case "dtype_in":
			cfg.InType = *flagInType
		case "dtype_out":
			cfg.OutType = *flagOutType
		case "fifo_depth":
			cfg.Depth = *flagDepth
		case "trace_size":
			cfg.TraceSize = *flagTraceSize
		case "generate_tiles":
			cfg.GenerateTiles = *flagTiles
		}
	})
}

func writeJSON(d *design.Design, filePath string) {
	if filePath == "-" {
		must.M(d.WriteJSON(os.Stdout))
		return
	}
	f := must.M1(os.Create(filePath))
	must.M(d.WriteJSON(f))
	must.M(f.Close())
	klog.Infof("Design written to %q", filePath)
}

func savePlots(d *design.Design, dir string) {
	must.M(os.MkdirAll(dir, 0755))
	a, b, c := d.Tiles()
	for _, operand := range []struct {
		name string
		seq  tensortile.Sequence
	}{{"A", a}, {"B", b}, {"C", c}} {
		must.M(visualize.AccessHeatmap(operand.seq, operand.name, filepath.Join(dir, operand.name+"_tiles.png")))
	}
	klog.Infof("Access heatmaps saved to %q", dir)
}
