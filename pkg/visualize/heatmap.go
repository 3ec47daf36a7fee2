// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package visualize renders the access maps of tensor tile sequences as heatmaps.
package visualize

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"k8s.io/klog/v2"
)

// PanelSize is the size of each of the heatmaps.
var PanelSize = 6 * vg.Inch

// accessGrid implements plotter.GridXYZ over a row-major access map: row 0 is drawn at the top.
type accessGrid struct {
	rows, cols int
	values     []int
}

var _ plotter.GridXYZ = accessGrid{}

func (g accessGrid) Dims() (c, r int) { return g.cols, g.rows }
func (g accessGrid) X(c int) float64  { return float64(c) }
func (g accessGrid) Y(r int) float64  { return float64(r) }
func (g accessGrid) Z(c, r int) float64 {
	return float64(g.values[(g.rows-1-r)*g.cols+c])
}

// HeatmapPlot returns a heatmap plot of the row-major values of a tensor with the given dims.
func HeatmapPlot(title string, dims [2]int, values []int) *plot.Plot {
	grid := accessGrid{rows: dims[0], cols: dims[1], values: values}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	heatmap := plotter.NewHeatMap(grid, palette.Heat(32, 1))
	if heatmap.Max == heatmap.Min {
		// Uniform maps still need a non-empty color range.
		heatmap.Max = heatmap.Min + 1
	}
	p.Add(heatmap)

	// Label the rows top to bottom, like the matrix.
	p.Y.Tick.Marker = plot.TickerFunc(func(min, max float64) []plot.Tick {
		ticks := plot.DefaultTicks{}.Ticks(min, max)
		for ii := range ticks {
			if ticks[ii].Label != "" {
				ticks[ii].Label = strconv.FormatFloat(float64(grid.rows-1)-ticks[ii].Value, 'g', -1, 64)
			}
		}
		return ticks
	})
	return p
}

// AccessHeatmap renders the access order and the access count of every element of the tensor
// addressed by seq, side by side, and saves them as a PNG image in filePath.
func AccessHeatmap(seq tensortile.Sequence, title, filePath string) error {
	if len(seq) == 0 {
		return errors.Errorf("can't plot access map %q of an empty sequence", title)
	}
	order, count := seq.AccessMaps()
	dims := seq[0].TensorDims
	plots := [][]*plot.Plot{{
		HeatmapPlot(fmt.Sprintf("%s: access order", title), dims, order),
		HeatmapPlot(fmt.Sprintf("%s: access count", title), dims, count),
	}}

	img := vgimg.New(2*PanelSize, PanelSize)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for col, p := range plots[0] {
		p.Draw(canvases[0][col])
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write access heatmap to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", filePath)
	}
	klog.V(1).Infof("visualize: saved %q access heatmap of %d tiles to %q", title, len(seq), filePath)
	return nil
}
