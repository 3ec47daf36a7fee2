// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package visualize

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/wholearray/pkg/tensortile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessGrid(t *testing.T) {
	grid := accessGrid{rows: 2, cols: 3, values: []int{0, 1, 2, 3, 4, 5}}
	c, r := grid.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 2, r)
	// Row 0 of the tensor is drawn at the top.
	assert.Equal(t, 3.0, grid.Z(0, 0))
	assert.Equal(t, 2.0, grid.Z(2, 1))
}

func TestAccessHeatmap(t *testing.T) {
	seq := tensortile.SimpleTiler([2]int{16, 16}, [2]int{4, 8})
	filePath := filepath.Join(t.TempDir(), "simple.png")
	require.NoError(t, AccessHeatmap(seq, "simple", filePath))
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.Error(t, AccessHeatmap(nil, "empty", filepath.Join(t.TempDir(), "empty.png")))
}
