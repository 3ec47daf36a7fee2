// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"testing"

	"github.com/gomlx/wholearray/pkg/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideFromFlags(t *testing.T) {
	require.NoError(t, flag.Set("M", "1024"))
	require.NoError(t, flag.Set("n_aie_cols", "2"))
	require.NoError(t, flag.Set("b_col_maj", "true"))

	cfg := tiling.Config{M: 1, K: 2, N: 3, InType: "i8"}
	overrideFromFlags(&cfg)
	assert.Equal(t, 1024, cfg.M)
	assert.Equal(t, 2, cfg.Cols)
	assert.True(t, cfg.BColMajor)

	// Flags not set keep the configuration values.
	assert.Equal(t, 2, cfg.K)
	assert.Equal(t, 3, cfg.N)
	assert.Equal(t, "i8", cfg.InType)
}
