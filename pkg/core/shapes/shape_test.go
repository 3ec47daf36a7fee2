// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Int16, 64, 32)
	assert.True(t, s.Ok())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 64*32, s.Size())
	assert.Equal(t, 64*32*2, s.Memory())
	assert.Equal(t, "(Int16)[64 32]", s.String())

	flat := Make(dtypes.Float32, 64*32*4)
	assert.Equal(t, 1, flat.Rank())
	assert.Equal(t, 64*32*4*4, flat.Memory())
	assert.Equal(t, "(Float32)[8192]", flat.String())

	assert.False(t, Shape{}.Ok())
	require.Panics(t, func() { _ = Make(dtypes.Int8, 4, 0) })
}

func TestMake_CopiesDimensions(t *testing.T) {
	dims := []int{4, 8}
	s := Make(dtypes.Int8, dims...)
	dims[0] = 16
	assert.Equal(t, []int{4, 8}, s.Dimensions)
}
