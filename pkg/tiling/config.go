// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"bytes"
	"io"
	"os"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// NumRows is the number of compute rows of the array. It is fixed for every configuration.
const NumRows = 4

// DefaultDepth is the depth of every data-movement channel: 2 enables double-buffering.
//
// Reducing it to 1 lowers the program memory used by the unrolled acquire/release sequences,
// at the cost of pipeline bubbles.
const DefaultDepth = 2

// ValidCols lists the supported number of array columns.
var ValidCols = []int{1, 2, 4}

// ElementTypes maps the element type names accepted in a Config to their DType.
var ElementTypes = map[string]dtypes.DType{
	"bf16": dtypes.BFloat16,
	"i8":   dtypes.Int8,
	"i16":  dtypes.Int16,
	"f32":  dtypes.Float32,
	"i32":  dtypes.Int32,
}

// ElementTypeName returns the configuration name of dtype, or its DType name if it has none.
func ElementTypeName(dtype dtypes.DType) string {
	for name, dt := range ElementTypes {
		if dt == dtype {
			return name
		}
	}
	return dtype.String()
}

// InputElementTypes lists the names accepted for Config.InType: the microkernels only exist for these.
var InputElementTypes = []string{"bf16", "i8", "i16"}

// Config holds the generation inputs. Zero values are not defaulted by Derive, use
// DefaultConfig (or ParseConfig, which starts from it) to get sensible values.
type Config struct {
	// M, K, N are the global dimensions: C[M, N] = A[M, K] x B[K, N].
	M int `yaml:"M" json:"M"`
	K int `yaml:"K" json:"K"`
	N int `yaml:"N" json:"N"`

	// TileM, TileK, TileN are the dimensions (m, k, n) of the tiles each core works on.
	TileM int `yaml:"m" json:"m"`
	TileK int `yaml:"k" json:"k"`
	TileN int `yaml:"n" json:"n"`

	// Cols is the number of array columns used, one of ValidCols.
	Cols int `yaml:"n_aie_cols" json:"n_aie_cols"`

	// InType and OutType are element type names, keys of ElementTypes.
	InType  string `yaml:"dtype_in" json:"dtype_in"`
	OutType string `yaml:"dtype_out" json:"dtype_out"`

	// BColMajor selects the column-major layout (and microkernel) for matrix B.
	BColMajor bool `yaml:"b_col_maj" json:"b_col_maj"`

	// Depth of the data-movement channels, 1 or 2.
	Depth int `yaml:"fifo_depth" json:"fifo_depth"`

	// TraceSize is the size of the diagnostic trace buffer. It is passed through untouched.
	TraceSize int `yaml:"trace_size" json:"trace_size"`

	// GenerateTiles asks for the tensor tile sequences of the runtime transfers to be kept
	// with the design, for visualization.
	GenerateTiles bool `yaml:"generate_tiles" json:"generate_tiles"`
}

// DefaultConfig returns the default configuration: a 512x512x512 int16 multiplication
// with 64x64x32 tiles on 4 columns.
func DefaultConfig() Config {
	return Config{
		M: 512, K: 512, N: 512,
		TileM: 64, TileK: 64, TileN: 32,
		Cols:    4,
		InType:  "i16",
		OutType: "i16",
		Depth:   DefaultDepth,
	}
}

// ParseConfig parses a YAML configuration. Fields not present keep their DefaultConfig values,
// unknown fields are an error.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrap(err, "failed to parse configuration")
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML configuration in filePath. See ParseConfig.
func LoadConfig(filePath string) (Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read configuration from %q", filePath)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return cfg, errors.WithMessagef(err, "configuration file %q", filePath)
	}
	return cfg, nil
}

// ToYAML returns the YAML representation of the configuration, as read by ParseConfig.
func (cfg Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal configuration")
	}
	return data, nil
}

func isValidCols(cols int) bool {
	return slices.Contains(ValidCols, cols)
}
