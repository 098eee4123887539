package blazeface

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/inference/providers"
)

// container assembles a safetensors file from a raw header and body.
func container(t *testing.T, header map[string]any, body []byte) []byte {
	t.Helper()
	meta, err := json.Marshal(header)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(meta))))
	buf.Write(meta)
	buf.Write(body)
	return buf.Bytes()
}

func sampleWeights() Weights {
	return Weights{
		"conv.weight": tensor.New(tensor.WithShape(2, 1, 1, 2), tensor.WithBacking([]float32{0.5, -1.25, 2, 0.1})),
		"conv.bias":   tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{3, -0.75})),
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		dtype DType
		delta float64
	}{
		{name: "f32", dtype: DTypeF32, delta: 0},
		{name: "f16", dtype: DTypeF16, delta: 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteWeights(&buf, sampleWeights(), tt.dtype))

			// Data starts 8-byte aligned.
			n := binary.LittleEndian.Uint64(buf.Bytes()[:8])
			assert.Zero(t, n%8)

			got, err := ParseWeights(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, []string{"conv.bias", "conv.weight"}, got.Names())

			for name, want := range sampleWeights() {
				assert.Equal(t, want.Shape(), got[name].Shape(), name)
				assert.InDeltaSlice(t, want.Data(), got[name].Data(), tt.delta, name)
			}
		})
	}
}

func TestParseWeightsDecodesEveryDType(t *testing.T) {
	var body bytes.Buffer
	_ = binary.Write(&body, binary.LittleEndian, math.Float64bits(1.5))
	_ = binary.Write(&body, binary.LittleEndian, math.Float64bits(-2))
	_ = binary.Write(&body, binary.LittleEndian, float16.Fromfloat32(0.25).Bits())
	// bfloat16 keeps the top half of the float32 bits.
	_ = binary.Write(&body, binary.LittleEndian, uint16(math.Float32bits(-3)>>16))

	data := container(t, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"a":            map[string]any{"dtype": "F64", "shape": []int{2}, "data_offsets": []int{0, 16}},
		"b":            map[string]any{"dtype": "F16", "shape": []int{1}, "data_offsets": []int{16, 18}},
		"c":            map[string]any{"dtype": "BF16", "shape": []int{}, "data_offsets": []int{18, 20}},
	}, body.Bytes())

	w, err := ParseWeights(data)
	require.NoError(t, err)
	assert.Len(t, w, 3)
	assert.Equal(t, []float32{1.5, -2}, w["a"].Data())
	assert.Equal(t, []float32{0.25}, w["b"].Data())
	assert.Equal(t, []float32{-3}, w["c"].Data())
}

func TestParseWeightsRejectsMalformedContainers(t *testing.T) {
	tensorAt := func(dtype string, shape []int, begin, end int) map[string]any {
		return map[string]any{"x": map[string]any{"dtype": dtype, "shape": shape, "data_offsets": []int{begin, end}}}
	}

	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{name: "too_short", data: func(*testing.T) []byte { return []byte{1, 2, 3} }},
		{name: "header_past_end", data: func(*testing.T) []byte {
			b := make([]byte, 16)
			binary.LittleEndian.PutUint64(b, 1000)
			return b
		}},
		{name: "bad_json", data: func(*testing.T) []byte {
			b := make([]byte, 8, 12)
			binary.LittleEndian.PutUint64(b, 4)
			return append(b, []byte("{{{{")...)
		}},
		{name: "unknown_dtype", data: func(t *testing.T) []byte {
			return container(t, tensorAt("I64", []int{1}, 0, 8), make([]byte, 8))
		}},
		{name: "offsets_past_end", data: func(t *testing.T) []byte {
			return container(t, tensorAt("F32", []int{4}, 0, 16), make([]byte, 8))
		}},
		{name: "size_disagrees_with_shape", data: func(t *testing.T) []byte {
			return container(t, tensorAt("F32", []int{3}, 0, 8), make([]byte, 8))
		}},
		{name: "shape_overflows", data: func(t *testing.T) []byte {
			return container(t, tensorAt("F32", []int{1 << 31, 1 << 31, 4}, 0, 0), nil)
		}},
		{name: "shape_larger_than_data", data: func(t *testing.T) []byte {
			return container(t, tensorAt("F32", []int{4}, 0, 8), make([]byte, 8))
		}},
		{name: "inverted_offsets", data: func(t *testing.T) []byte {
			return container(t, tensorAt("F32", []int{1}, 8, 4), make([]byte, 8))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWeights(tt.data(t))
			assert.ErrorIs(t, err, ErrMalformedContainer)
		})
	}
}

func TestLoadWeightsRoundsToPrecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.safetensors")
	w := Weights{"x": tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{0.1}))}
	require.NoError(t, SaveWeights(path, w, DTypeF32))

	fp32, err := LoadWeights(path, providers.PrecisionFP32)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1}, fp32["x"].Data())

	fp16, err := LoadWeights(path, providers.PrecisionFP16)
	require.NoError(t, err)
	assert.Equal(t, []float32{float16.Fromfloat32(0.1).Float32()}, fp16["x"].Data())
}

func TestLoadWeightsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.safetensors")
	_, err := LoadWeights(path, providers.PrecisionFP32)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "absent.safetensors")
}

func TestWeightsGet(t *testing.T) {
	w := sampleWeights()

	v, err := w.Get("conv.bias", 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, -0.75}, v)

	_, err = w.Get("conv.bias", 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = w.Get("conv.bias", 2, 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = w.Get("missing", 2)
	assert.ErrorIs(t, err, ErrMissingWeight)
}

func TestWriteWeightsRejectsUnsupportedDType(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteWeights(&buf, sampleWeights(), DTypeBF16))
}
