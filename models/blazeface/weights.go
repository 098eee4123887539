package blazeface

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/inference/providers"
)

// DType is a safetensors element type.
type DType string

// Element types a weight file may carry. Every type is decoded to float32.
const (
	DTypeF64  DType = "F64"
	DTypeF32  DType = "F32"
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
)

func (d DType) size() int {
	switch d {
	case DTypeF64:
		return 8
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	}
	return 0
}

// maxHeaderSize bounds the JSON header of a safetensors file.
const maxHeaderSize = 100 << 20

// Weights maps a layer parameter name to its tensor. Weights are read-only
// once loaded; the network holds slices of their backing arrays.
type Weights map[string]*tensor.Dense

// Names returns the parameter names in lexical order.
func (w Weights) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named parameter after checking its shape.
//
// Arguments:
//   - name: The parameter name, for example "backbone1.2.convs.0.weight".
//   - shape: The shape the architecture requires.
//
// Returns:
//   - []float32: The parameter values in row-major order.
//   - error: ErrMissingWeight or ErrShapeMismatch.
func (w Weights) Get(name string, shape ...int) ([]float32, error) {
	t, ok := w[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingWeight, "%q", name)
	}
	if !sameShape(t.Shape(), shape) {
		return nil, shapeError("weight "+name, shape, t.Shape())
	}
	return t.Data().([]float32), nil
}

func sameShape(a tensor.Shape, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LoadWeights reads a safetensors file and rounds every value to the working
// precision.
//
// Arguments:
//   - path: The safetensors file.
//   - precision: The working precision. FP16 rounds through IEEE half.
//
// Returns:
//   - Weights: The decoded weights.
//   - error: A wrapped os error or ErrMalformedContainer.
func LoadWeights(path string, precision providers.Precision) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading weights %s", path)
	}

	w, err := ParseWeights(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing weights %s", path)
	}

	for _, t := range w {
		providers.Round(precision, t.Data().([]float32))
	}
	return w, nil
}

type tensorHeader struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// ParseWeights decodes a safetensors container: an 8 byte little-endian header
// length, a JSON header mapping names to dtype, shape and data offsets, then
// the raw little-endian tensor data.
//
// Arguments:
//   - data: The whole container.
//
// Returns:
//   - Weights: The decoded float32 tensors.
//   - error: ErrMalformedContainer describing the first inconsistency.
func ParseWeights(data []byte) (Weights, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(ErrMalformedContainer, "file shorter than header length")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderSize || n > uint64(len(data)-8) {
		return nil, errors.Wrapf(ErrMalformedContainer, "header length %d exceeds file size %d", n, len(data))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &raw); err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "header: %v", err)
	}

	body := data[8+n:]
	weights := make(Weights, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}

		var h tensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: %v", name, err)
		}
		t, err := decodeTensor(name, h, body)
		if err != nil {
			return nil, err
		}
		weights[name] = t
	}
	return weights, nil
}

func decodeTensor(name string, h tensorHeader, body []byte) (*tensor.Dense, error) {
	size := h.DType.size()
	if size == 0 {
		return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: unsupported dtype %q", name, h.DType)
	}

	// No tensor can hold more elements than the data section has room for.
	limit := len(body) / size
	count := 1
	for _, d := range h.Shape {
		if d < 0 {
			return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: negative dimension in %v", name, h.Shape)
		}
		if d != 0 && count > limit/d {
			return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: shape %v exceeds data of %d bytes",
				name, h.Shape, len(body))
		}
		count *= d
	}

	begin, end := h.DataOffsets[0], h.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(body)) {
		return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: offsets [%d, %d) outside data of %d bytes",
			name, begin, end, len(body))
	}
	if end-begin != int64(count*size) {
		return nil, errors.Wrapf(ErrMalformedContainer, "tensor %q: %d bytes for shape %v of %s",
			name, end-begin, h.Shape, h.DType)
	}

	buf := body[begin:end]
	values := make([]float32, count)
	for i := range values {
		b := buf[i*size:]
		switch h.DType {
		case DTypeF64:
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case DTypeF32:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		case DTypeF16:
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
		case DTypeBF16:
			values[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16)
		}
	}

	shape := h.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(values)), nil
}

// SaveWeights writes weights to a safetensors file.
//
// Arguments:
//   - path: The destination file.
//   - w: The weights.
//   - dtype: The element type to store, F32 or F16.
//
// Returns:
//   - error: An error if the file cannot be written.
func SaveWeights(path string, w Weights, dtype DType) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := WriteWeights(bw, w, dtype); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

// WriteWeights encodes weights as a safetensors container. Tensors are stored
// in lexical name order.
func WriteWeights(out io.Writer, w Weights, dtype DType) error {
	if dtype != DTypeF32 && dtype != DTypeF16 {
		return errors.Errorf("cannot write dtype %q", dtype)
	}
	size := dtype.size()

	header := make(map[string]tensorHeader, len(w))
	var body bytes.Buffer
	for _, name := range w.Names() {
		t := w[name]
		values, ok := t.Data().([]float32)
		if !ok {
			return errors.Errorf("tensor %q is %v, want float32", name, t.Dtype())
		}
		begin := int64(body.Len())
		for _, v := range values {
			switch dtype {
			case DTypeF32:
				_ = binary.Write(&body, binary.LittleEndian, math.Float32bits(v))
			case DTypeF16:
				_ = binary.Write(&body, binary.LittleEndian, float16.Fromfloat32(v).Bits())
			}
		}
		header[name] = tensorHeader{
			DType:       dtype,
			Shape:       append([]int(nil), t.Shape()...),
			DataOffsets: [2]int64{begin, begin + int64(len(values)*size)},
		}
	}

	meta, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	// Pad the header with spaces so the data starts 8-byte aligned.
	for len(meta)%8 != 0 {
		meta = append(meta, ' ')
	}

	if err := binary.Write(out, binary.LittleEndian, uint64(len(meta))); err != nil {
		return err
	}
	if _, err := out.Write(meta); err != nil {
		return err
	}
	_, err = out.Write(body.Bytes())
	return err
}
