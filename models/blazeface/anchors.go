package blazeface

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/inference/providers"
)

// Anchor is one precomputed reference box in normalized image coordinates.
type Anchor struct {
	CX, CY, W, H float32
}

// Anchors is the fixed (N, 4) anchor table of a model, columns cx, cy, w, h.
//
// The table is read-only for the lifetime of the model and shared by every
// inference call. Accessors hand out copies.
type Anchors struct {
	t    *tensor.Dense
	data []float32
}

// NewAnchors builds an anchor table from row-major cx, cy, w, h values.
//
// Arguments:
//   - values: 4 values per anchor. The slice is copied.
//
// Returns:
//   - *Anchors: The table.
//   - error: ErrShapeMismatch if len(values) is not a multiple of 4.
func NewAnchors(values []float32) (*Anchors, error) {
	if len(values) == 0 || len(values)%4 != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "anchors: %d values is not (N, 4)", len(values))
	}
	data := append([]float32(nil), values...)
	return &Anchors{
		t:    tensor.New(tensor.WithShape(len(data)/4, 4), tensor.WithBacking(data)),
		data: data,
	}, nil
}

// LoadAnchors reads an npy anchor file, casts it to float32 and rounds it to
// the working precision.
//
// Arguments:
//   - path: The npy file.
//   - count: The anchor count the profile requires.
//   - precision: The working precision.
//
// Returns:
//   - *Anchors: The table.
//   - error: A wrapped os error, ErrMalformedContainer or ErrShapeMismatch.
func LoadAnchors(path string, count int, precision providers.Precision) (*Anchors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading anchors %s", path)
	}
	defer f.Close()

	t := new(tensor.Dense)
	if err := t.ReadNpy(bufio.NewReader(f)); err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "anchors %s: %v", path, err)
	}

	shape := t.Shape()
	if len(shape) != 2 || shape[0] != count || shape[1] != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "anchors %s: expected [%d 4], got %v", path, count, shape)
	}

	var data []float32
	switch values := t.Data().(type) {
	case []float32:
		data = values
	case []float64:
		data = make([]float32, len(values))
		for i, v := range values {
			data[i] = float32(v)
		}
	default:
		return nil, errors.Wrapf(ErrMalformedContainer, "anchors %s: unsupported dtype %v", path, t.Dtype())
	}

	providers.Round(precision, data)
	return NewAnchors(data)
}

// Len returns the number of anchors.
func (a *Anchors) Len() int {
	return len(a.data) / 4
}

// At returns anchor i.
func (a *Anchors) At(i int) Anchor {
	row := a.data[i*4 : i*4+4]
	return Anchor{CX: row[0], CY: row[1], W: row[2], H: row[3]}
}

// Tensor returns a copy of the (N, 4) table.
func (a *Anchors) Tensor() *tensor.Dense {
	return a.t.Clone().(*tensor.Dense)
}

// GenerateAnchors computes the SSD anchor table of the profile with fixed
// unit anchor size: 2 anchors per cell of the 16x16 grid, then 6 per cell of
// the 8x8 grid, cell-major in row order. Centers sit at cell centers.
func GenerateAnchors(p Profile) *Anchors {
	type layer struct{ grid, perCell int }
	layers := []layer{{16, 2}, {8, 6}}

	values := make([]float32, 0, p.AnchorCount()*4)
	for _, l := range layers {
		for y := 0; y < l.grid; y++ {
			for x := 0; x < l.grid; x++ {
				cx := (float32(x) + 0.5) / float32(l.grid)
				cy := (float32(y) + 0.5) / float32(l.grid)
				for a := 0; a < l.perCell; a++ {
					values = append(values, cx, cy, 1, 1)
				}
			}
		}
	}
	return &Anchors{
		t:    tensor.New(tensor.WithShape(len(values)/4, 4), tensor.WithBacking(values)),
		data: values,
	}
}

// SaveAnchors writes the table as a little-endian float32 npy file.
func SaveAnchors(path string, a *Anchors) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := a.Tensor().WriteNpy(bw); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
