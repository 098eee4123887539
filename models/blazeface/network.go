package blazeface

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RawOutput is the per-anchor output of one forward pass, aligned by anchor
// index with the anchor table.
type RawOutput struct {
	// Scores has shape (N, 1), pre-activation logits.
	Scores *tensor.Dense
	// Regressions has shape (N, 16): dx, dy, dw, dh, then six keypoints as
	// (kx, ky) pairs.
	Regressions *tensor.Dense
}

// Len returns the number of anchors covered by the output.
func (r *RawOutput) Len() int {
	return r.Scores.Shape()[0]
}

// Network computes RawOutput from an input tensor of shape (3, R, R).
type Network interface {
	Forward(input *tensor.Dense) (*RawOutput, error)
	Close() error
}

// regressionWidth is 4 box offsets plus 6 keypoints as (x, y) pairs.
const regressionWidth = 16

// ParamSpec names one network parameter and its required shape.
type ParamSpec struct {
	Name  string
	Shape []int
}

type blockSpec struct {
	name            string
	in, out, stride int
}

type architecture struct {
	stem      string
	blocks    []blockSpec
	tap       int // blocks[:tap] produce the 16x16 map, blocks[tap:] the 8x8 map.
	final     string
	c16, c8   int // channels of the 16x16 and 8x8 maps.
	grid      int // side of the 16x16 map.
	anchors16 int
	anchors8  int
}

func blocks(prefix string, first int, specs ...[3]int) []blockSpec {
	out := make([]blockSpec, len(specs))
	for i, s := range specs {
		out[i] = blockSpec{name: fmt.Sprintf("%s.%d", prefix, first+i), in: s[0], out: s[1], stride: s[2]}
	}
	return out
}

func repeat(n, c int) [][3]int {
	out := make([][3]int, n)
	for i := range out {
		out[i] = [3]int{c, c, 1}
	}
	return out
}

func frontArchitecture() architecture {
	b1 := blocks("backbone1", 2,
		[3]int{24, 24, 1}, [3]int{24, 28, 1}, [3]int{28, 32, 2}, [3]int{32, 36, 1},
		[3]int{36, 42, 1}, [3]int{42, 48, 2}, [3]int{48, 56, 1}, [3]int{56, 64, 1},
		[3]int{64, 72, 1}, [3]int{72, 80, 1}, [3]int{80, 88, 1},
	)
	b2 := blocks("backbone2", 0, append([][3]int{{88, 96, 2}}, repeat(4, 96)...)...)
	return architecture{
		stem:      "backbone1.0",
		blocks:    append(b1, b2...),
		tap:       len(b1),
		c16:       88,
		c8:        96,
		grid:      16,
		anchors16: 2,
		anchors8:  6,
	}
}

func backArchitecture() architecture {
	var specs [][3]int
	specs = append(specs, repeat(7, 24)...)
	specs = append(specs, [3]int{24, 24, 2})
	specs = append(specs, repeat(7, 24)...)
	specs = append(specs, [3]int{24, 48, 2})
	specs = append(specs, repeat(7, 48)...)
	specs = append(specs, [3]int{48, 96, 2})
	specs = append(specs, repeat(7, 96)...)
	b := blocks("backbone", 2, specs...)
	return architecture{
		stem:      "backbone.0",
		blocks:    b,
		tap:       len(b),
		final:     "final",
		c16:       96,
		c8:        96,
		grid:      16,
		anchors16: 2,
		anchors8:  6,
	}
}

func architectureFor(p Profile) architecture {
	if p == ProfileBack {
		return backArchitecture()
	}
	return frontArchitecture()
}

// Parameters lists every parameter the profile's network reads, in forward
// order, with the shape it must have in the weight file.
func Parameters(p Profile) []ParamSpec {
	a := architectureFor(p)
	var specs []ParamSpec
	add := func(name string, shape ...int) {
		specs = append(specs, ParamSpec{Name: name, Shape: shape})
	}
	conv := func(prefix string, out, in, k int) {
		add(prefix+".weight", out, in, k, k)
		add(prefix+".bias", out)
	}

	conv(a.stem, 24, 3, 5)
	for _, b := range a.blocks {
		conv(b.name+".convs.0", b.in, 1, 3)
		conv(b.name+".convs.1", b.out, b.in, 1)
	}
	if a.final != "" {
		conv(a.final+".convs.0", a.c8, 1, 3)
		conv(a.final+".convs.1", a.c8, a.c8, 1)
	}
	conv("classifier_8", a.anchors16, a.c16, 1)
	conv("classifier_16", a.anchors8, a.c8, 1)
	conv("regressor_8", a.anchors16*regressionWidth, a.c16, 1)
	conv("regressor_16", a.anchors8*regressionWidth, a.c8, 1)
	return specs
}

type blazeBlock struct {
	stride    int
	depthwise *depthwiseLayer
	pointwise *denseLayer
}

// forward computes relu(convs(x) + residual). Stride 2 blocks pad the main
// path by (0, 2, 0, 2) and max pool the residual.
func (b *blazeBlock) forward(x featureMap, workers int) (featureMap, error) {
	h, residual := x, x
	if b.stride == 2 {
		h = pad(x, 0, 2, 0, 2)
		residual = maxPool2(x, workers)
	}
	h = b.depthwise.forward(h, workers)
	out, err := b.pointwise.forward(h, workers)
	if err != nil {
		return featureMap{}, err
	}
	addResidual(out, residual)
	relu(out)
	return out, nil
}

type head struct {
	layer   *denseLayer
	anchors int
	width   int
}

// scatter writes the head output in anchor-major order: the map is permuted to
// (H, W, C) and reshaped so row (y*W+x)*A+a holds channels a*K .. a*K+K-1.
func (h *head) scatter(f featureMap, dst []float32, workers int) {
	hw := f.h * f.w
	parallelFor(hw, workers, func(p int) {
		for a := 0; a < h.anchors; a++ {
			row := dst[(p*h.anchors+a)*h.width:]
			for j := 0; j < h.width; j++ {
				row[j] = f.data[(a*h.width+j)*hw+p]
			}
		}
	})
}

type nativeNetwork struct {
	profile    Profile
	resolution int
	workers    int

	stem   *denseLayer
	blocks []*blazeBlock
	tap    int
	final  *blazeBlock

	classifier16, classifier8 head
	regressor16, regressor8   head
}

// NewNativeNetwork binds weights to the profile's architecture. Every
// parameter is checked against Parameters(p) before the network is returned.
//
// Arguments:
//   - p: The model profile.
//   - w: The weights. They must not be modified afterwards.
//   - workers: Goroutines per layer. 0 uses GOMAXPROCS.
//
// Returns:
//   - Network: The network.
//   - error: ErrMissingWeight or ErrShapeMismatch naming the parameter.
func NewNativeNetwork(p Profile, w Weights, workers int) (Network, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a := architectureFor(p)
	n := &nativeNetwork{profile: p, resolution: p.Resolution(), workers: workers, tap: a.tap}

	var err error
	if n.stem, err = newDenseLayer(w, a.stem, 3, 24, 5, 2); err != nil {
		return nil, err
	}
	for _, b := range a.blocks {
		blk, err := newBlazeBlock(w, b.name, b.in, b.out, b.stride)
		if err != nil {
			return nil, err
		}
		n.blocks = append(n.blocks, blk)
	}
	if a.final != "" {
		dw, err := newDepthwiseLayer(w, a.final+".convs.0", a.c8, 2, 0)
		if err != nil {
			return nil, err
		}
		pw, err := newDenseLayer(w, a.final+".convs.1", a.c8, a.c8, 1, 1)
		if err != nil {
			return nil, err
		}
		n.final = &blazeBlock{stride: 2, depthwise: dw, pointwise: pw}
	}

	heads := []struct {
		dst         *head
		name        string
		in, anchors int
		width       int
	}{
		{&n.classifier16, "classifier_8", a.c16, a.anchors16, 1},
		{&n.classifier8, "classifier_16", a.c8, a.anchors8, 1},
		{&n.regressor16, "regressor_8", a.c16, a.anchors16, regressionWidth},
		{&n.regressor8, "regressor_16", a.c8, a.anchors8, regressionWidth},
	}
	for _, h := range heads {
		layer, err := newDenseLayer(w, h.name, h.in, h.anchors*h.width, 1, 1)
		if err != nil {
			return nil, err
		}
		*h.dst = head{layer: layer, anchors: h.anchors, width: h.width}
	}
	return n, nil
}

func newBlazeBlock(w Weights, name string, in, out, stride int) (*blazeBlock, error) {
	padding := 1
	if stride == 2 {
		padding = 0
	}
	dw, err := newDepthwiseLayer(w, name+".convs.0", in, stride, padding)
	if err != nil {
		return nil, err
	}
	pw, err := newDenseLayer(w, name+".convs.1", in, out, 1, 1)
	if err != nil {
		return nil, err
	}
	return &blazeBlock{stride: stride, depthwise: dw, pointwise: pw}, nil
}

// checkInput verifies an input tensor is float32 of shape (3, R, R).
func checkInput(input *tensor.Dense, resolution int) error {
	if input == nil {
		return errors.New("input tensor is nil")
	}
	expected := []int{3, resolution, resolution}
	if !sameShape(input.Shape(), expected) {
		return shapeError("input", expected, input.Shape())
	}
	if input.Dtype() != tensor.Float32 {
		return errors.Errorf("input tensor is %v, want float32", input.Dtype())
	}
	return nil
}

// contiguous returns the input values in row-major order.
func contiguous(input *tensor.Dense) []float32 {
	if input.RequiresIterator() {
		input = input.Materialize().(*tensor.Dense)
	}
	return input.Data().([]float32)
}

// Forward runs the network. The input is not modified.
func (n *nativeNetwork) Forward(input *tensor.Dense) (*RawOutput, error) {
	if err := checkInput(input, n.resolution); err != nil {
		return nil, err
	}

	x := featureMap{c: 3, h: n.resolution, w: n.resolution, data: contiguous(input)}
	x = pad(x, 1, 2, 1, 2)

	x, err := n.stem.forward(x, n.workers)
	if err != nil {
		return nil, errors.Wrap(err, "stem")
	}
	relu(x)

	var map16 featureMap
	for i, b := range n.blocks {
		if i == n.tap {
			map16 = x
		}
		if x, err = b.forward(x, n.workers); err != nil {
			return nil, errors.Wrapf(err, "block %d", i)
		}
	}
	if n.tap == len(n.blocks) {
		map16 = x
	}

	map8 := x
	if n.final != nil {
		h := pad(map16, 0, 2, 0, 2)
		h = n.final.depthwise.forward(h, n.workers)
		if map8, err = n.final.pointwise.forward(h, n.workers); err != nil {
			return nil, errors.Wrap(err, "final block")
		}
		relu(map8)
	}

	n16 := map16.h * map16.w * n.classifier16.anchors
	n8 := map8.h * map8.w * n.classifier8.anchors
	total := n16 + n8
	if total != n.profile.AnchorCount() {
		return nil, shapeError("anchor rows", []int{n.profile.AnchorCount()}, []int{total})
	}

	scores := make([]float32, total)
	regressions := make([]float32, total*regressionWidth)

	outputs := []struct {
		h   *head
		in  featureMap
		dst []float32
	}{
		{&n.classifier16, map16, scores[:n16]},
		{&n.classifier8, map8, scores[n16:]},
		{&n.regressor16, map16, regressions[:n16*regressionWidth]},
		{&n.regressor8, map8, regressions[n16*regressionWidth:]},
	}
	for _, o := range outputs {
		f, err := o.h.layer.forward(o.in, n.workers)
		if err != nil {
			return nil, errors.Wrap(err, "head")
		}
		o.h.scatter(f, o.dst, n.workers)
	}

	return &RawOutput{
		Scores:      tensor.New(tensor.WithShape(total, 1), tensor.WithBacking(scores)),
		Regressions: tensor.New(tensor.WithShape(total, regressionWidth), tensor.WithBacking(regressions)),
	}, nil
}

// Close is a no-op; the native network holds no external resources.
func (n *nativeNetwork) Close() error {
	return nil
}
