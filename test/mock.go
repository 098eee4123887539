// Package test provides deterministic fixtures for tests across the module:
// synthetic model directories, frames and a scripted detector.
package test

import (
	"image"
	"image/color"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/models/blazeface"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// MockModelGenerator creates deterministic synthetic model directories for
// idempotent testing. The weights are random but repeatable; they exercise
// every layer without detecting real faces.
//
// Arguments:
// - None.
//
// Returns:
// - A generator for weights, anchor tables and frames.
//
// @example
// gen := NewMockModelGenerator()
// dir := t.TempDir()
// err := gen.WriteModelDir(dir, blazeface.ProfileFront, gen.RandomWeights(blazeface.ProfileFront))
type MockModelGenerator struct {
	seed  int64
	scale float32
}

// NewMockModelGenerator creates a generator with a fixed seed.
//
// Arguments:
// - None.
//
// Returns:
// - A configured MockModelGenerator instance.
func NewMockModelGenerator() *MockModelGenerator {
	return &MockModelGenerator{
		seed:  42,
		scale: 0.05, // Keeps activations bounded through 16 residual blocks.
	}
}

// RandomWeights fills every parameter of the profile with uniform values in
// [-scale, scale].
//
// Arguments:
// - p: The model profile.
//
// Returns:
// - Weights with every name and shape blazeface.Parameters(p) lists.
func (g *MockModelGenerator) RandomWeights(p blazeface.Profile) blazeface.Weights {
	rng := rand.New(rand.NewSource(g.seed))
	w := blazeface.Weights{}
	for _, spec := range blazeface.Parameters(p) {
		values := make([]float32, volume(spec.Shape))
		for i := range values {
			values[i] = (rng.Float32()*2 - 1) * g.scale
		}
		w[spec.Name] = tensor.New(tensor.WithShape(spec.Shape...), tensor.WithBacking(values))
	}
	return w
}

// ZeroWeights returns weights of the profile with every value zero. Every
// feature map of such a network is zero, so each head outputs its bias.
//
// Arguments:
// - p: The model profile.
//
// Returns:
// - Weights with every name and shape blazeface.Parameters(p) lists.
func (g *MockModelGenerator) ZeroWeights(p blazeface.Profile) blazeface.Weights {
	w := blazeface.Weights{}
	for _, spec := range blazeface.Parameters(p) {
		w[spec.Name] = tensor.New(tensor.WithShape(spec.Shape...), tensor.WithBacking(make([]float32, volume(spec.Shape))))
	}
	return w
}

// FillBias repeats values across the bias of a layer.
//
// Arguments:
// - w: The weights to modify.
// - layer: The layer prefix, for example "classifier_16".
// - values: The pattern to repeat.
//
// @example
// gen.FillBias(w, "regressor_16", 0, 0, 10, 10, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
func (g *MockModelGenerator) FillBias(w blazeface.Weights, layer string, values ...float32) {
	data := w[layer+".bias"].Data().([]float32)
	for i := range data {
		data[i] = values[i%len(values)]
	}
}

// WriteModelDir writes the weights as F32 safetensors and the generated
// anchor table as npy under the profile's file names.
//
// Arguments:
// - dir: The model directory. It must exist.
// - p: The model profile.
// - w: The weights.
//
// Returns:
// - An error if a file cannot be written.
func (g *MockModelGenerator) WriteModelDir(dir string, p blazeface.Profile, w blazeface.Weights) error {
	if err := blazeface.SaveWeights(filepath.Join(dir, p.WeightsFile()), w, blazeface.DTypeF32); err != nil {
		return err
	}
	return blazeface.SaveAnchors(filepath.Join(dir, p.AnchorsFile()), blazeface.GenerateAnchors(p))
}

// GenerateFrame creates a mid-gray frame with a bright disc, a stand-in for
// a face-sized blob.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - An NRGBA frame.
func (g *MockModelGenerator) GenerateFrame(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	cx, cy := width/2, height/2
	r := min(width, height) / 4
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
			if dx, dy := x-cx, y-cy; dx*dx+dy*dy <= r*r {
				c = color.NRGBA{R: 230, G: 190, B: 160, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// WriteFrame writes a generated frame to path, encoded by its extension.
//
// Arguments:
// - path: The destination file, for example "face.jpg".
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - An error if the file cannot be written.
func (g *MockModelGenerator) WriteFrame(path string, width, height int) error {
	return imaging.Save(g.GenerateFrame(width, height), path)
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// MockDetector returns scripted detections and counts its calls. It is safe
// for concurrent use.
type MockDetector struct {
	mu         sync.Mutex
	Detections []postprocess.Detection
	Err        error
	Calls      int
	Closed     bool
}

// Detect returns a copy of the scripted detections or the scripted error.
func (m *MockDetector) Detect(input *tensor.Dense) ([]postprocess.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]postprocess.Detection{}, m.Detections...), nil
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// CallCount returns the number of Detect calls.
func (m *MockDetector) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
