// Package preprocess - Converts photos into BlazeFace input tensors.
package preprocess

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/images"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// ErrDecode marks an unreadable or corrupt image. It is fatal for that image
// only; the loaded model stays valid.
var ErrDecode = errors.New("image decode failed")

// DecodeError carries the path of the image that failed to decode.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Path, e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Config defines preprocessing for a model input.
type Config struct {
	// Size is the side of the square model input, 128 or 256 for BlazeFace.
	Size int `json:"size" yaml:"size"`
	// Resize selects how the photo is fitted to the square. Defaults to fill.
	Resize images.ResizeMode `json:"resize" yaml:"resize"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return errors.Errorf("invalid input size %d", c.Size)
	}
	return c.Resize.Validate()
}

// Result contains the preprocessed tensor and the geometry needed to map
// detections back onto the source photo.
type Result struct {
	// Tensor has shape (3, Size, Size), CHW, RGB, values in [-1, 1].
	Tensor *tensor.Dense
	// OriginalWidth is the source image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the source image height before preprocessing.
	OriginalHeight int
	// Crop is the region of the source image the tensor covers.
	Crop image.Rectangle
}

// Project maps a detection from normalized tensor coordinates onto source
// image pixels.
//
// Arguments:
//   - d: A detection in normalized [0,1] coordinates of the model input.
//
// Returns:
//   - postprocess.Detection: The detection in source pixel coordinates.
func (r *Result) Project(d postprocess.Detection) postprocess.Detection {
	ox, oy := float32(r.Crop.Min.X), float32(r.Crop.Min.Y)
	sx, sy := float32(r.Crop.Dx()), float32(r.Crop.Dy())

	out := postprocess.Detection{
		Score: d.Score,
		Box: images.Box{
			XMin: ox + d.Box.XMin*sx,
			YMin: oy + d.Box.YMin*sy,
			XMax: ox + d.Box.XMax*sx,
			YMax: oy + d.Box.YMax*sy,
		},
	}
	if len(d.Keypoints) > 0 {
		out.Keypoints = make([]images.Point, len(d.Keypoints))
		for i, k := range d.Keypoints {
			out.Keypoints[i] = images.Point{X: ox + k.X*sx, Y: oy + k.Y*sy}
		}
	}
	return out
}

// Preprocessor handles image preprocessing for BlazeFace models.
type Preprocessor struct {
	config Config
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The preprocessing configuration.
//
// Returns:
//   - *Preprocessor: The preprocessor.
//   - error: An error if the configuration is invalid.
func NewPreprocessor(config Config) (*Preprocessor, error) {
	if config.Resize == "" {
		config.Resize = images.ResizeFill
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid preprocess config")
	}
	return &Preprocessor{config: config}, nil
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() Config {
	return p.config
}

// PreprocessFile decodes the image at path and converts it into an input tensor.
//
// Arguments:
//   - path: The image file.
//
// Returns:
//   - *Result: The tensor and source geometry.
//   - error: A *DecodeError for unreadable or corrupt files.
func (p *Preprocessor) PreprocessFile(path string) (*Result, error) {
	img, err := images.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return p.PreprocessImage(img)
}

// PreprocessBytes decodes an encoded image and converts it into an input tensor.
func (p *Preprocessor) PreprocessBytes(data []byte) (*Result, error) {
	img, err := images.Decode(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return p.PreprocessImage(img)
}

// PreprocessImage resizes a decoded image with a nearest-neighbor filter and
// converts it into an input tensor. The same image always yields the same
// tensor.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - *Result: The tensor and source geometry.
//   - error: An error if the image is empty.
func (p *Preprocessor) PreprocessImage(img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}

	resized, crop, err := images.ResizeTo(img, p.config.Size, p.config.Size, p.config.Resize)
	if err != nil {
		return nil, errors.Wrap(err, "resize failed")
	}

	t, err := ToTensor(resized)
	if err != nil {
		return nil, err
	}

	return &Result{
		Tensor:         t,
		OriginalWidth:  img.Bounds().Dx(),
		OriginalHeight: img.Bounds().Dy(),
		Crop:           crop,
	}, nil
}

// ToTensor converts an image into a (3, H, W) tensor in [-1, 1].
//
// Pixels are first laid out channel-last (H, W, 3) in [0, 1], then the axes are
// permuted to channel-first and the values mapped with v*2-1. Element (c, y, x)
// is channel c (0 = R, 1 = G, 2 = B) of the pixel at column x, row y. Alpha is
// discarded.
//
// Arguments:
//   - img: The image to convert.
//
// Returns:
//   - *tensor.Dense: The input tensor.
//   - error: An error if the axis permutation fails.
func ToTensor(img *image.NRGBA) (*tensor.Dense, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("image is empty")
	}

	hwc := make([]float32, h*w*3)
	idx := 0
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			px := img.Pix[off+x*4:]
			hwc[idx] = float32(px[0]) / 255
			hwc[idx+1] = float32(px[1]) / 255
			hwc[idx+2] = float32(px[2]) / 255
			idx += 3
		}
	}

	t := tensor.New(tensor.WithShape(h, w, 3), tensor.WithBacking(hwc))
	if err := t.T(2, 0, 1); err != nil {
		return nil, errors.Wrap(err, "permute to CHW failed")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "materialize CHW failed")
	}

	if _, err := t.MulScalar(float32(2), true, tensor.UseUnsafe()); err != nil {
		return nil, errors.Wrap(err, "normalize failed")
	}
	if _, err := t.SubScalar(float32(1), true, tensor.UseUnsafe()); err != nil {
		return nil, errors.Wrap(err, "normalize failed")
	}
	return t, nil
}
