package images

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// ResizeMode selects how a source image is mapped onto the model input.
type ResizeMode string

const (
	// ResizeFill scales the image to cover the target and center-crops the
	// overflow, preserving aspect ratio.
	ResizeFill ResizeMode = "fill"
	// ResizeStretch scales each axis independently, distorting the aspect ratio.
	ResizeStretch ResizeMode = "stretch"
)

// Validate checks that the mode is one of the known resize modes.
func (m ResizeMode) Validate() error {
	switch m {
	case ResizeFill, ResizeStretch:
		return nil
	default:
		return fmt.Errorf("unsupported resize mode: %q", m)
	}
}

// FillCrop computes the centered region of bounds that has the aspect ratio of
// width x height and is as large as possible.
//
// Arguments:
//   - bounds: The source image bounds.
//   - width, height: The target size.
//
// Returns:
//   - image.Rectangle: The crop region in source pixel coordinates.
func FillCrop(bounds image.Rectangle, width, height int) image.Rectangle {
	srcW, srcH := bounds.Dx(), bounds.Dy()
	cropW, cropH := srcW, srcH

	if srcW*height < srcH*width {
		cropH = int(math.Max(1, float64(srcW)*float64(height)/float64(width)) + 0.5)
	} else {
		cropW = int(math.Max(1, float64(srcH)*float64(width)/float64(height)) + 0.5)
	}

	x0 := bounds.Min.X + (srcW-cropW)/2
	y0 := bounds.Min.Y + (srcH-cropH)/2

	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}

// Fill crops img to the target aspect ratio around its center and resizes the
// crop with nearest-neighbor sampling. Nearest-neighbor never blends pixels,
// so the output is reproducible across runs and platforms.
//
// Arguments:
//   - img: The source image.
//   - width, height: The target size.
//
// Returns:
//   - *image.NRGBA: The resized image of exactly width x height pixels.
//   - image.Rectangle: The source region that was mapped onto the output.
func Fill(img image.Image, width, height int) (*image.NRGBA, image.Rectangle) {
	crop := FillCrop(img.Bounds(), width, height)
	cropped := imaging.Crop(img, crop)

	return imaging.Resize(cropped, width, height, imaging.NearestNeighbor), crop
}

// Stretch resizes img to width x height with nearest-neighbor sampling
// without preserving aspect ratio.
//
// Arguments:
//   - img: The source image.
//   - width, height: The target size.
//
// Returns:
//   - *image.NRGBA: The resized image.
//   - image.Rectangle: The source region that was mapped onto the output (the full bounds).
func Stretch(img image.Image, width, height int) (*image.NRGBA, image.Rectangle) {
	resized := resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)

	return imaging.Clone(resized), img.Bounds()
}

// ResizeTo resizes img according to mode.
//
// Arguments:
//   - img: The source image.
//   - width, height: The target size.
//   - mode: The resize mode.
//
// Returns:
//   - *image.NRGBA: The resized image.
//   - image.Rectangle: The source region that was mapped onto the output.
//   - error: An error if the mode is unknown or the target size is not positive.
func ResizeTo(img image.Image, width, height int, mode ResizeMode) (*image.NRGBA, image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return nil, image.Rectangle{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	if img.Bounds().Empty() {
		return nil, image.Rectangle{}, fmt.Errorf("empty source image")
	}

	switch mode {
	case ResizeFill, "":
		resized, crop := Fill(img, width, height)
		return resized, crop, nil
	case ResizeStretch:
		resized, crop := Stretch(img, width, height)
		return resized, crop, nil
	default:
		return nil, image.Rectangle{}, mode.Validate()
	}
}
