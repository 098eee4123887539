package images

import (
	"bytes"
	"image"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Open reads and decodes the image file at path.
//
// Arguments:
//   - path: The image file to decode.
//
// Returns:
//   - image.Image: The decoded image, EXIF orientation applied.
//   - error: An error if the file cannot be read or decoded.
func Open(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", path)
	}

	img, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}

	return img, nil
}

// Decode decodes an encoded image held in memory. WebP goes through libwebp,
// every other format through imaging's registered decoders (JPEG, PNG, GIF,
// BMP, TIFF).
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the data is empty, truncated or of an unknown format.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "webp")
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	return img, nil
}
