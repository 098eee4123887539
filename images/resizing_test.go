package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSolid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestFillCrop(t *testing.T) {
	tests := []struct {
		name     string
		bounds   image.Rectangle
		w, h     int
		expected image.Rectangle
	}{
		{"square source", image.Rect(0, 0, 300, 300), 128, 128, image.Rect(0, 0, 300, 300)},
		{"landscape source", image.Rect(0, 0, 400, 200), 128, 128, image.Rect(100, 0, 300, 200)},
		{"portrait source", image.Rect(0, 0, 200, 400), 256, 256, image.Rect(0, 100, 200, 300)},
		{"offset bounds", image.Rect(10, 20, 410, 220), 128, 128, image.Rect(110, 20, 310, 220)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FillCrop(tt.bounds, tt.w, tt.h))
		})
	}
}

func TestFill_KeepsCenter(t *testing.T) {
	// Left and right thirds red, middle third green: a square fill keeps the middle.
	src := newSolid(300, 100, color.NRGBA{R: 255, A: 255})
	for y := 0; y < 100; y++ {
		for x := 100; x < 200; x++ {
			src.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
		}
	}

	out, crop := Fill(src, 16, 16)

	require.Equal(t, image.Rect(0, 0, 16, 16), out.Bounds())
	assert.Equal(t, image.Rect(100, 0, 200, 100), crop)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			assert.Equal(t, color.NRGBA{G: 255, A: 255}, out.NRGBAAt(x, y))
		}
	}
}

func TestResizeTo(t *testing.T) {
	src := newSolid(64, 32, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	for _, mode := range []ResizeMode{ResizeFill, ResizeStretch} {
		t.Run(string(mode), func(t *testing.T) {
			out, crop, err := ResizeTo(src, 128, 128, mode)
			require.NoError(t, err)
			assert.Equal(t, 128, out.Bounds().Dx())
			assert.Equal(t, 128, out.Bounds().Dy())
			assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.NRGBAAt(64, 64))
			assert.False(t, crop.Empty())
		})
	}

	_, _, err := ResizeTo(src, 0, 128, ResizeFill)
	assert.Error(t, err)

	_, _, err = ResizeTo(src, 128, 128, ResizeMode("bicubic"))
	assert.Error(t, err)
}

func TestResizeTo_Deterministic(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 97, 61))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 31)
	}

	a, _, err := ResizeTo(src, 128, 128, ResizeFill)
	require.NoError(t, err)
	b, _, err := ResizeTo(src, 128, 128, ResizeFill)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}
