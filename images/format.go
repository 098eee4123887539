package images

import (
	"bytes"
	"path/filepath"
	"strings"
)

// ImageFormat represents supported image formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
	FormatPNG  ImageFormat = "png"
	FormatGIF  ImageFormat = "gif"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
	// FormatUnknown is returned for files the decoders do not recognize.
	FormatUnknown ImageFormat = ""
)

var extensions = map[string]ImageFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".webp": FormatWebP,
	".gif":  FormatGIF,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
}

// FormatFromPath infers the image format from a file extension.
//
// Arguments:
//   - path: The file path, matched case-insensitively on its extension.
//
// Returns:
//   - ImageFormat: The format, or FormatUnknown.
func FormatFromPath(path string) ImageFormat {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// IsSupported reports whether path has an extension one of the decoders handles.
func IsSupported(path string) bool {
	return FormatFromPath(path) != FormatUnknown
}

// isWebP sniffs the RIFF/WEBP container signature.
func isWebP(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
}
