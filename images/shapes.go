// Package images - Image processing utilities.
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Point is a coordinate pair. Detections carry points in normalized [0,1]
// image-fraction space until they are projected onto a source image.
type Point struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Box is an axis-aligned bounding box given by its two extreme corners.
type Box struct {
	XMin float32 `json:"xmin" yaml:"xmin"`
	YMin float32 `json:"ymin" yaml:"ymin"`
	XMax float32 `json:"xmax" yaml:"xmax"`
	YMax float32 `json:"ymax" yaml:"ymax"`
}

// BoxFromCenter builds a box from its center and size.
//
// Arguments:
//   - cx, cy: The center of the box.
//   - w, h: The width and height of the box.
//
// Returns:
//   - Box: The box spanning (cx-w/2, cy-h/2) to (cx+w/2, cy+h/2).
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		XMin: cx - w/2,
		YMin: cy - h/2,
		XMax: cx + w/2,
		YMax: cy + h/2,
	}
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 { return b.XMax - b.XMin }

// Height returns the vertical extent of the box.
func (b Box) Height() float32 { return b.YMax - b.YMin }

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{X: (b.XMin + b.XMax) / 2, Y: (b.YMin + b.YMax) / 2}
}

// Area returns the area of the box. Degenerate or inverted boxes have area 0.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect converts the box to an integral image.Rectangle, truncating the
// fractional part of each corner.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.XMin), int(b.YMin), int(b.XMax), int(b.YMax)).Canon()
}

func (b Box) String() string {
	return fmt.Sprintf("(%f, %f), (%f, %f)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// CalculateIoU returns the Intersection over Union of two boxes:
//
//	IoU = Area(A ∩ B) / (Area(A) + Area(B) - Area(A ∩ B))
//
// Disjoint boxes, boxes that only touch along an edge and zero-area boxes all
// yield 0, so the result is always in [0, 1] and never NaN.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: The IoU score.
//
// Example:
//
// ```go
//
//	a := Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
//	b := Box{XMin: 5, YMin: 5, XMax: 15, YMax: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Box) float32 {
	ix1 := math32.Max(r.XMin, o.XMin)
	iy1 := math32.Max(r.YMin, o.YMin)
	ix2 := math32.Min(r.XMax, o.XMax)
	iy2 := math32.Min(r.YMax, o.YMax)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0
	}

	return interArea / unionArea
}
