// Package postprocess - Postprocessing utilities for face detections.
package postprocess

import (
	"fmt"
	"sort"

	"github.com/nvr-ai/go-faces/images"
)

// Keypoint indexes the facial landmarks BlazeFace regresses, in output order.
type Keypoint int

const (
	KeypointRightEye Keypoint = iota
	KeypointLeftEye
	KeypointNoseTip
	KeypointMouth
	KeypointRightEarTragion
	KeypointLeftEarTragion
)

var keypointNames = [...]string{
	"right_eye",
	"left_eye",
	"nose_tip",
	"mouth",
	"right_ear_tragion",
	"left_ear_tragion",
}

func (k Keypoint) String() string {
	if k < 0 || int(k) >= len(keypointNames) {
		return fmt.Sprintf("keypoint_%d", int(k))
	}
	return keypointNames[k]
}

// Detection represents a single decoded face.
type Detection struct {
	// Score is the activated confidence in [0, 1].
	Score float32 `json:"score" yaml:"score"`
	// Box is the face bounding box.
	Box images.Box `json:"box" yaml:"box"`
	// Keypoints are the facial landmarks in Keypoint order. Empty when the
	// regressor does not emit landmarks.
	Keypoints []images.Point `json:"keypoints,omitempty" yaml:"keypoints,omitempty"`
}

// Keypoint returns the landmark k and whether the detection carries it.
func (d Detection) Keypoint(k Keypoint) (images.Point, bool) {
	if k < 0 || int(k) >= len(d.Keypoints) {
		return images.Point{}, false
	}
	return d.Keypoints[k], true
}

func (d Detection) String() string {
	return fmt.Sprintf("Face (score %f): %s, %d keypoints", d.Score, d.Box, len(d.Keypoints))
}

// SortByScore orders detections by descending score. The sort is stable, so
// detections with equal scores keep their incoming relative order.
//
// Arguments:
//   - detections: The detections to sort in place.
func SortByScore(detections []Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}
