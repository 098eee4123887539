// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"github.com/nvr-ai/go-faces/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap at or above which a lower-scoring candidate is
	// suppressed by an accepted one.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Weighted replaces each accepted detection with the score-weighted mean of
	// the cluster it suppressed instead of dropping the cluster.
	Weighted bool `json:"weighted" yaml:"weighted"`
}

// ApplyNMS filters overlapping detections using Non-Maximum Suppression.
//
// Candidates are first put in descending score order with a stable sort, so
// equal scores are resolved in favour of the candidate that came first in the
// input. Decoder output is already in that order and is left untouched.
//
// Arguments:
//   - detections: The candidate detections. The slice is not modified.
//   - config: NMS configuration.
//
// Returns:
//   - []Detection: The accepted detections in descending score order. Never nil.
func ApplyNMS(detections []Detection, config *NMSConfig) []Detection {
	if len(detections) == 0 {
		return []Detection{}
	}

	ordered := make([]Detection, len(detections))
	copy(ordered, detections)
	SortByScore(ordered)

	if config.Weighted {
		return ApplyWeightedNMS(ordered, config)
	}
	return ApplyGreedyNMS(ordered, config)
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression: the highest
// scoring remaining candidate is accepted and every remaining candidate with
// IoU >= config.IoUThreshold against it is discarded, until none remain.
//
// After this pass no two accepted boxes overlap with IoU >= the threshold.
//
// Arguments:
//   - detections: Slice of detections sorted by descending score.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections.
func ApplyGreedyNMS(detections []Detection, config *NMSConfig) []Detection {
	n := len(detections)
	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(anchor.Box, detections[j].Box) >= config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// ApplyWeightedNMS performs BlazeFace-style weighted suppression. Each accepted
// candidate absorbs the remaining candidates it overlaps with; its box and
// keypoints become the score-weighted mean of the cluster and its score the
// cluster's mean score. Because boxes are blended, accepted boxes may end up
// overlapping slightly more than the threshold.
//
// Arguments:
//   - detections: Slice of detections sorted by descending score.
//   - config: NMS configuration.
//
// Returns:
//   - The blended detections, one per cluster, in descending order of the
//     cluster leader's score.
func ApplyWeightedNMS(detections []Detection, config *NMSConfig) []Detection {
	n := len(detections)
	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		used[i] = true

		cluster := []int{i}
		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(detections[i].Box, detections[j].Box) >= config.IoUThreshold {
				used[j] = true
				cluster = append(cluster, j)
			}
		}

		filtered = append(filtered, blend(detections, cluster))
	}

	return filtered
}

func blend(detections []Detection, cluster []int) Detection {
	leader := detections[cluster[0]]
	if len(cluster) == 1 {
		return leader
	}

	var total float32
	var box images.Box
	keypoints := make([]images.Point, len(leader.Keypoints))

	for _, idx := range cluster {
		d := detections[idx]
		w := d.Score
		total += w
		box.XMin += d.Box.XMin * w
		box.YMin += d.Box.YMin * w
		box.XMax += d.Box.XMax * w
		box.YMax += d.Box.YMax * w
		for k := range keypoints {
			if k < len(d.Keypoints) {
				keypoints[k].X += d.Keypoints[k].X * w
				keypoints[k].Y += d.Keypoints[k].Y * w
			}
		}
	}

	if total <= 0 {
		return leader
	}

	box.XMin /= total
	box.YMin /= total
	box.XMax /= total
	box.YMax /= total
	for k := range keypoints {
		keypoints[k].X /= total
		keypoints[k].Y /= total
	}

	out := Detection{
		Score: total / float32(len(cluster)),
		Box:   box,
	}
	if len(keypoints) > 0 {
		out.Keypoints = keypoints
	}
	return out
}
