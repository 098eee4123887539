package blazeface

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-faces/images"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

const (
	// DefaultScale is the coordinate scale the regressor was trained against.
	DefaultScale float32 = 100
	// DefaultScoreClip bounds raw logits before the sigmoid.
	DefaultScoreClip float32 = 100
)

// DecoderConfig parameterizes anchor decoding.
type DecoderConfig struct {
	// Scale divides every regression offset. Defaults to DefaultScale.
	Scale float32
	// ScoreClip clamps raw scores to [-ScoreClip, ScoreClip]. Defaults to
	// DefaultScoreClip.
	ScoreClip float32
	// MinScoreThreshold discards candidates whose activated score is below it.
	MinScoreThreshold float32
}

// Decoder turns raw network output into scored detections.
type Decoder struct {
	anchors *Anchors
	config  DecoderConfig
}

// NewDecoder creates a decoder over an anchor table.
//
// Arguments:
//   - anchors: The anchor table of the model.
//   - config: Decoding parameters.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: ErrInvalidThreshold for a threshold outside [0, 1], or an error
//     for a non-positive scale.
func NewDecoder(anchors *Anchors, config DecoderConfig) (*Decoder, error) {
	if anchors == nil {
		return nil, errors.New("anchors are required")
	}
	if err := checkThreshold("min score threshold", config.MinScoreThreshold); err != nil {
		return nil, err
	}
	if config.Scale == 0 {
		config.Scale = DefaultScale
	}
	if config.ScoreClip == 0 {
		config.ScoreClip = DefaultScoreClip
	}
	if config.Scale < 0 || config.ScoreClip < 0 {
		return nil, errors.Errorf("scale and score clip must be positive, got %v and %v",
			config.Scale, config.ScoreClip)
	}
	return &Decoder{anchors: anchors, config: config}, nil
}

func checkThreshold(name string, v float32) error {
	if math32.IsNaN(v) || v < 0 || v > 1 {
		return errors.Wrapf(ErrInvalidThreshold, "%s %v is outside [0, 1]", name, v)
	}
	return nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Decode activates scores, applies the score threshold and decodes the
// surviving anchors into boxes and keypoints.
//
// The sigmoid is applied before the threshold; a candidate whose activated
// score equals the threshold is kept. Each anchor i decodes from anchor i and
// regression row i only. The result is sorted by descending score with a
// stable sort, so equal scores keep anchor order.
//
// Arguments:
//   - raw: The network output.
//
// Returns:
//   - []postprocess.Detection: The candidates, never nil.
//   - error: ErrShapeMismatch if the output does not align with the anchors.
func (d *Decoder) Decode(raw *RawOutput) ([]postprocess.Detection, error) {
	if raw == nil || raw.Scores == nil || raw.Regressions == nil {
		return nil, errors.New("raw output is incomplete")
	}

	n := d.anchors.Len()
	scoreShape, regShape := raw.Scores.Shape(), raw.Regressions.Shape()
	if len(scoreShape) != 2 || scoreShape[0] != n || scoreShape[1] != 1 {
		return nil, shapeError("scores", []int{n, 1}, scoreShape)
	}
	if len(regShape) != 2 || regShape[0] != n || regShape[1] < 4 || (regShape[1]-4)%2 != 0 {
		return nil, shapeError("regressions", []int{n, regressionWidth}, regShape)
	}

	scores := contiguous(raw.Scores)
	regs := contiguous(raw.Regressions)
	width := regShape[1]
	keypoints := (width - 4) / 2

	scale := d.config.Scale
	clip := d.config.ScoreClip

	out := []postprocess.Detection{}
	for i := 0; i < n; i++ {
		logit := math32.Max(-clip, math32.Min(clip, scores[i]))
		score := sigmoid(logit)
		// NaN scores fail the comparison and are dropped.
		if !(score >= d.config.MinScoreThreshold) {
			continue
		}

		a := d.anchors.At(i)
		r := regs[i*width : (i+1)*width]

		cx := a.CX + r[0]/scale
		cy := a.CY + r[1]/scale
		w := r[2] / scale
		h := r[3] / scale

		det := postprocess.Detection{
			Score: score,
			Box:   images.BoxFromCenter(cx, cy, w, h),
		}
		if keypoints > 0 {
			det.Keypoints = make([]images.Point, keypoints)
			for k := 0; k < keypoints; k++ {
				det.Keypoints[k] = images.Point{
					X: a.CX + r[4+2*k]/scale,
					Y: a.CY + r[5+2*k]/scale,
				}
			}
		}
		out = append(out, det)
	}

	postprocess.SortByScore(out)
	return out, nil
}
