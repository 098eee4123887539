package blazeface

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/inference/providers"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// Model is a loaded BlazeFace detector: a network bound to its anchors and
// thresholds. It is safe for concurrent use; the native backend shares its
// read-only weights across calls and the ONNX backend serializes them.
type Model struct {
	profile   Profile
	backend   Backend
	device    providers.ProviderBackend
	precision providers.Precision

	network Network
	anchors *Anchors
	decoder *Decoder
	nms     postprocess.NMSConfig
	logger  logrus.FieldLogger
}

// Info describes a loaded model.
type Info struct {
	Profile                 Profile                   `json:"profile"`
	Backend                 Backend                   `json:"backend"`
	Device                  providers.ProviderBackend `json:"device"`
	// Precision is the configured working precision. The native backend
	// computes in it. On the ONNX backend the exported graph fixes the
	// arithmetic and the value only reaches providers that take a precision
	// hint, such as OpenVINO.
	Precision               providers.Precision       `json:"precision"`
	Resolution              int                       `json:"resolution"`
	Anchors                 int                       `json:"anchors"`
	MinScoreThreshold       float32                   `json:"min_score_threshold"`
	MinSuppressionThreshold float32                   `json:"min_suppression_threshold"`
	WeightedNMS             bool                      `json:"weighted_nms"`
}

// Info returns the model description.
func (m *Model) Info() Info {
	return Info{
		Profile:                 m.profile,
		Backend:                 m.backend,
		Device:                  m.device,
		Precision:               m.precision,
		Resolution:              m.profile.Resolution(),
		Anchors:                 m.anchors.Len(),
		MinScoreThreshold:       m.decoder.config.MinScoreThreshold,
		MinSuppressionThreshold: m.nms.IoUThreshold,
		WeightedNMS:             m.nms.Weighted,
	}
}

// Profile returns the profile the model was loaded for.
func (m *Model) Profile() Profile {
	return m.profile
}

// Anchors returns the anchor table.
func (m *Model) Anchors() *Anchors {
	return m.anchors
}

// Forward runs the network over a (3, R, R) input tensor.
//
// Returns:
//   - *RawOutput: Scores and regressions with one row per anchor.
//   - error: ErrShapeMismatch if the input resolution is not the profile's.
func (m *Model) Forward(input *tensor.Dense) (*RawOutput, error) {
	raw, err := m.network.Forward(input)
	if err != nil {
		return nil, err
	}
	if raw.Len() != m.anchors.Len() {
		return nil, shapeError("network output", []int{m.anchors.Len()}, []int{raw.Len()})
	}
	return raw, nil
}

// Decode turns raw output into score-filtered candidates in descending score
// order.
func (m *Model) Decode(raw *RawOutput) ([]postprocess.Detection, error) {
	return m.decoder.Decode(raw)
}

// Suppress resolves overlapping candidates with non-maximum suppression.
func (m *Model) Suppress(candidates []postprocess.Detection) []postprocess.Detection {
	return postprocess.ApplyNMS(candidates, &m.nms)
}

// Detect runs the forward pass, decoding and suppression over one input tensor.
//
// Arguments:
//   - input: A (3, R, R) float32 tensor in [-1, 1], CHW, RGB.
//
// Returns:
//   - []postprocess.Detection: The final detections in normalized coordinates
//     of the input, highest score first. Never nil on success.
//   - error: An error if the input shape is wrong or the network fails.
func (m *Model) Detect(input *tensor.Dense) ([]postprocess.Detection, error) {
	raw, err := m.Forward(input)
	if err != nil {
		return nil, errors.Wrap(err, "forward pass")
	}
	candidates, err := m.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	detections := m.Suppress(candidates)

	m.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"detections": len(detections),
	}).Debug("detected faces")
	return detections, nil
}

// Close releases the network.
func (m *Model) Close() error {
	return m.network.Close()
}
