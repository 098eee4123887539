package blazeface

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// rawOutput builds an output where every anchor has logit -100 unless listed.
func rawOutput(n int, logits map[int]float32, regs map[int][]float32) *RawOutput {
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = -100
	}
	for i, v := range logits {
		scores[i] = v
	}
	regressions := make([]float32, n*regressionWidth)
	for i, r := range regs {
		copy(regressions[i*regressionWidth:], r)
	}
	return &RawOutput{
		Scores:      tensor.New(tensor.WithShape(n, 1), tensor.WithBacking(scores)),
		Regressions: tensor.New(tensor.WithShape(n, regressionWidth), tensor.WithBacking(regressions)),
	}
}

func frontDecoder(t *testing.T, threshold float32) *Decoder {
	t.Helper()
	d, err := NewDecoder(GenerateAnchors(ProfileFront), DecoderConfig{MinScoreThreshold: threshold})
	require.NoError(t, err)
	return d
}

func TestDecodeAllBelowThresholdIsEmpty(t *testing.T) {
	d := frontDecoder(t, 0.75)

	got, err := d.Decode(rawOutput(anchorCount, nil, nil))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDecodeZeroRegressionSitsOnAnchor(t *testing.T) {
	d := frontDecoder(t, 0.5)
	a := d.anchors.At(300)

	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{300: 4}, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)

	det := got[0]
	assert.InDelta(t, sigmoid(4), det.Score, 1e-6)
	assert.InDelta(t, a.CX, det.Box.Center().X, 1e-6)
	assert.InDelta(t, a.CY, det.Box.Center().Y, 1e-6)
	assert.InDelta(t, 0, det.Box.Width(), 1e-6)
	assert.InDelta(t, 0, det.Box.Height(), 1e-6)

	require.Len(t, det.Keypoints, 6)
	for _, kp := range det.Keypoints {
		assert.InDelta(t, a.CX, kp.X, 1e-6)
		assert.InDelta(t, a.CY, kp.Y, 1e-6)
	}
}

func TestDecodeScalesRegressions(t *testing.T) {
	d := frontDecoder(t, 0.5)
	a := d.anchors.At(10)

	reg := []float32{10, -20, 30, 40, 5, 6, -7, -8, 0, 0, 0, 0, 0, 0, 100, 100}
	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{10: 2}, map[int][]float32{10: reg}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	box := got[0].Box
	cx, cy := a.CX+0.1, a.CY-0.2
	assert.InDelta(t, cx-0.15, box.XMin, 1e-6)
	assert.InDelta(t, cx+0.15, box.XMax, 1e-6)
	assert.InDelta(t, cy-0.2, box.YMin, 1e-6)
	assert.InDelta(t, cy+0.2, box.YMax, 1e-6)

	kps := got[0].Keypoints
	assert.InDelta(t, a.CX+0.05, kps[0].X, 1e-6)
	assert.InDelta(t, a.CY+0.06, kps[0].Y, 1e-6)
	assert.InDelta(t, a.CX-0.07, kps[1].X, 1e-6)
	assert.InDelta(t, a.CY-0.08, kps[1].Y, 1e-6)
	assert.InDelta(t, a.CX+1, kps[5].X, 1e-6)
	assert.InDelta(t, a.CY+1, kps[5].Y, 1e-6)
}

func TestDecodeKeepsScoreEqualToThreshold(t *testing.T) {
	// sigmoid(0) is exactly 0.5.
	d := frontDecoder(t, 0.5)

	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{0: 0, 1: -0.001}, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float32(0.5), got[0].Score)
}

func TestDecodeClipsExtremeLogits(t *testing.T) {
	d := frontDecoder(t, 0)

	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{0: 1e30, 1: -1e30, 2: math32.Inf(1)}, nil))
	require.NoError(t, err)
	require.Len(t, got, anchorCount)
	for _, det := range got {
		assert.False(t, math32.IsNaN(det.Score))
		assert.GreaterOrEqual(t, det.Score, float32(0))
		assert.LessOrEqual(t, det.Score, float32(1))
	}
	assert.InDelta(t, 1, got[0].Score, 1e-6)
}

func TestDecodeDropsNaNLogits(t *testing.T) {
	d := frontDecoder(t, 0.75)

	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{5: math32.NaN(), 7: 3}, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, sigmoid(3), got[0].Score, 1e-6)
	assert.False(t, math32.IsNaN(got[0].Score))
}

func TestDecodeOrdersByScoreStably(t *testing.T) {
	d := frontDecoder(t, 0.5)

	got, err := d.Decode(rawOutput(anchorCount, map[int]float32{3: 2, 5: 3, 7: 2, 600: 1}, nil))
	require.NoError(t, err)
	require.Len(t, got, 4)

	order := []int{5, 3, 7, 600}
	for i, idx := range order {
		a := d.anchors.At(idx)
		assert.InDelta(t, a.CX, got[i].Box.Center().X, 1e-6, "position %d", i)
		assert.InDelta(t, a.CY, got[i].Box.Center().Y, 1e-6, "position %d", i)
	}
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestDecodeEveryScoreMeetsThreshold(t *testing.T) {
	d := frontDecoder(t, 0.7)

	logits := map[int]float32{}
	for i := 0; i < anchorCount; i += 7 {
		logits[i] = float32(i%11) - 5
	}
	got, err := d.Decode(rawOutput(anchorCount, logits, nil))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, det := range got {
		assert.GreaterOrEqual(t, det.Score, float32(0.7))
	}
}

func TestDecodeRejectsMisalignedOutput(t *testing.T) {
	d := frontDecoder(t, 0.5)

	_, err := d.Decode(rawOutput(anchorCount-1, nil, nil))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	bad := rawOutput(anchorCount, nil, nil)
	bad.Regressions = tensor.New(tensor.WithShape(anchorCount, 5), tensor.WithBacking(make([]float32, anchorCount*5)))
	_, err = d.Decode(bad)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = d.Decode(nil)
	assert.Error(t, err)
}

func TestNewDecoderRejectsInvalidThreshold(t *testing.T) {
	anchors := GenerateAnchors(ProfileFront)
	for _, v := range []float32{-0.1, 1.01, math32.NaN()} {
		_, err := NewDecoder(anchors, DecoderConfig{MinScoreThreshold: v})
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %v", v)
	}

	_, err := NewDecoder(anchors, DecoderConfig{Scale: -1})
	assert.Error(t, err)

	d, err := NewDecoder(anchors, DecoderConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultScale, d.config.Scale)
	assert.Equal(t, DefaultScoreClip, d.config.ScoreClip)
}
