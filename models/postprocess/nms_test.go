package postprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-faces/images"
)

// boxWithIoU returns a box of the same size as base shifted horizontally so
// that its IoU with base equals iou.
func boxWithIoU(base images.Box, iou float32) images.Box {
	w := base.Width()
	// Two equal boxes overlapping by d along x: IoU = d / (2w - d).
	d := 2 * w * iou / (1 + iou)
	shift := w - d
	return images.Box{XMin: base.XMin + shift, YMin: base.YMin, XMax: base.XMax + shift, YMax: base.YMax}
}

func TestApplyNMS_Empty(t *testing.T) {
	out := ApplyNMS(nil, &NMSConfig{IoUThreshold: 0.3})
	require.NotNil(t, out)
	assert.Empty(t, out)

	out = ApplyNMS([]Detection{}, &NMSConfig{IoUThreshold: 0.3, Weighted: true})
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestApplyNMS_Scenarios(t *testing.T) {
	base := images.Box{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}

	tests := []struct {
		name      string
		input     []Detection
		threshold float32
		expected  []float32
	}{
		{
			name: "heavily overlapping boxes keep the higher score",
			input: []Detection{
				{Score: 0.9, Box: base},
				{Score: 0.8, Box: boxWithIoU(base, 0.95)},
			},
			threshold: 0.3,
			expected:  []float32{0.9},
		},
		{
			name: "lower score first in input is still suppressed",
			input: []Detection{
				{Score: 0.8, Box: boxWithIoU(base, 0.95)},
				{Score: 0.9, Box: base},
			},
			threshold: 0.3,
			expected:  []float32{0.9},
		},
		{
			name: "well separated boxes are both kept",
			input: []Detection{
				{Score: 0.9, Box: base},
				{Score: 0.8, Box: images.Box{XMin: 0.6, YMin: 0.6, XMax: 0.9, YMax: 0.9}},
			},
			threshold: 0.3,
			expected:  []float32{0.9, 0.8},
		},
		{
			name: "iou exactly at threshold suppresses",
			input: []Detection{
				{Score: 0.9, Box: images.Box{XMin: 0, YMin: 0, XMax: 1, YMax: 1}},
				{Score: 0.8, Box: images.Box{XMin: 0, YMin: 0, XMax: 0.5, YMax: 1}},
			},
			threshold: 0.5,
			expected:  []float32{0.9},
		},
		{
			name: "chain only suppresses against accepted boxes",
			input: []Detection{
				{Score: 0.9, Box: images.Box{XMin: 0.0, YMin: 0, XMax: 0.4, YMax: 0.2}},
				{Score: 0.8, Box: images.Box{XMin: 0.2, YMin: 0, XMax: 0.6, YMax: 0.2}},
				{Score: 0.7, Box: images.Box{XMin: 0.4, YMin: 0, XMax: 0.8, YMax: 0.2}},
			},
			threshold: 0.3,
			expected:  []float32{0.9, 0.7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ApplyNMS(tt.input, &NMSConfig{IoUThreshold: tt.threshold})
			scores := make([]float32, len(out))
			for i, d := range out {
				scores[i] = d.Score
			}
			assert.Equal(t, tt.expected, scores)
		})
	}
}

func TestApplyNMS_TieBreakKeepsFirst(t *testing.T) {
	a := Detection{Score: 0.9, Box: images.Box{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5}}
	b := Detection{Score: 0.9, Box: images.Box{XMin: 0.01, YMin: 0, XMax: 0.51, YMax: 0.5}}

	out := ApplyNMS([]Detection{a, b}, &NMSConfig{IoUThreshold: 0.3})
	require.Len(t, out, 1)
	assert.Equal(t, a.Box, out[0].Box)

	out = ApplyNMS([]Detection{b, a}, &NMSConfig{IoUThreshold: 0.3})
	require.Len(t, out, 1)
	assert.Equal(t, b.Box, out[0].Box)
}

func TestApplyNMS_DoesNotMutateInput(t *testing.T) {
	input := []Detection{
		{Score: 0.1, Box: images.Box{XMin: 0, YMin: 0, XMax: 0.1, YMax: 0.1}},
		{Score: 0.9, Box: images.Box{XMin: 0.5, YMin: 0.5, XMax: 0.6, YMax: 0.6}},
	}
	ApplyNMS(input, &NMSConfig{IoUThreshold: 0.3})

	assert.Equal(t, float32(0.1), input[0].Score)
	assert.Equal(t, float32(0.9), input[1].Score)
}

func TestApplyGreedyNMS_PairwiseBelowThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const threshold = 0.3

	for round := 0; round < 20; round++ {
		candidates := make([]Detection, 200)
		for i := range candidates {
			cx, cy := rng.Float32(), rng.Float32()
			w, h := 0.05+rng.Float32()*0.2, 0.05+rng.Float32()*0.2
			candidates[i] = Detection{Score: rng.Float32(), Box: images.BoxFromCenter(cx, cy, w, h)}
		}

		out := ApplyNMS(candidates, &NMSConfig{IoUThreshold: threshold})
		require.NotEmpty(t, out)
		for i := range out {
			if i > 0 {
				assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
			}
			for j := i + 1; j < len(out); j++ {
				assert.Less(t, images.CalculateIoU(out[i].Box, out[j].Box), float32(threshold))
			}
		}
	}
}

func TestApplyWeightedNMS_Blends(t *testing.T) {
	a := Detection{
		Score:     0.75,
		Box:       images.Box{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		Keypoints: []images.Point{{X: 0.4, Y: 0.4}},
	}
	b := Detection{
		Score:     0.25,
		Box:       images.Box{XMin: 0.2, YMin: 0, XMax: 1.2, YMax: 1},
		Keypoints: []images.Point{{X: 0.8, Y: 0.4}},
	}
	far := Detection{Score: 0.5, Box: images.Box{XMin: 5, YMin: 5, XMax: 6, YMax: 6}}

	out := ApplyNMS([]Detection{b, far, a}, &NMSConfig{IoUThreshold: 0.3, Weighted: true})
	require.Len(t, out, 2)

	assert.InDelta(t, 0.5, out[0].Score, 1e-6)
	assert.InDelta(t, 0.05, out[0].Box.XMin, 1e-6)
	assert.InDelta(t, 1.05, out[0].Box.XMax, 1e-6)
	require.Len(t, out[0].Keypoints, 1)
	assert.InDelta(t, 0.5, out[0].Keypoints[0].X, 1e-6)

	assert.Equal(t, far, out[1])
}

func TestKeypoint(t *testing.T) {
	d := Detection{Keypoints: []images.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}}

	p, ok := d.Keypoint(KeypointLeftEye)
	assert.True(t, ok)
	assert.Equal(t, images.Point{X: 3, Y: 4}, p)

	_, ok = d.Keypoint(KeypointMouth)
	assert.False(t, ok)

	assert.Equal(t, "nose_tip", KeypointNoseTip.String())
	assert.Equal(t, "keypoint_9", Keypoint(9).String())
}
