package blazeface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-faces/inference/providers"
)

func TestProfiles(t *testing.T) {
	tests := []struct {
		profile    Profile
		resolution int
		weights    string
		anchors    string
		onnx       string
	}{
		{ProfileFront, 128, "blazeface.safetensors", "anchors.npy", "blazeface.onnx"},
		{ProfileBack, 256, "blazefaceback.safetensors", "anchorsback.npy", "blazefaceback.onnx"},
	}

	for _, tt := range tests {
		t.Run(tt.profile.String(), func(t *testing.T) {
			assert.NoError(t, tt.profile.Validate())
			assert.Equal(t, tt.resolution, tt.profile.Resolution())
			assert.Equal(t, 896, tt.profile.AnchorCount())
			assert.Equal(t, tt.weights, tt.profile.WeightsFile())
			assert.Equal(t, tt.anchors, tt.profile.AnchorsFile())
			assert.Equal(t, tt.onnx, tt.profile.ONNXFile())
		})
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(" Back ")
	require.NoError(t, err)
	assert.Equal(t, ProfileBack, p)

	_, err = ParseProfile("side")
	assert.Error(t, err)
	assert.Error(t, Profile("").Validate())
}

func TestBackendResolve(t *testing.T) {
	tests := []struct {
		backend Backend
		device  providers.ProviderBackend
		want    Backend
		err     error
	}{
		{BackendAuto, providers.CPUProviderBackend, BackendNative, nil},
		{BackendAuto, "", BackendNative, nil},
		{"", providers.CUDAProviderBackend, BackendONNX, nil},
		{BackendAuto, providers.CoreMLProviderBackend, BackendONNX, nil},
		{BackendNative, providers.CPUProviderBackend, BackendNative, nil},
		{BackendNative, providers.OpenVINOProviderBackend, "", providers.ErrUnsupportedBackend},
		{BackendONNX, providers.CPUProviderBackend, BackendONNX, nil},
		{Backend("tflite"), providers.CPUProviderBackend, "", providers.ErrUnsupportedBackend},
	}

	for _, tt := range tests {
		got, err := tt.backend.Resolve(tt.device)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "%s on %s", tt.backend, tt.device)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s on %s", tt.backend, tt.device)
	}
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "AUTO": BackendAuto, "native": BackendNative, " onnx": BackendONNX} {
		got, err := ParseBackend(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackend("tensorrt")
	assert.ErrorIs(t, err, providers.ErrUnsupportedBackend)
}

func TestBackendAnchorPrecision(t *testing.T) {
	assert.Equal(t, providers.PrecisionFP16, BackendNative.AnchorPrecision(providers.PrecisionFP16))
	assert.Equal(t, providers.PrecisionFP32, BackendNative.AnchorPrecision(providers.PrecisionFP32))
	assert.Equal(t, providers.PrecisionFP32, BackendONNX.AnchorPrecision(providers.PrecisionFP16))
}
