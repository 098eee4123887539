package providers

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPrecision(t *testing.T) {
	tests := []struct {
		backend   ProviderBackend
		precision Precision
		wantErr   error
	}{
		{CPUProviderBackend, PrecisionFP32, nil},
		{CPUProviderBackend, PrecisionFP16, nil},
		{CPUProviderBackend, PrecisionINT8, ErrUnsupportedPrecision},
		{CUDAProviderBackend, PrecisionFP16, nil},
		{CUDAProviderBackend, PrecisionFP8, ErrUnsupportedPrecision},
		{CoreMLProviderBackend, PrecisionFP16, nil},
		{OpenVINOProviderBackend, PrecisionFP32, nil},
		{ProviderBackend("tpu"), PrecisionFP32, ErrUnsupportedBackend},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend)+"/"+string(tt.precision), func(t *testing.T) {
			err := CheckPrecision(tt.backend, tt.precision)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestRound(t *testing.T) {
	values := []float32{1.0, 0.1, 65504, 1e-8}
	Round(PrecisionFP16, values)

	assert.Equal(t, float32(1.0), values[0])
	assert.InDelta(t, 0.1, values[1], 1e-4)
	assert.NotEqual(t, float32(0.1), values[1])
	assert.Equal(t, float32(65504), values[2])
	assert.Equal(t, float32(0), values[3])

	exact := []float32{0.1}
	Round(PrecisionFP32, exact)
	assert.Equal(t, float32(0.1), exact[0])
}

func TestParse(t *testing.T) {
	b, err := ParseBackend(" CUDA ")
	require.NoError(t, err)
	assert.Equal(t, CUDAProviderBackend, b)

	_, err = ParseBackend("dnnl")
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))

	p, err := ParsePrecision("fp16")
	require.NoError(t, err)
	assert.Equal(t, PrecisionFP16, p)

	_, err = ParsePrecision("bf16")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Precision = PrecisionINT8
	assert.True(t, errors.Is(cfg.Validate(), ErrUnsupportedPrecision))

	cfg = DefaultConfig()
	cfg.Backend = ""
	assert.True(t, errors.Is(cfg.Validate(), ErrUnsupportedBackend))

	cfg = DefaultConfig()
	cfg.IntraOpThreads = -1
	assert.Error(t, cfg.Validate())
}

func TestNewProvider(t *testing.T) {
	for _, backend := range []ProviderBackend{
		CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend,
	} {
		p, err := NewProvider(Config{Backend: backend, Precision: PrecisionFP16})
		require.NoError(t, err)
		assert.Equal(t, backend, p.Backend())
		assert.NotNil(t, p.Options())
	}

	_, err := NewProvider(Config{Backend: "tensorrt"})
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))
}

func TestProviderOptions(t *testing.T) {
	flags := CoreMLOptions{MLProgram: true, CPUOnly: true}.Flags()
	assert.Equal(t, coreMLFlagCreateMLProgram|coreMLFlagUseCPUOnly, flags)
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())

	copyDefault := false
	cuda := CUDAOptions{DeviceID: 1, GPUMemLimit: 1 << 30, DoCopyInDefaultStream: &copyDefault}.toMap()
	assert.Equal(t, map[string]string{
		"device_id":                 "1",
		"gpu_mem_limit":             "1073741824",
		"do_copy_in_default_stream": "0",
	}, cuda)

	ov := OpenVINOOptions{DeviceType: "GPU", NumOfThreads: 4}.toMap(PrecisionFP16)
	assert.Equal(t, map[string]string{
		"device_type":    "GPU",
		"precision":      "FP16",
		"num_of_threads": "4",
	}, ov)
}

func TestGetSharedLibPath(t *testing.T) {
	path, err := GetSharedLibPath("/opt/ort/libonnxruntime.so")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", path)

	t.Setenv(LibraryPathEnv, "/env/libonnxruntime.so")
	path, err = GetSharedLibPath("")
	require.NoError(t, err)
	assert.Equal(t, "/env/libonnxruntime.so", path)
}

func TestNewSession_MissingModel(t *testing.T) {
	_, err := NewSession(NewCPUProvider(CPUOptions{}), NewSessionArgs{
		ModelPath: t.TempDir() + "/missing.onnx",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.onnx")
}
