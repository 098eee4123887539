package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-faces/images"
	"github.com/nvr-ai/go-faces/inference/providers"
	"github.com/nvr-ai/go-faces/models/blazeface"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// chdir runs the test from an empty directory so no stray .env is read.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, blazeface.ProfileFront, cfg.Profile)
	assert.Equal(t, blazeface.BackendAuto, cfg.Backend)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, providers.PrecisionFP16, cfg.Provider.Precision)
	assert.Equal(t, float32(0.75), cfg.MinScoreThreshold)
	assert.Equal(t, float32(0.3), cfg.MinSuppressionThreshold)
	assert.Equal(t, images.ResizeFill, cfg.Resize)
}

func TestLoadYAML(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "faces.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_dir: /srv/models
profile: back
min_score_threshold: 0.6
weighted_nms: true
resize: stretch
provider:
  backend: cpu
  precision: FP32
  cpu:
    workers: 2
server:
  addr: 127.0.0.1:9000
  read_timeout: 5s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.ModelDir)
	assert.Equal(t, blazeface.ProfileBack, cfg.Profile)
	assert.Equal(t, float32(0.6), cfg.MinScoreThreshold)
	assert.Equal(t, float32(0.3), cfg.MinSuppressionThreshold)
	assert.True(t, cfg.WeightedNMS)
	assert.Equal(t, images.ResizeStretch, cfg.Resize)
	assert.Equal(t, providers.PrecisionFP32, cfg.Provider.Precision)
	assert.Equal(t, 2, cfg.Provider.CPU.Workers)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
}

func TestLoadRejectsUnknownKeysAndBadValues(t *testing.T) {
	dir := chdir(t)

	tests := map[string]string{
		"unknown_key":     "modle_dir: x\n",
		"bad_threshold":   "min_score_threshold: 1.5\n",
		"bad_profile":     "profile: side\n",
		"int8_on_cpu":     "provider:\n  backend: cpu\n  precision: INT8\n",
		"native_on_cuda":  "backend: native\nprovider:\n  backend: cuda\n  precision: FP16\n",
		"bad_log_level":   "log_level: loud\n",
		"negative_worker": "workers: -1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"FACES_MODEL_DIR":       "/models",
		"FACES_PROFILE":         "BACK",
		"FACES_BACKEND":         "onnx",
		"FACES_DEVICE":          "cuda",
		"FACES_PRECISION":       "fp32",
		"FACES_MIN_SCORE":       "0.5",
		"FACES_MIN_SUPPRESSION": " 0.45 ",
		"FACES_WEIGHTED_NMS":    "true",
		"FACES_RESIZE":          "Stretch",
		"FACES_WORKERS":         "4",
		"FACES_ADDR":            ":9090",
		"FACES_LOG_LEVEL":       "debug",
		"FACES_LIBRARY_PATH":    "/opt/ort/libonnxruntime.so",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/models", cfg.ModelDir)
	assert.Equal(t, blazeface.ProfileBack, cfg.Profile)
	assert.Equal(t, blazeface.BackendONNX, cfg.Backend)
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, providers.PrecisionFP32, cfg.Provider.Precision)
	assert.Equal(t, float32(0.5), cfg.MinScoreThreshold)
	assert.Equal(t, float32(0.45), cfg.MinSuppressionThreshold)
	assert.True(t, cfg.WeightedNMS)
	assert.Equal(t, images.ResizeStretch, cfg.Resize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Provider.LibraryPath)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)
}

func TestApplyEnvNamesBadVariable(t *testing.T) {
	for name, value := range map[string]string{
		"FACES_MIN_SCORE":    "high",
		"FACES_WORKERS":      "many",
		"FACES_PROFILE":      "side",
		"FACES_PRECISION":    "FP64",
		"FACES_WEIGHTED_NMS": "sometimes",
		"FACES_RESIZE":       "zoom",
	} {
		cfg := Default()
		err := cfg.ApplyEnv(env(map[string]string{name: value}))
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), name)
	}
}

func TestLoadReadsEnvironmentAndDotEnv(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FACES_MIN_SCORE=0.4\nFACES_WORKERS=3\n"), 0o600))
	t.Setenv("FACES_WORKERS", "5")
	t.Setenv("FACES_PROFILE", "back")
	t.Cleanup(func() { os.Unsetenv("FACES_MIN_SCORE") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, float32(0.4), cfg.MinScoreThreshold)
	// The process environment wins over .env.
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, blazeface.ProfileBack, cfg.Profile)
}

func TestLoadArgs(t *testing.T) {
	cfg := Default()
	cfg.WeightedNMS = true
	args := cfg.LoadArgs(nil)

	assert.Equal(t, "models", args.BaseDir)
	assert.Equal(t, blazeface.ProfileFront, args.Profile)
	assert.Equal(t, float32(0.75), args.MinScoreThreshold)
	assert.True(t, args.WeightedNMS)
	assert.Equal(t, providers.DefaultConfig(), args.Provider)
}
