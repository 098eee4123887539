// Package config - Application configuration from YAML, .env files and
// FACES_* environment variables.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-faces/images"
	"github.com/nvr-ai/go-faces/inference/providers"
	"github.com/nvr-ai/go-faces/models/blazeface"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACES_"

// Config is the full configuration of the detector, the CLI and the service.
type Config struct {
	// ModelDir holds the weight, anchor and ONNX files.
	ModelDir string `json:"model_dir" yaml:"model_dir"`
	// Profile selects the front or back model.
	Profile blazeface.Profile `json:"profile" yaml:"profile"`
	// Backend selects the native or ONNX forward pass.
	Backend blazeface.Backend `json:"backend" yaml:"backend"`
	// Provider selects the device and precision.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// MinScoreThreshold discards candidates with a lower score.
	MinScoreThreshold float32 `json:"min_score_threshold" yaml:"min_score_threshold"`
	// MinSuppressionThreshold is the IoU at or above which NMS suppresses.
	MinSuppressionThreshold float32 `json:"min_suppression_threshold" yaml:"min_suppression_threshold"`
	// WeightedNMS blends overlapping candidates instead of dropping them.
	WeightedNMS bool `json:"weighted_nms" yaml:"weighted_nms"`
	// Resize is how photos are fitted to the model input.
	Resize images.ResizeMode `json:"resize" yaml:"resize"`
	// Workers bounds concurrent photos in batch runs. 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
	// Server configures the HTTP service.
	Server ServerConfig `json:"server" yaml:"server"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// MaxBodyBytes bounds the size of an uploaded image.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// Default returns the configuration used when nothing overrides it.
//
// Returns:
//   - Config: Front profile, automatic backend, CPU at FP16, score threshold
//     0.75 and suppression threshold 0.3.
func Default() Config {
	return Config{
		ModelDir:                "models",
		Profile:                 blazeface.ProfileFront,
		Backend:                 blazeface.BackendAuto,
		Provider:                providers.DefaultConfig(),
		MinScoreThreshold:       0.75,
		MinSuppressionThreshold: 0.3,
		Resize:                  images.ResizeFill,
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path, then variables from a .env file in the working directory, then FACES_*
// environment variables. Variables already set in the environment win over
// the .env file.
//
// Arguments:
//   - path: The YAML file. Empty skips the file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if a layer cannot be read or the result is invalid.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "loading .env")
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeYAML decodes a YAML document over the current values. Unknown keys
// are rejected; an empty document changes nothing.
func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from FACES_* variables.
//
// Arguments:
//   - lookup: The variable source, usually os.LookupEnv.
//
// Returns:
//   - error: An error naming the variable whose value cannot be parsed.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var err error
	parse := func(name string, set func(string) error) {
		if err != nil {
			return
		}
		if v, ok := lookup(EnvPrefix + name); ok {
			if perr := set(strings.TrimSpace(v)); perr != nil {
				err = errors.Wrapf(perr, "%s%s=%q", EnvPrefix, name, v)
			}
		}
	}
	float := func(dst *float32) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 32)
			*dst = float32(f)
			return err
		}
	}

	str("MODEL_DIR", &c.ModelDir)
	str("LIBRARY_PATH", &c.Provider.LibraryPath)
	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.LogLevel)

	parse("PROFILE", func(v string) (perr error) {
		c.Profile, perr = blazeface.ParseProfile(v)
		return perr
	})
	parse("BACKEND", func(v string) (perr error) {
		c.Backend, perr = blazeface.ParseBackend(v)
		return perr
	})
	parse("DEVICE", func(v string) (perr error) {
		c.Provider.Backend, perr = providers.ParseBackend(v)
		return perr
	})
	parse("PRECISION", func(v string) (perr error) {
		c.Provider.Precision, perr = providers.ParsePrecision(v)
		return perr
	})
	parse("MIN_SCORE", float(&c.MinScoreThreshold))
	parse("MIN_SUPPRESSION", float(&c.MinSuppressionThreshold))
	parse("WEIGHTED_NMS", func(v string) (perr error) {
		c.WeightedNMS, perr = strconv.ParseBool(v)
		return perr
	})
	parse("RESIZE", func(v string) error {
		c.Resize = images.ResizeMode(strings.ToLower(v))
		return c.Resize.Validate()
	})
	parse("WORKERS", func(v string) (perr error) {
		c.Workers, perr = strconv.Atoi(v)
		return perr
	})
	return err
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.ModelDir == "" {
		return errors.New("model_dir is required")
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if _, err := blazeface.ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if _, err := c.Backend.Resolve(c.Provider.Backend); err != nil {
		return err
	}
	for name, v := range map[string]float32{
		"min_score_threshold":       c.MinScoreThreshold,
		"min_suppression_threshold": c.MinSuppressionThreshold,
	} {
		if !(v >= 0 && v <= 1) {
			return errors.Wrapf(blazeface.ErrInvalidThreshold, "%s %v is outside [0, 1]", name, v)
		}
	}
	if c.Resize != "" {
		if err := c.Resize.Validate(); err != nil {
			return err
		}
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, errors.Wrap(err, "log_level")
	}
	return level, nil
}

// LoadArgs returns the model load arguments the configuration describes.
func (c *Config) LoadArgs(logger logrus.FieldLogger) blazeface.LoadArgs {
	return blazeface.LoadArgs{
		BaseDir:                 c.ModelDir,
		Profile:                 c.Profile,
		MinScoreThreshold:       c.MinScoreThreshold,
		MinSuppressionThreshold: c.MinSuppressionThreshold,
		WeightedNMS:             c.WeightedNMS,
		Provider:                c.Provider,
		Backend:                 c.Backend,
		Logger:                  logger,
	}
}
