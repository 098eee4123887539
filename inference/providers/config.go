// Package providers - Configuration for device selection and ONNX sessions.
package providers

import (
	"github.com/pkg/errors"
)

// Config selects the compute device, the working precision and the options of
// the execution provider that runs on it.
//
// The device is fixed when a model is loaded; it is never varied per call.
type Config struct {
	// Backend specifies the execution provider backend to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// Precision is the working precision of weights and activations.
	Precision Precision `json:"precision" yaml:"precision"`

	// LibraryPath overrides the location of the ONNX Runtime shared library.
	LibraryPath string `json:"library_path,omitempty" yaml:"library_path,omitempty"`

	// IntraOpThreads sets the threads used inside a single graph node. 0 lets the
	// runtime decide.
	IntraOpThreads int `json:"intra_op_threads,omitempty" yaml:"intra_op_threads,omitempty"`

	// InterOpThreads sets the threads used across independent graph nodes.
	InterOpThreads int `json:"inter_op_threads,omitempty" yaml:"inter_op_threads,omitempty"`

	// Per-provider options. Only the block matching Backend is read.
	CPU      CPUOptions      `json:"cpu,omitempty"      yaml:"cpu,omitempty"`
	CUDA     CUDAOptions     `json:"cuda,omitempty"     yaml:"cuda,omitempty"`
	CoreML   CoreMLOptions   `json:"coreml,omitempty"   yaml:"coreml,omitempty"`
	OpenVINO OpenVINOOptions `json:"openvino,omitempty" yaml:"openvino,omitempty"`
}

// DefaultConfig returns the CPU backend at FP16, the working precision of the
// published BlazeFace weights.
func DefaultConfig() Config {
	return Config{
		Backend:   CPUProviderBackend,
		Precision: PrecisionFP16,
	}
}

// Validate checks the backend, the precision and their pairing.
//
// Returns:
//   - error: ErrUnsupportedBackend or ErrUnsupportedPrecision wrapped with context.
func (c Config) Validate() error {
	if c.Backend == "" {
		return errors.Wrap(ErrUnsupportedBackend, "backend is required")
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.Precision == "" {
		return errors.Wrap(ErrUnsupportedPrecision, "precision is required")
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpThreads, c.InterOpThreads)
	}
	return CheckPrecision(c.Backend, c.Precision)
}
