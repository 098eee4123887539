// Package providers - Provider interface for execution providers.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrUnsupportedBackend is returned for an execution provider backend that is not known.
var ErrUnsupportedBackend = errors.New("unsupported execution provider backend")

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ParseBackend maps a case-insensitive name onto a ProviderBackend.
//
// Arguments:
//   - s: The backend name, for example "cpu" or "CUDA".
//
// Returns:
//   - ProviderBackend: The backend.
//   - error: ErrUnsupportedBackend if the name is not known.
func ParseBackend(s string) (ProviderBackend, error) {
	b := ProviderBackend(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return b, nil
	}
	return "", errors.Wrapf(ErrUnsupportedBackend, "%q", s)
}

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the backend the provider runs on.
	Backend() ProviderBackend
	// Options returns the provider-specific options.
	Options() ProviderOptions
	// Append registers the provider on ONNX Runtime session options.
	Append(options *ort.SessionOptions) error
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - cfg: The provider configuration. The backend selects which of the
//     per-provider option blocks is used.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: ErrUnsupportedBackend if the backend is not known.
func NewProvider(cfg Config) (ExecutionProvider, error) {
	switch cfg.Backend {
	case CPUProviderBackend, "":
		return NewCPUProvider(cfg.CPU), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(cfg.CoreML), nil
	case OpenVINOProviderBackend:
		return NewOpenVINOProvider(cfg.OpenVINO, cfg.Precision), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(cfg.CUDA), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedBackend, "%q", cfg.Backend)
	}
}
