// Package providers - Intel OpenVINO execution provider.
package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type at runtime, for example CPU, GPU or NPU.
	DeviceType string `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	// Overrides the accelerator default number of threads.
	NumOfThreads int `json:"num_of_threads,omitempty" yaml:"num_of_threads,omitempty"`
	// Overrides the accelerator default streams.
	NumStreams int `json:"num_streams,omitempty" yaml:"num_streams,omitempty"`
	// Directory the compiled blobs are cached in.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
}

func (OpenVINOOptions) isProviderOptions() {}

// toMap renders the options as the string map ONNX Runtime expects. The
// precision hint follows the configured working precision.
func (o OpenVINOOptions) toMap(precision Precision) map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if precision != "" {
		m["precision"] = string(precision)
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.CacheDir != "" {
		m["cache_dir"] = o.CacheDir
	}
	return m
}

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options   OpenVINOOptions
	precision Precision
}

// Backend returns the backend of the OpenVINO provider.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Options returns the options of the OpenVINO provider.
func (p *OpenVINOProvider) Options() ProviderOptions {
	return p.options
}

// Append registers OpenVINO on the session options.
func (p *OpenVINOProvider) Append(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderOpenVINO(p.options.toMap(p.precision)); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}
	return nil
}

// NewOpenVINOProvider creates a new OpenVINO provider.
//
// Arguments:
//   - args: The OpenVINO options.
//   - precision: The working precision passed to the device as a hint.
//
// Returns:
//   - *OpenVINOProvider: The provider.
func NewOpenVINOProvider(args OpenVINOOptions, precision Precision) *OpenVINOProvider {
	return &OpenVINOProvider{
		options:   args,
		precision: precision,
	}
}
