// Package providers - NVIDIA CUDA execution provider.
package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAOptions contains arguments for the CUDA provider. Zero values leave the
// runtime default in place.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id"                  yaml:"device_id"`
	// The size limit of the device memory arena in bytes.
	GPUMemLimit int64 `json:"gpu_mem_limit,omitempty" yaml:"gpu_mem_limit,omitempty"`
	// kNextPowerOfTwo or kSameAsRequested.
	ArenaExtendStrategy string `json:"arena_extend_strategy,omitempty" yaml:"arena_extend_strategy,omitempty"`
	// EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnn_conv_algo_search,omitempty" yaml:"cudnn_conv_algo_search,omitempty"`
	// Copies in the default stream. The runtime default is true.
	DoCopyInDefaultStream *bool `json:"do_copy_in_default_stream,omitempty" yaml:"do_copy_in_default_stream,omitempty"`
	// Lets cuDNN use the largest workspace for convolution algorithms.
	CudnnConvUseMaxWorkspace bool `json:"cudnn_conv_use_max_workspace,omitempty" yaml:"cudnn_conv_use_max_workspace,omitempty"`
	// Captures the graph with CUDA Graphs. Input shapes must be static, which
	// the BlazeFace models are.
	EnableCudaGraph bool `json:"enable_cuda_graph,omitempty" yaml:"enable_cuda_graph,omitempty"`
	// Prefers NHWC operators over NCHW.
	PreferNHWC bool `json:"prefer_nhwc,omitempty" yaml:"prefer_nhwc,omitempty"`
}

func (CUDAOptions) isProviderOptions() {}

// toMap renders the options as the string map ONNX Runtime expects.
func (o CUDAOptions) toMap() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	if o.DoCopyInDefaultStream != nil {
		m["do_copy_in_default_stream"] = boolFlag(*o.DoCopyInDefaultStream)
	}
	if o.CudnnConvUseMaxWorkspace {
		m["cudnn_conv_use_max_workspace"] = "1"
	}
	if o.EnableCudaGraph {
		m["enable_cuda_graph"] = "1"
	}
	if o.PreferNHWC {
		m["prefer_nhwc"] = "1"
	}
	return m
}

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// Backend returns the backend of the CUDA provider.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the options of the CUDA provider.
func (p *CUDAProvider) Options() ProviderOptions {
	return p.options
}

// Append registers CUDA on the session options.
//
// Arguments:
//   - options: The session options to register on.
//
// Returns:
//   - error: An error if the runtime was built without CUDA or rejects an option.
func (p *CUDAProvider) Append(options *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return errors.Wrap(err, "error creating CUDA provider options")
	}
	defer cuda.Destroy()

	if err := cuda.Update(p.options.toMap()); err != nil {
		return errors.Wrap(err, "error updating CUDA provider options")
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return errors.Wrap(err, "error enabling CUDA")
	}
	return nil
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(args CUDAOptions) *CUDAProvider {
	return &CUDAProvider{
		options: args,
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
