package blazeface

import (
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/inference/providers"
)

// Tensor names of the exported BlazeFace graph.
const (
	onnxInput       = "input"
	onnxRegressors  = "regressors"
	onnxClassifiers = "classificators"
)

// onnxNetwork runs the exported graph through ONNX Runtime. The session binds
// its input and output tensors, so calls are serialized.
type onnxNetwork struct {
	mu         sync.Mutex
	session    *providers.Session
	resolution int
	anchors    int
}

// NewONNXNetwork opens an ONNX Runtime session over the profile's exported graph.
//
// Arguments:
//   - path: The .onnx file.
//   - p: The model profile.
//   - provider: The execution provider to register on the session.
//   - cfg: The provider configuration for library path and threading.
//
// Returns:
//   - Network: The network. The caller must Close it.
//   - error: An error if the runtime or the model cannot be loaded.
func NewONNXNetwork(path string, p Profile, provider providers.ExecutionProvider, cfg providers.Config) (Network, error) {
	r, n := int64(p.Resolution()), int64(p.AnchorCount())

	session, err := providers.NewSession(provider, providers.NewSessionArgs{
		ModelPath: path,
		Inputs: []providers.TensorSpec{
			{Name: onnxInput, Shape: []int64{1, 3, r, r}},
		},
		Outputs: []providers.TensorSpec{
			{Name: onnxRegressors, Shape: []int64{1, n, regressionWidth}},
			{Name: onnxClassifiers, Shape: []int64{1, n, 1}},
		},
		LibraryPath:    cfg.LibraryPath,
		IntraOpThreads: cfg.IntraOpThreads,
		InterOpThreads: cfg.InterOpThreads,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	return &onnxNetwork{session: session, resolution: int(r), anchors: int(n)}, nil
}

// Forward copies the input into the bound tensor, runs the session and copies
// the outputs out.
func (o *onnxNetwork) Forward(input *tensor.Dense) (*RawOutput, error) {
	if err := checkInput(input, o.resolution); err != nil {
		return nil, err
	}
	data := contiguous(input)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil, errors.New("network is closed")
	}

	copy(o.session.Inputs[0].GetData(), data)
	if err := o.session.Run(); err != nil {
		return nil, err
	}

	regressions := append([]float32(nil), o.session.Outputs[0].GetData()...)
	scores := append([]float32(nil), o.session.Outputs[1].GetData()...)

	return &RawOutput{
		Scores:      tensor.New(tensor.WithShape(o.anchors, 1), tensor.WithBacking(scores)),
		Regressions: tensor.New(tensor.WithShape(o.anchors, regressionWidth), tensor.WithBacking(regressions)),
	}, nil
}

// Close destroys the session.
func (o *onnxNetwork) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil
	}
	err := o.session.Close()
	o.session = nil
	return err
}
