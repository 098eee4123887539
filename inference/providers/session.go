// Package providers - Inference sessions.
package providers

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment loads the shared library and prepares the ONNX Runtime
// environment. It runs once per process; later calls return the first result.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return envErr
}

// TensorSpec names a model input or output and its fixed shape.
type TensorSpec struct {
	Name  string
	Shape []int64
}

// Session represents a model session from the onnxruntime with its bound
// input and output tensors.
//
// The tensors are bound to the session, so Run and the data accessors must not
// be used from more than one goroutine at a time.
type Session struct {
	Session *ort.AdvancedSession
	Inputs  []*ort.Tensor[float32]
	Outputs []*ort.Tensor[float32]
}

// Run executes the session over the current contents of the input tensors.
func (s *Session) Run() error {
	if s.Session == nil {
		return errors.New("session is closed")
	}
	return errors.Wrap(s.Session.Run(), "error running ORT session")
}

// Close releases the resources associated with the Session.
//
// Returns:
//   - error: An error if the native session could not be destroyed.
func (s *Session) Close() error {
	destroyTensors(s.Inputs)
	s.Inputs = nil
	destroyTensors(s.Outputs)
	s.Outputs = nil

	if s.Session != nil {
		err := s.Session.Destroy()
		s.Session = nil
		if err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
	}
	return nil
}

func destroyTensors(tensors []*ort.Tensor[float32]) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The inputs of the model.
	Inputs []TensorSpec
	// The outputs of the model.
	Outputs []TensorSpec
	// LibraryPath overrides the ONNX Runtime shared library location.
	LibraryPath string
	// IntraOpThreads and InterOpThreads tune runtime parallelism. 0 lets the
	// runtime decide.
	IntraOpThreads int
	InterOpThreads int
}

// NewSession creates a new ONNX Runtime session with preallocated input and
// output tensors, registering the execution provider on its options.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Tensor allocation: fixed-shape float32 buffers for every input and output.
//  3. Session options: threading, graph optimization level.
//  4. Execution provider: CoreML, OpenVINO or CUDA when configured.
//  5. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - provider: The provider for the session.
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session with its bound tensors. The caller must Close it.
//   - error: An error if the session creation fails.
func NewSession(provider ExecutionProvider, args NewSessionArgs) (*Session, error) {
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", args.ModelPath)
	}

	libPath, err := GetSharedLibPath(args.LibraryPath)
	if err != nil {
		return nil, err
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	s := &Session{}
	inputNames, inputs, err := allocate(args.Inputs)
	s.Inputs = inputs
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	outputNames, outputs, err := allocate(args.Outputs)
	s.Outputs = outputs
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := tune(options, args); err != nil {
		s.Close()
		return nil, err
	}
	if err := provider.Append(options); err != nil {
		s.Close()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		inputNames,
		outputNames,
		values(s.Inputs),
		values(s.Outputs),
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}
	s.Session = session

	return s, nil
}

func allocate(specs []TensorSpec) ([]string, []*ort.Tensor[float32], error) {
	names := make([]string, 0, len(specs))
	tensors := make([]*ort.Tensor[float32], 0, len(specs))
	for _, spec := range specs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			return names, tensors, errors.Wrapf(err, "tensor %q shape %v", spec.Name, spec.Shape)
		}
		names = append(names, spec.Name)
		tensors = append(tensors, t)
	}
	return names, tensors, nil
}

func tune(options *ort.SessionOptions, args NewSessionArgs) error {
	if args.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(args.IntraOpThreads); err != nil {
			return errors.Wrap(err, "error setting intra-op threads")
		}
	}
	if args.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(args.InterOpThreads); err != nil {
			return errors.Wrap(err, "error setting inter-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}
	return nil
}

func values(tensors []*ort.Tensor[float32]) []ort.Value {
	out := make([]ort.Value, len(tensors))
	for i, t := range tensors {
		out[i] = t
	}
	return out
}
