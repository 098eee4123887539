package blazeface

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-faces/inference/providers"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// LoadArgs represents the arguments for loading a model from a directory.
type LoadArgs struct {
	// BaseDir holds the weight, anchor and optional ONNX files.
	BaseDir string
	// Profile selects the model variant.
	Profile Profile
	// MinScoreThreshold discards candidates with a lower activated score.
	MinScoreThreshold float32
	// MinSuppressionThreshold is the IoU at or above which NMS suppresses.
	MinSuppressionThreshold float32
	// WeightedNMS blends overlapping candidates instead of dropping them.
	WeightedNMS bool
	// Provider selects the device and the working precision.
	Provider providers.Config
	// Backend selects the native or ONNX forward pass.
	Backend Backend
	// Workers bounds the goroutines of the native forward pass. 0 uses
	// Provider.CPU.Workers, then GOMAXPROCS.
	Workers int
	// Logger receives load and inference logs. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

func (a *LoadArgs) validate() error {
	if err := a.Profile.Validate(); err != nil {
		return err
	}
	if err := checkThreshold("min score threshold", a.MinScoreThreshold); err != nil {
		return err
	}
	if err := checkThreshold("min suppression threshold", a.MinSuppressionThreshold); err != nil {
		return err
	}
	if a.Provider.Backend == "" {
		a.Provider.Backend = providers.CPUProviderBackend
	}
	if a.Provider.Precision == "" {
		a.Provider.Precision = providers.PrecisionFP16
	}
	if a.Logger == nil {
		a.Logger = logrus.StandardLogger()
	}
	return a.Provider.Validate()
}

// Load reads the profile's files from the model directory and returns a
// ready-to-run model. No partially loaded model is ever returned.
//
// The native backend reads <weights>.safetensors; the ONNX backend reads
// <profile>.onnx. Both read the anchor table and check it holds exactly
// Profile.AnchorCount() rows.
//
// Arguments:
//   - args: The load arguments.
//
// Returns:
//   - *Model: The loaded model. The caller must Close it.
//   - error: A wrapped file error, ErrMalformedContainer, ErrShapeMismatch,
//     ErrMissingWeight, ErrInvalidThreshold, providers.ErrUnsupportedPrecision
//     or providers.ErrUnsupportedBackend.
//
// Example:
//
//	model, err := blazeface.Load(blazeface.LoadArgs{
//	    BaseDir:                 "./models",
//	    Profile:                 blazeface.ProfileFront,
//	    MinScoreThreshold:       0.75,
//	    MinSuppressionThreshold: 0.3,
//	    Provider:                providers.DefaultConfig(),
//	})
func Load(args LoadArgs) (*Model, error) {
	start := time.Now()
	if err := args.validate(); err != nil {
		return nil, err
	}

	backend, err := args.Backend.Resolve(args.Provider.Backend)
	if err != nil {
		return nil, err
	}

	p := args.Profile
	anchors, err := LoadAnchors(filepath.Join(args.BaseDir, p.AnchorsFile()), p.AnchorCount(), backend.AnchorPrecision(args.Provider.Precision))
	if err != nil {
		return nil, err
	}

	var network Network
	switch backend {
	case BackendNative:
		weights, err := LoadWeights(filepath.Join(args.BaseDir, p.WeightsFile()), args.Provider.Precision)
		if err != nil {
			return nil, err
		}
		workers := args.Workers
		if workers == 0 {
			workers = args.Provider.CPU.Workers
		}
		if network, err = NewNativeNetwork(p, weights, workers); err != nil {
			return nil, errors.Wrapf(err, "binding %s", p.WeightsFile())
		}
	case BackendONNX:
		provider, err := providers.NewProvider(args.Provider)
		if err != nil {
			return nil, err
		}
		if network, err = NewONNXNetwork(filepath.Join(args.BaseDir, p.ONNXFile()), p, provider, args.Provider); err != nil {
			return nil, err
		}
	}

	args.Backend = backend
	m, err := NewModel(network, anchors, args)
	if err != nil {
		network.Close()
		return nil, err
	}

	args.Logger.WithFields(logrus.Fields{
		"profile":   p,
		"backend":   backend,
		"device":    args.Provider.Backend,
		"precision": args.Provider.Precision,
		"emulated":  providers.Emulated(args.Provider.Backend, args.Provider.Precision),
		"anchors":   anchors.Len(),
		"elapsed":   time.Since(start).String(),
	}).Info("loaded blazeface model")
	return m, nil
}

// NewModel binds an already constructed network and anchor table. Load uses it
// after reading files; tests and embedders may pass their own Network.
//
// Arguments:
//   - network: The forward pass.
//   - anchors: The anchor table. It must have Profile.AnchorCount() rows.
//   - args: Profile, thresholds, NMS mode and logger. Files are not read.
//
// Returns:
//   - *Model: The model.
//   - error: ErrShapeMismatch or ErrInvalidThreshold.
func NewModel(network Network, anchors *Anchors, args LoadArgs) (*Model, error) {
	if network == nil || anchors == nil {
		return nil, errors.New("network and anchors are required")
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	if anchors.Len() != args.Profile.AnchorCount() {
		return nil, shapeError("anchors", []int{args.Profile.AnchorCount(), 4}, []int{anchors.Len(), 4})
	}

	decoder, err := NewDecoder(anchors, DecoderConfig{
		Scale:             DefaultScale,
		ScoreClip:         DefaultScoreClip,
		MinScoreThreshold: args.MinScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	backend := args.Backend
	if backend == "" {
		backend = BackendAuto
	}

	return &Model{
		profile:   args.Profile,
		backend:   backend,
		device:    args.Provider.Backend,
		precision: args.Provider.Precision,
		network:   network,
		anchors:   anchors,
		decoder:   decoder,
		nms: postprocess.NMSConfig{
			IoUThreshold: args.MinSuppressionThreshold,
			Weighted:     args.WeightedNMS,
		},
		logger: args.Logger.WithField("profile", args.Profile),
	}, nil
}
