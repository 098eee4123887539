// Package inference - Face detection engine: decoding, preprocessing, the
// detector and projection back onto the source image.
package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-faces/images"
	"github.com/nvr-ai/go-faces/inference/providers"
	"github.com/nvr-ai/go-faces/models/blazeface"
	"github.com/nvr-ai/go-faces/models/model"
	"github.com/nvr-ai/go-faces/models/model/preprocess"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// Result holds the faces found in one image.
type Result struct {
	// Width and Height are the source image dimensions in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Detections are in source image pixel coordinates, highest score first.
	Detections []postprocess.Detection `json:"detections"`
	// Elapsed is the wall time spent on the image.
	Elapsed time.Duration `json:"-"`
}

// Engine runs face detection over decoded images, encoded bytes or files. It
// is safe for concurrent use.
type Engine struct {
	detector     model.Detector
	preprocessor *preprocess.Preprocessor
	workers      int
	logger       logrus.FieldLogger
	metrics      *Metrics
}

// EngineBuilder assembles an Engine with a fluent API. The first error stops
// every later step and is returned by Build.
type EngineBuilder struct {
	provider   *providers.Config
	detector   model.Detector
	resolution int
	resize     images.ResizeMode
	workers    int
	logger     logrus.FieldLogger
	err        error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{resize: images.ResizeFill}
}

// WithProvider sets the execution provider used by WithModel.
//
// Arguments:
//   - cfg: The device and precision configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(cfg providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.provider = &cfg
	return b
}

// WithModel loads a BlazeFace model and uses it as the detector. A provider
// set with WithProvider replaces args.Provider.
//
// Arguments:
//   - args: The model load arguments.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(args blazeface.LoadArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if b.provider != nil {
		args.Provider = *b.provider
	}
	if args.Logger == nil {
		args.Logger = b.logger
	}
	m, err := blazeface.Load(args)
	if err != nil {
		b.err = err
		return b
	}
	b.detector = m
	b.resolution = args.Profile.Resolution()
	return b
}

// WithDetector uses an already constructed detector.
//
// Arguments:
//   - detector: The detector.
//   - resolution: The side of the square tensor the detector expects.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithDetector(detector model.Detector, resolution int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.detector = detector
	b.resolution = resolution
	return b
}

// WithResize sets how images are brought to the model resolution.
func (b *EngineBuilder) WithResize(mode images.ResizeMode) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if mode == "" {
		return b
	}
	if err := mode.Validate(); err != nil {
		b.err = err
		return b
	}
	b.resize = mode
	return b
}

// WithWorkers bounds the number of files DetectFiles works on at once. 0 uses
// GOMAXPROCS.
func (b *EngineBuilder) WithWorkers(n int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if n < 0 {
		b.err = errors.Errorf("workers must not be negative, got %d", n)
		return b
	}
	b.workers = n
	return b
}

// WithLogger sets the logger of the engine and of models it loads.
func (b *EngineBuilder) WithLogger(logger logrus.FieldLogger) *EngineBuilder {
	b.logger = logger
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - *Engine: The engine.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine. The caller must Close it.
//   - error: The first error of the builder chain, or a missing detector.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.detector == nil {
		return nil, errors.New("detector not configured")
	}

	pre, err := preprocess.NewPreprocessor(preprocess.Config{Size: b.resolution, Resize: b.resize})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Engine{
		detector:     b.detector,
		preprocessor: pre,
		workers:      b.workers,
		logger:       logger,
		metrics:      &Metrics{},
	}, nil
}

// Detect finds faces in a decoded image.
//
// The context is checked before work starts; an inference already running is
// not interrupted.
//
// Arguments:
//   - ctx: The context for the call.
//   - img: The image.
//
// Returns:
//   - *Result: The faces in source pixel coordinates.
//   - error: The context error, or a preprocessing or detection error.
func (e *Engine) Detect(ctx context.Context, img image.Image) (*Result, error) {
	return e.run(ctx, func() (*preprocess.Result, error) {
		return e.preprocessor.PreprocessImage(img)
	})
}

// DetectBytes decodes an encoded image and finds faces in it.
func (e *Engine) DetectBytes(ctx context.Context, data []byte) (*Result, error) {
	return e.run(ctx, func() (*preprocess.Result, error) {
		return e.preprocessor.PreprocessBytes(data)
	})
}

// DetectFile reads, decodes and finds faces in an image file. Decoding errors
// wrap preprocess.ErrDecode and name the path.
func (e *Engine) DetectFile(ctx context.Context, path string) (*Result, error) {
	return e.run(ctx, func() (*preprocess.Result, error) {
		return e.preprocessor.PreprocessFile(path)
	})
}

func (e *Engine) run(ctx context.Context, prepare func() (*preprocess.Result, error)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	res, err := e.detect(prepare)
	elapsed := time.Since(start)

	faces := 0
	if res != nil {
		res.Elapsed = elapsed
		faces = len(res.Detections)
	}
	e.metrics.observe(elapsed, faces, err)
	return res, err
}

func (e *Engine) detect(prepare func() (*preprocess.Result, error)) (*Result, error) {
	in, err := prepare()
	if err != nil {
		return nil, err
	}

	detections, err := e.detector.Detect(in.Tensor)
	if err != nil {
		return nil, errors.Wrap(err, "detect")
	}

	projected := make([]postprocess.Detection, len(detections))
	for i, d := range detections {
		projected[i] = in.Project(d)
	}

	return &Result{
		Width:      in.OriginalWidth,
		Height:     in.OriginalHeight,
		Detections: projected,
	}, nil
}

// Info describes the detector when it can describe itself.
//
// Returns:
//   - blazeface.Info: The model description.
//   - bool: False if the detector does not implement model.Describer.
func (e *Engine) Info() (blazeface.Info, bool) {
	d, ok := e.detector.(model.Describer)
	if !ok {
		return blazeface.Info{}, false
	}
	return d.Info(), true
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close releases the detector.
func (e *Engine) Close() error {
	return e.detector.Close()
}
