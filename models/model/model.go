// Package model - The detector contract shared by the inference engine, the
// HTTP service and the command line.
package model

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-faces/models/blazeface"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameBlazeFace is the name of the BlazeFace face detector.
	ModelNameBlazeFace Name = "blazeface"
)

// Detector turns one preprocessed (3, R, R) input tensor into final
// detections in normalized input coordinates. Implementations must be safe
// for concurrent use.
type Detector interface {
	Detect(input *tensor.Dense) ([]postprocess.Detection, error)
	Close() error
}

// Describer is implemented by detectors that can report how they were loaded.
type Describer interface {
	Info() blazeface.Info
}

var _ interface {
	Detector
	Describer
} = (*blazeface.Model)(nil)
