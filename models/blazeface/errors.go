package blazeface

import "github.com/pkg/errors"

var (
	// ErrShapeMismatch is returned when a tensor does not have the shape the
	// profile requires: an input of the wrong resolution, a weight of the wrong
	// layer shape or an anchor table of the wrong length.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrMissingWeight is returned when the weight file lacks a tensor the
	// architecture needs.
	ErrMissingWeight = errors.New("missing weight")
	// ErrInvalidThreshold is returned for a score or suppression threshold
	// outside [0, 1].
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrMalformedContainer is returned for a weight or anchor file whose
	// binary layout cannot be parsed.
	ErrMalformedContainer = errors.New("malformed container")
)

func shapeError(what string, expected, actual []int) error {
	return errors.Wrapf(ErrShapeMismatch, "%s: expected %v, got %v", what, expected, actual)
}
