// Package providers - Working precision and device support.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrUnsupportedPrecision is returned when a device cannot run the requested precision.
var ErrUnsupportedPrecision = errors.New("unsupported device/precision combination")

// Precision represents the numeric precision weights and activations are held in.
type Precision string

// Precision constants are the precisions a configuration may name.
const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP8  Precision = "FP8"
	PrecisionFP16 Precision = "FP16"
	PrecisionFP32 Precision = "FP32"
)

// ParsePrecision maps a case-insensitive name onto a Precision.
func ParsePrecision(s string) (Precision, error) {
	p := Precision(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PrecisionINT8, PrecisionFP8, PrecisionFP16, PrecisionFP32:
		return p, nil
	}
	return "", errors.Errorf("unknown precision %q", s)
}

// supported lists the precisions each backend can execute. FP16 on the CPU is
// emulated: values are rounded through IEEE half and computed in float32.
var supported = map[ProviderBackend][]Precision{
	CPUProviderBackend:      {PrecisionFP32, PrecisionFP16},
	CUDAProviderBackend:     {PrecisionFP32, PrecisionFP16},
	CoreMLProviderBackend:   {PrecisionFP32, PrecisionFP16},
	OpenVINOProviderBackend: {PrecisionFP32, PrecisionFP16},
}

// CheckPrecision verifies that the backend can run the given precision.
//
// Arguments:
//   - backend: The execution provider backend.
//   - precision: The working precision.
//
// Returns:
//   - error: ErrUnsupportedBackend for an unknown backend, ErrUnsupportedPrecision
//     when the pair cannot run.
func CheckPrecision(backend ProviderBackend, precision Precision) error {
	list, ok := supported[backend]
	if !ok {
		return errors.Wrapf(ErrUnsupportedBackend, "backend %q", backend)
	}
	for _, p := range list {
		if p == precision {
			return nil
		}
	}
	return errors.Wrapf(ErrUnsupportedPrecision, "%s on %s", precision, backend)
}

// Emulated reports whether the precision is emulated in float32 on the backend.
func Emulated(backend ProviderBackend, precision Precision) bool {
	return backend == CPUProviderBackend && precision == PrecisionFP16
}

// Round rounds every value in place to the nearest value representable in the
// precision. FP32 is left untouched.
//
// Arguments:
//   - precision: The working precision.
//   - values: The values to round.
func Round(precision Precision, values []float32) {
	if precision != PrecisionFP16 {
		return
	}
	for i, v := range values {
		values[i] = float16.Fromfloat32(v).Float32()
	}
}
