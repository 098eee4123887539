// Package blazeface - BlazeFace single-shot face detector: model profiles,
// weight and anchor loading, the forward pass and anchor decoding.
package blazeface

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-faces/inference/providers"
)

// Profile selects a BlazeFace variant. It fixes the input resolution, the
// anchor geometry and which files are loaded from the model directory.
type Profile string

const (
	// ProfileFront is the short-range model for selfie-style photos, 128x128 input.
	ProfileFront Profile = "front"
	// ProfileBack is the full-range model for rear camera photos, 256x256 input.
	ProfileBack Profile = "back"
)

// anchorCount is the same for both profiles: 2 anchors on a 16x16 grid plus
// 6 anchors on an 8x8 grid.
const anchorCount = 896

// ParseProfile maps a case-insensitive name onto a Profile.
//
// Arguments:
//   - s: "front" or "back".
//
// Returns:
//   - Profile: The profile.
//   - error: An error if the name is not a known profile.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate rejects values outside the closed set of profiles.
func (p Profile) Validate() error {
	switch p {
	case ProfileFront, ProfileBack:
		return nil
	}
	return errors.Errorf("unknown model profile %q", string(p))
}

// Resolution returns the side of the square model input in pixels.
func (p Profile) Resolution() int {
	if p == ProfileBack {
		return 256
	}
	return 128
}

// AnchorCount returns the number of anchors, scores and regressions.
func (p Profile) AnchorCount() int {
	return anchorCount
}

// WeightsFile returns the safetensors file name of the profile.
func (p Profile) WeightsFile() string {
	if p == ProfileBack {
		return "blazefaceback.safetensors"
	}
	return "blazeface.safetensors"
}

// AnchorsFile returns the npy anchor file name of the profile.
func (p Profile) AnchorsFile() string {
	if p == ProfileBack {
		return "anchorsback.npy"
	}
	return "anchors.npy"
}

// ONNXFile returns the exported ONNX graph file name of the profile.
func (p Profile) ONNXFile() string {
	if p == ProfileBack {
		return "blazefaceback.onnx"
	}
	return "blazeface.onnx"
}

func (p Profile) String() string {
	return string(p)
}

// Backend selects how the forward pass is computed.
type Backend string

const (
	// BackendAuto picks BackendNative on the CPU and BackendONNX otherwise.
	BackendAuto Backend = "auto"
	// BackendNative runs the network in Go from the safetensors weights. CPU only.
	BackendNative Backend = "native"
	// BackendONNX runs the exported ONNX graph through ONNX Runtime on any
	// execution provider.
	BackendONNX Backend = "onnx"
)

// ParseBackend maps a case-insensitive name onto a Backend. The empty string
// is BackendAuto.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendNative, BackendONNX:
		return b, nil
	}
	return "", errors.Wrapf(providers.ErrUnsupportedBackend, "model backend %q", s)
}

// Resolve returns the concrete backend for the execution provider.
//
// Arguments:
//   - device: The execution provider backend the model is loaded on.
//
// Returns:
//   - Backend: BackendNative or BackendONNX.
//   - error: ErrUnsupportedBackend when the native backend is asked to run on
//     an accelerator.
func (b Backend) Resolve(device providers.ProviderBackend) (Backend, error) {
	onCPU := device == providers.CPUProviderBackend || device == ""
	switch b {
	case BackendAuto, "":
		if onCPU {
			return BackendNative, nil
		}
		return BackendONNX, nil
	case BackendNative:
		if !onCPU {
			return "", errors.Wrapf(providers.ErrUnsupportedBackend,
				"native backend runs on cpu only, got %s", device)
		}
		return BackendNative, nil
	case BackendONNX:
		return BackendONNX, nil
	}
	return "", errors.Wrapf(providers.ErrUnsupportedBackend, "model backend %q", string(b))
}

// AnchorPrecision returns the precision the anchor table is rounded to. The
// native backend rounds weights and anchors to the working precision. An ONNX
// graph computes in the precision it was exported with and exchanges float32
// tensors, so its anchors stay float32.
func (b Backend) AnchorPrecision(working providers.Precision) providers.Precision {
	if b == BackendONNX {
		return providers.PrecisionFP32
	}
	return working
}
